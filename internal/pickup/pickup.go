package pickup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"aurora-dashboard/pkg/logger"
)

// Outcome classifies a fan-out by how many webhooks accepted the pickup.
type Outcome string

const (
	OutcomeFull    Outcome = "full"
	OutcomePartial Outcome = "partial"
	OutcomeNone    Outcome = "none"
)

var (
	ErrMissingCallID = errors.New("pickup: call id is required")
	ErrNoTargets     = errors.New("pickup: no webhook configured")
)

type Config struct {
	URLs       []string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Service hands a live call over to a human by notifying every pickup webhook.
type Service struct {
	urls []string
	http *http.Client
}

func NewService(cfg Config) *Service {
	s := &Service{http: cfg.HTTPClient}
	for _, u := range cfg.URLs {
		if u = strings.TrimSpace(u); u != "" {
			s.urls = append(s.urls, u)
		}
	}
	if s.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		s.http = &http.Client{Timeout: timeout}
	}
	return s
}

// Pickup posts {"call_id": callID} to all webhooks concurrently. Individual
// failures are logged on the logger carried by ctx and reflected in the
// outcome, never returned.
func (s *Service) Pickup(ctx context.Context, callID string) (Outcome, error) {
	log := logger.From(ctx)
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return OutcomeNone, ErrMissingCallID
	}
	if len(s.urls) == 0 {
		return OutcomeNone, ErrNoTargets
	}
	body, err := json.Marshal(map[string]string{"call_id": callID})
	if err != nil {
		return OutcomeNone, err
	}

	ok := make([]bool, len(s.urls))
	var g errgroup.Group
	for i, target := range s.urls {
		g.Go(func() error {
			if err := s.post(ctx, target, body); err != nil {
				log.Warn("pickup webhook failed", "call_id", callID, "url", target, "err", err)
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, v := range ok {
		if v {
			succeeded++
		}
	}
	outcome := classify(succeeded, len(s.urls))
	log.Info("pickup dispatched", "call_id", callID, "outcome", outcome, "succeeded", succeeded, "targets", len(s.urls))
	return outcome, nil
}

func classify(succeeded, total int) Outcome {
	switch {
	case succeeded == 0:
		return OutcomeNone
	case succeeded == total:
		return OutcomeFull
	default:
		return OutcomePartial
	}
}

func (s *Service) post(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
