package synclog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultListLimit = 20

var ErrInvalidRun = errors.New("synclog: invalid run")

// Repo stores sync runs through GORM.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

// OpenPostgres wraps an existing database/sql pool so the run history shares
// the connection pool used by the rest of the service.
func OpenPostgres(db *sql.DB) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("synclog: open gorm: %w", err)
	}
	return gdb, nil
}

// AutoMigrate creates the sync_runs table when it is missing.
func (r *Repo) AutoMigrate() error {
	return r.db.AutoMigrate(&Run{})
}

func (r *Repo) Record(ctx context.Context, run Run) error {
	if run.CustomerID == 0 || run.Status == "" || run.Trigger == "" {
		return ErrInvalidRun
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("synclog: record run: %w", err)
	}
	return nil
}

// Recent returns the newest runs for a customer.
func (r *Repo) Recent(ctx context.Context, customerID int64, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var out []Run
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("synclog: list runs: %w", err)
	}
	return out, nil
}

// LastSuccess returns the newest run that finished ok or partial.
func (r *Repo) LastSuccess(ctx context.Context, customerID int64) (Run, bool, error) {
	var run Run
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status IN ?", customerID, []string{string(StatusOK), string(StatusPartial)}).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("synclog: last success: %w", err)
	}
	return run, true, nil
}
