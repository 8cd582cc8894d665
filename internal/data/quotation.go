package data

import (
	"context"
	"fmt"
	"time"

	pkgerrors "DataLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// QuotationStatus represents the database ENUM type for status.
type QuotationStatus string

// Quotation status constants.
const (
	QuotationDraft     QuotationStatus = "draft"
	QuotationPublished QuotationStatus = "published"
	QuotationExpired   QuotationStatus = "expired"
)

// Quotation is the GORM model for the quotations table.
type Quotation struct {
	ID        uint64          `gorm:"primaryKey;column:id" json:"id"`
	Symbol    string          `gorm:"column:symbol;size:32;not null;index" json:"symbol"`
	BidPrice  int64           `gorm:"column:bid_price;not null" json:"bid_price"`
	AskPrice  int64           `gorm:"column:ask_price;not null" json:"ask_price"`
	Status    QuotationStatus `gorm:"column:status;type:enum('draft','published','expired');default:'draft';not null" json:"status"`
	ExpiresAt *time.Time      `gorm:"column:expires_at" json:"expires_at,omitempty"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Quotation) TableName() string {
	return "quotations"
}

// QuotationRepo persists quotations through the query router: writes and
// read-your-writes lookups use the primary, plain lookups are eligible for
// the replica.
type QuotationRepo struct {
	router Queryer
	logger *log.Helper
}

// NewQuotationRepo creates the quotation repository.
func NewQuotationRepo(router Queryer, l log.Logger) *QuotationRepo {
	return &QuotationRepo{
		router: router,
		logger: log.NewHelper(l),
	}
}

// Create inserts a quotation on the primary.
func (r *QuotationRepo) Create(ctx context.Context, q *Quotation) error {
	err := r.router.Write(ctx, func(db *gorm.DB) error {
		return db.WithContext(ctx).Create(q).Error
	})
	if err != nil {
		if pkgerrors.IsDuplicateKey(err) {
			return fmt.Errorf("quotation already exists: %w", err)
		}
		return fmt.Errorf("failed to create quotation: %w", err)
	}
	return nil
}

// GetByID loads a quotation, served from the replica when healthy.
func (r *QuotationRepo) GetByID(ctx context.Context, id uint64) (*Quotation, error) {
	var q Quotation
	err := r.router.Read(ctx, func(db *gorm.DB) error {
		return db.WithContext(ctx).First(&q, id).Error
	})
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return nil, fmt.Errorf("quotation %d not found: %w", id, err)
		}
		return nil, fmt.Errorf("failed to load quotation %d: %w", id, err)
	}
	return &q, nil
}

// GetByIDFresh loads a quotation from the primary, for callers that just
// wrote it and must not observe replication lag.
func (r *QuotationRepo) GetByIDFresh(ctx context.Context, id uint64) (*Quotation, error) {
	var q Quotation
	err := r.router.ReadPrimary(ctx, func(db *gorm.DB) error {
		return db.WithContext(ctx).First(&q, id).Error
	})
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return nil, fmt.Errorf("quotation %d not found: %w", id, err)
		}
		return nil, fmt.Errorf("failed to load quotation %d: %w", id, err)
	}
	return &q, nil
}

// ListBySymbol returns the most recent quotations for a symbol, replica
// eligible.
func (r *QuotationRepo) ListBySymbol(ctx context.Context, symbol string, limit int) ([]*Quotation, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var quotations []*Quotation
	err := r.router.Read(ctx, func(db *gorm.DB) error {
		return db.WithContext(ctx).
			Where("symbol = ?", symbol).
			Order("created_at DESC").
			Limit(limit).
			Find(&quotations).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list quotations for %s: %w", symbol, err)
	}
	return quotations, nil
}

// ListByStatus returns quotations in a given status, replica eligible.
func (r *QuotationRepo) ListByStatus(ctx context.Context, status QuotationStatus, limit int) ([]*Quotation, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var quotations []*Quotation
	err := r.router.Read(ctx, func(db *gorm.DB) error {
		return db.WithContext(ctx).
			Where("status = ?", status).
			Order("created_at DESC").
			Limit(limit).
			Find(&quotations).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s quotations: %w", status, err)
	}
	return quotations, nil
}

// UpdateStatus transitions a quotation to a new status on the primary.
func (r *QuotationRepo) UpdateStatus(ctx context.Context, id uint64, status QuotationStatus) error {
	err := r.router.Write(ctx, func(db *gorm.DB) error {
		result := db.WithContext(ctx).
			Model(&Quotation{}).
			Where("id = ?", id).
			Update("status", status)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return fmt.Errorf("quotation %d not found: %w", id, err)
		}
		return fmt.Errorf("failed to update quotation %d status: %w", id, err)
	}
	return nil
}

// ExpireStale marks published quotations past their expiry as expired.
// Runs on the primary from the periodic maintenance job.
func (r *QuotationRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	var affected int64
	err := r.router.Write(ctx, func(db *gorm.DB) error {
		result := db.WithContext(ctx).
			Model(&Quotation{}).
			Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", QuotationPublished, now).
			Update("status", QuotationExpired)
		affected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale quotations: %w", err)
	}
	if affected > 0 {
		r.logger.Infow("msg", "expired stale quotations", "count", affected)
	}
	return affected, nil
}
