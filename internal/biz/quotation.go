package biz

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"DataLane/internal/data"
	"DataLane/pkg/breaker"

	"github.com/go-kratos/kratos/v2/log"
)

// cacheBreakerName identifies the breaker guarding Redis cache lookups so a
// degraded Redis cannot slow down the read path.
const cacheBreakerName = "redis-cache"

// QuotationRepo defines the quotation repository interface. Interfaces are
// defined in the biz layer; the implementation lives in data.QuotationRepo.
type QuotationRepo interface {
	Create(ctx context.Context, q *data.Quotation) error
	GetByID(ctx context.Context, id uint64) (*data.Quotation, error)
	GetByIDFresh(ctx context.Context, id uint64) (*data.Quotation, error)
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]*data.Quotation, error)
	ListByStatus(ctx context.Context, status data.QuotationStatus, limit int) ([]*data.Quotation, error)
	UpdateStatus(ctx context.Context, id uint64, status data.QuotationStatus) error
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

// QuotationUseCase implements quotation business logic. Reads go through a
// cache-aside layer whose Redis access is guarded by a circuit breaker:
// when Redis misbehaves the breaker opens and reads fall through to the
// database without paying the Redis timeout on every call.
type QuotationUseCase struct {
	repo         QuotationRepo
	cache        data.CacheClient
	cacheBreaker *breaker.CircuitBreaker
	logger       *log.Helper
}

// cacheOp is a cache operation dispatched through the shared cache breaker.
type cacheOp func(ctx context.Context) (any, error)

// NewQuotationUseCase creates the quotation use case.
func NewQuotationUseCase(repo QuotationRepo, cache data.CacheClient, registry *breaker.Registry, l log.Logger) (*QuotationUseCase, error) {
	action := func(ctx context.Context, args ...any) (any, error) {
		return args[0].(cacheOp)(ctx)
	}
	cb, err := registry.GetOrCreate(cacheBreakerName, action, breaker.Options{
		Timeout:                  time.Second,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             15 * time.Second,
		VolumeThreshold:          5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache breaker: %w", err)
	}
	return &QuotationUseCase{
		repo:         repo,
		cache:        cache,
		cacheBreaker: cb,
		logger:       log.NewHelper(l),
	}, nil
}

// CreateQuotation persists a new quotation and returns it re-read from the
// primary, so the caller observes exactly what was committed.
func (uc *QuotationUseCase) CreateQuotation(ctx context.Context, q *data.Quotation) (*data.Quotation, error) {
	if q.Symbol == "" {
		return nil, fmt.Errorf("quotation symbol is required")
	}
	if q.BidPrice <= 0 || q.AskPrice <= 0 {
		return nil, fmt.Errorf("quotation prices must be positive")
	}
	if q.Status == "" {
		q.Status = data.QuotationDraft
	}

	if err := uc.repo.Create(ctx, q); err != nil {
		return nil, err
	}
	return uc.repo.GetByIDFresh(ctx, q.ID)
}

// GetQuotation loads a quotation, cache first. Cache failures of any kind
// degrade to a database read.
func (uc *QuotationUseCase) GetQuotation(ctx context.Context, id uint64) (*data.Quotation, error) {
	key := data.BuildCacheKey(data.CacheKeyQuotation, strconv.FormatUint(id, 10))

	cached, err := uc.cacheBreaker.Fire(ctx, cacheOp(func(ctx context.Context) (any, error) {
		var q data.Quotation
		err := uc.cache.Get(ctx, key, &q)
		if errors.Is(err, data.ErrCacheNotFound) {
			// A miss is a successful lookup, not a Redis failure.
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &q, nil
	}))
	if err == nil {
		if q, ok := cached.(*data.Quotation); ok && q != nil {
			return q, nil
		}
	}

	q, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	uc.storeInCache(ctx, key, q)
	return q, nil
}

// GetQuotationFresh loads a quotation from the primary, bypassing both the
// cache and the replica.
func (uc *QuotationUseCase) GetQuotationFresh(ctx context.Context, id uint64) (*data.Quotation, error) {
	return uc.repo.GetByIDFresh(ctx, id)
}

// PublishQuotation transitions a quotation to published and drops its cache
// entry so stale drafts are never served.
func (uc *QuotationUseCase) PublishQuotation(ctx context.Context, id uint64) error {
	if err := uc.repo.UpdateStatus(ctx, id, data.QuotationPublished); err != nil {
		return err
	}
	uc.dropFromCache(ctx, id)
	return nil
}

// ListPublished returns recent published quotations.
func (uc *QuotationUseCase) ListPublished(ctx context.Context, limit int) ([]*data.Quotation, error) {
	return uc.repo.ListByStatus(ctx, data.QuotationPublished, limit)
}

// ListBySymbol returns recent quotations for a symbol.
func (uc *QuotationUseCase) ListBySymbol(ctx context.Context, symbol string, limit int) ([]*data.Quotation, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	return uc.repo.ListBySymbol(ctx, symbol, limit)
}

// ExpireStale marks overdue published quotations as expired. Invoked by the
// periodic maintenance job.
func (uc *QuotationUseCase) ExpireStale(ctx context.Context) (int64, error) {
	return uc.repo.ExpireStale(ctx, time.Now())
}

func (uc *QuotationUseCase) storeInCache(ctx context.Context, key string, q *data.Quotation) {
	_, err := uc.cacheBreaker.Fire(ctx, cacheOp(func(ctx context.Context) (any, error) {
		return nil, uc.cache.Set(ctx, key, q, data.TTLQuotation)
	}))
	if err != nil && !breaker.IsOpenError(err) {
		uc.logger.Debugw("msg", "failed to cache quotation", "key", key, "error", err)
	}
}

func (uc *QuotationUseCase) dropFromCache(ctx context.Context, id uint64) {
	key := data.BuildCacheKey(data.CacheKeyQuotation, strconv.FormatUint(id, 10))
	_, err := uc.cacheBreaker.Fire(ctx, cacheOp(func(ctx context.Context) (any, error) {
		return nil, uc.cache.Delete(ctx, key)
	}))
	if err != nil && !breaker.IsOpenError(err) {
		uc.logger.Warnw("msg", "failed to invalidate quotation cache", "key", key, "error", err)
	}
}
