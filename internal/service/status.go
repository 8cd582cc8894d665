package service

import (
	"DataLane/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// StatusService serves the operational admin endpoints: aggregate status,
// replica health, breaker introspection, and manual breaker resets.
type StatusService struct {
	uc     *biz.StatusUseCase
	logger *log.Helper
}

// NewStatusService creates the status service.
func NewStatusService(uc *biz.StatusUseCase, logger log.Logger) *StatusService {
	return &StatusService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the admin endpoints on the given route group.
func (s *StatusService) RegisterRoutes(r *http.Router) {
	r.GET("/status", s.Status)
	r.GET("/replica", s.ReplicaHealth)
	r.POST("/replica/refresh", s.RefreshReplica)
	r.POST("/replica/reset", s.ResetReplicaBreaker)
	r.GET("/breakers", s.Breakers)
	r.POST("/breakers/{name}/reset", s.ResetBreaker)
	r.GET("/metrics", s.Metrics)
}

// Status returns the aggregate health snapshot.
func (s *StatusService) Status(ctx http.Context) error {
	return ctx.Result(200, s.uc.Snapshot(ctx.Request().Context()))
}

// ReplicaHealth returns the cached replica view.
func (s *StatusService) ReplicaHealth(ctx http.Context) error {
	return ctx.Result(200, s.uc.ReplicaHealth(ctx.Request().Context(), false))
}

// RefreshReplica probes the replica immediately, bypassing the lag cache.
func (s *StatusService) RefreshReplica(ctx http.Context) error {
	s.logger.Info("replica health refresh requested")
	return ctx.Result(200, s.uc.ReplicaHealth(ctx.Request().Context(), true))
}

// ResetReplicaBreaker forces the replica circuit breaker closed and returns
// the refreshed replica view.
func (s *StatusService) ResetReplicaBreaker(ctx http.Context) error {
	s.logger.Warn("manual replica circuit breaker reset requested")
	return ctx.Result(200, s.uc.ResetReplicaBreaker(ctx.Request().Context()))
}

// Breakers returns the state of every registered circuit breaker.
func (s *StatusService) Breakers(ctx http.Context) error {
	return ctx.Result(200, s.uc.Breakers())
}

// ResetBreaker resets one named registry breaker.
func (s *StatusService) ResetBreaker(ctx http.Context) error {
	name := ctx.Vars().Get("name")
	if !s.uc.ResetNamedBreaker(name) {
		return ctx.Result(404, map[string]string{"error": "unknown breaker: " + name})
	}
	s.logger.Warnw("msg", "circuit breaker manually reset", "breaker", name)
	return ctx.Result(200, s.uc.Breakers())
}

// Metrics returns per-target database query counters.
func (s *StatusService) Metrics(ctx http.Context) error {
	return ctx.Result(200, s.uc.DatabaseMetrics())
}
