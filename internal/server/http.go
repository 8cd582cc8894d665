// Package server assembles the HTTP transport.
package server

import (
	"DataLane/internal/conf"
	"DataLane/internal/server/middleware"
	"DataLane/internal/service"
	pkglog "DataLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer creates the HTTP server with the quotation API under /v1
// and the operational endpoints under /admin.
func NewHTTPServer(c *conf.Server, quotations *service.QuotationService, status *service.StatusService, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	quotations.RegisterRoutes(srv.Route("/v1"))
	status.RegisterRoutes(srv.Route("/admin"))

	return srv
}
