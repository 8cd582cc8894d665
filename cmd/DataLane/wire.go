//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"DataLane/internal/biz"
	"DataLane/internal/conf"
	"DataLane/internal/data"
	"DataLane/internal/metrics"
	"DataLane/internal/server"
	"DataLane/internal/service"
	"DataLane/pkg/breaker"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Breaker, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		breaker.NewRegistry,
		metrics.NewCollector,
		wire.Bind(new(metrics.Recorder), new(*metrics.Collector)),
		newMaintenanceCron,
		newApp,
	))
}
