// Package biz contains business logic layer implementations.
package biz

import (
	"DataLane/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewQuotationUseCase,
	NewStatusUseCase,
	wire.Bind(new(QuotationRepo), new(*data.QuotationRepo)),
)
