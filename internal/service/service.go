// Package service exposes the HTTP surface: the quotation API and the
// operational admin endpoints.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewQuotationService,
	NewStatusService,
)
