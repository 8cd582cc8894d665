package service

import (
	"strconv"

	"DataLane/internal/biz"
	"DataLane/internal/data"
	pkgerrors "DataLane/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// QuotationService serves the quotation CRUD endpoints.
type QuotationService struct {
	uc     *biz.QuotationUseCase
	logger *log.Helper
}

// NewQuotationService creates the quotation service.
func NewQuotationService(uc *biz.QuotationUseCase, logger log.Logger) *QuotationService {
	return &QuotationService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// RegisterRoutes mounts the quotation endpoints on the given route group.
func (s *QuotationService) RegisterRoutes(r *http.Router) {
	r.POST("/quotations", s.Create)
	r.GET("/quotations/{id}", s.Get)
	r.GET("/quotations/{id}/fresh", s.GetFresh)
	r.GET("/quotations", s.List)
	r.POST("/quotations/{id}/publish", s.Publish)
}

type createQuotationRequest struct {
	Symbol   string `json:"symbol"`
	BidPrice int64  `json:"bid_price"`
	AskPrice int64  `json:"ask_price"`
}

// Create inserts a new draft quotation.
func (s *QuotationService) Create(ctx http.Context) error {
	var req createQuotationRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.Result(400, map[string]string{"error": "invalid request body"})
	}

	q, err := s.uc.CreateQuotation(ctx.Request().Context(), &data.Quotation{
		Symbol:   req.Symbol,
		BidPrice: req.BidPrice,
		AskPrice: req.AskPrice,
	})
	if err != nil {
		if pkgerrors.IsDuplicateKey(err) {
			return ctx.Result(409, map[string]string{"error": err.Error()})
		}
		s.logger.Errorw("msg", "failed to create quotation", "error", err)
		return ctx.Result(400, map[string]string{"error": err.Error()})
	}
	return ctx.Result(201, q)
}

// Get loads a quotation by ID, replica eligible.
func (s *QuotationService) Get(ctx http.Context) error {
	id, err := parseID(ctx)
	if err != nil {
		return ctx.Result(400, map[string]string{"error": "invalid quotation id"})
	}

	q, err := s.uc.GetQuotation(ctx.Request().Context(), id)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return ctx.Result(404, map[string]string{"error": "quotation not found"})
		}
		s.logger.Errorw("msg", "failed to load quotation", "id", id, "error", err)
		return ctx.Result(500, map[string]string{"error": "internal error"})
	}
	return ctx.Result(200, q)
}

// GetFresh loads a quotation from the primary, bypassing the replica.
func (s *QuotationService) GetFresh(ctx http.Context) error {
	id, err := parseID(ctx)
	if err != nil {
		return ctx.Result(400, map[string]string{"error": "invalid quotation id"})
	}

	q, err := s.uc.GetQuotationFresh(ctx.Request().Context(), id)
	if err != nil {
		if pkgerrors.IsNotFound(err) {
			return ctx.Result(404, map[string]string{"error": "quotation not found"})
		}
		s.logger.Errorw("msg", "failed to load quotation", "id", id, "error", err)
		return ctx.Result(500, map[string]string{"error": "internal error"})
	}
	return ctx.Result(200, q)
}

// List returns recent quotations, filtered by symbol or defaulting to
// published ones.
func (s *QuotationService) List(ctx http.Context) error {
	query := ctx.Request().URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))

	var (
		quotations []*data.Quotation
		err        error
	)
	if symbol := query.Get("symbol"); symbol != "" {
		quotations, err = s.uc.ListBySymbol(ctx.Request().Context(), symbol, limit)
	} else {
		quotations, err = s.uc.ListPublished(ctx.Request().Context(), limit)
	}
	if err != nil {
		s.logger.Errorw("msg", "failed to list quotations", "error", err)
		return ctx.Result(500, map[string]string{"error": "internal error"})
	}
	if quotations == nil {
		quotations = []*data.Quotation{}
	}
	return ctx.Result(200, quotations)
}

// Publish transitions a quotation to published.
func (s *QuotationService) Publish(ctx http.Context) error {
	id, err := parseID(ctx)
	if err != nil {
		return ctx.Result(400, map[string]string{"error": "invalid quotation id"})
	}

	if err := s.uc.PublishQuotation(ctx.Request().Context(), id); err != nil {
		if pkgerrors.IsNotFound(err) {
			return ctx.Result(404, map[string]string{"error": "quotation not found"})
		}
		s.logger.Errorw("msg", "failed to publish quotation", "id", id, "error", err)
		return ctx.Result(500, map[string]string{"error": "internal error"})
	}
	return ctx.Result(200, map[string]string{"status": "published"})
}

func parseID(ctx http.Context) (uint64, error) {
	return strconv.ParseUint(ctx.Vars().Get("id"), 10, 64)
}
