package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"basis/internal/domain/hedge"
	hedgesvc "basis/internal/services/hedge"
	"basis/pkg/errors"
	"basis/pkg/logger"
)

// Handler serves the hedge lifecycle API. Authentication happens upstream;
// the gateway injects the caller identity via the X-User-ID header.
type Handler struct {
	service *hedgesvc.Service
	log     *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(service *hedgesvc.Service) *Handler {
	return &Handler{
		service: service,
		log:     logger.Get().With("component", "http_handler"),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type openHedgeRequest struct {
	Symbol            string  `json:"symbol"`
	LongExchange      string  `json:"long_exchange"`
	ShortExchange     string  `json:"short_exchange"`
	Quantity          string  `json:"quantity"`
	LongLeverage      int     `json:"long_leverage"`
	ShortLeverage     int     `json:"short_leverage"`
	StopLossPercent   *string `json:"stop_loss_percent,omitempty"`
	TakeProfitPercent *string `json:"take_profit_percent,omitempty"`
	GroupID           *string `json:"group_id,omitempty"`
}

type closeHedgeRequest struct {
	Reason string `json:"reason"`
}

// Open handles POST /v1/hedges
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req openHedgeRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid quantity"})
		return
	}

	open := hedgesvc.OpenRequest{
		UserID:        userID,
		Symbol:        req.Symbol,
		LongExchange:  req.LongExchange,
		ShortExchange: req.ShortExchange,
		Quantity:      quantity,
		LongLeverage:  req.LongLeverage,
		ShortLeverage: req.ShortLeverage,
		IPAddress:     r.RemoteAddr,
	}

	if req.StopLossPercent != nil {
		pct, err := decimal.NewFromString(*req.StopLossPercent)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid stop_loss_percent"})
			return
		}
		open.StopLossEnabled = true
		open.StopLossPercent = decimal.NullDecimal{Decimal: pct, Valid: true}
	}
	if req.TakeProfitPercent != nil {
		pct, err := decimal.NewFromString(*req.TakeProfitPercent)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid take_profit_percent"})
			return
		}
		open.TakeProfitEnabled = true
		open.TakeProfitPercent = decimal.NullDecimal{Decimal: pct, Valid: true}
	}
	if req.GroupID != nil {
		groupID, err := uuid.Parse(*req.GroupID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid group_id"})
			return
		}
		open.GroupID = &groupID
	}

	position, err := h.service.OpenPosition(r.Context(), open)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, position)
}

// Close handles POST /v1/hedges/{id}/close
func (h *Handler) Close(w http.ResponseWriter, r *http.Request, positionID string) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(positionID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid position id"})
		return
	}

	var req closeHedgeRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := h.service.ClosePosition(r.Context(), hedgesvc.CloseRequest{
		UserID:     userID,
		PositionID: id,
		Reason:     req.Reason,
		IPAddress:  r.RemoteAddr,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, closeStatus(result), result)
}

// closeStatus picks the response code for a close outcome. A partial close
// settled one leg and failed the other, so the response is multi-status
// rather than a plain success.
func closeStatus(result *hedgesvc.CloseResult) int {
	if result.Success {
		return http.StatusOK
	}
	return http.StatusMultiStatus
}

// List handles GET /v1/hedges, optionally filtered by ?status=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	statuses := make([]hedge.Status, 0)
	for _, raw := range r.URL.Query()["status"] {
		status := hedge.Status(raw)
		if !status.Valid() {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid status: " + raw})
			return
		}
		statuses = append(statuses, status)
	}

	groups, err := h.service.GetGroupedPositions(r.Context(), userID, statuses...)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, groups)
}

// writeError maps the error taxonomy onto HTTP status codes
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var rollback *hedge.RollbackFailedError
	if errors.As(err, &rollback) {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":                        "rollback failed, manual intervention required",
			"exchange":                     rollback.Exchange,
			"order_id":                     rollback.OrderID,
			"side":                         rollback.Side.String(),
			"quantity":                     rollback.Quantity.String(),
			"requires_manual_intervention": true,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrPositionNotFound), errors.Is(err, errors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrLockConflict),
		errors.Is(err, errors.ErrPositionNotOpen),
		errors.Is(err, errors.ErrPartialTerminal):
		status = http.StatusConflict
	case errors.Is(err, errors.ErrInsufficientBalance),
		errors.Is(err, errors.ErrOrderRejected),
		errors.Is(err, errors.ErrInvalidSymbol):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, errors.ErrRateLimitExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, errors.ErrTimeout), errors.Is(err, errors.ErrExchangeUnavailable):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.log.Errorw("Unhandled API error", "error", err)
	}

	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return uuid.Nil, false
	}
	return userID, true
}

func readJSON(r *http.Request, dest interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
