package handlers

import (
	"context"
	"net/http"

	"github.com/wonny/orderdesk/backend/pkg/logger"
)

// MarketCalendar answers market clock questions
type MarketCalendar interface {
	NextCloseDate(ctx context.Context) (string, error)
	IsNextCloseToday(ctx context.Context) (bool, error)
}

// MarketHandler handles market clock endpoints
type MarketHandler struct {
	calendar MarketCalendar
	logger   *logger.Logger
}

// NewMarketHandler creates a new market handler
func NewMarketHandler(calendar MarketCalendar, log *logger.Logger) *MarketHandler {
	return &MarketHandler{
		calendar: calendar,
		logger:   log,
	}
}

// NextCloseDate returns the date of the next market close
// GET /api/market/next_close_date
func (h *MarketHandler) NextCloseDate(w http.ResponseWriter, r *http.Request) {
	date, err := h.calendar.NextCloseDate(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get next close date")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve market clock")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"date": date})
}

// IsNextCloseToday reports whether the market closes today
// GET /api/market/is_next_close_today
func (h *MarketHandler) IsNextCloseToday(w http.ResponseWriter, r *http.Request) {
	today, err := h.calendar.IsNextCloseToday(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get market clock")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve market clock")
		return
	}

	respondJSON(w, http.StatusOK, today)
}
