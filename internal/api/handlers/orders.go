package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wonny/orderdesk/backend/internal/contracts"
	"github.com/wonny/orderdesk/backend/internal/orders"
	"github.com/wonny/orderdesk/backend/pkg/logger"
)

// OrderService is the collaborator surface the handlers need
type OrderService interface {
	List(ctx context.Context) ([]*contracts.Order, error)
	Get(ctx context.Context, id int64) (*contracts.Order, error)
	Create(ctx context.Context, in contracts.OrderCreate) (*contracts.Order, error)
	SyncAll(ctx context.Context) (*orders.SyncSummary, error)
}

// OrderView is an order with its derived display state
type OrderView struct {
	*contracts.Order
	DisplayStatus contracts.DisplayStatus `json:"display_status"`
	Busy          orders.Action           `json:"busy"`
}

// ActionResponse is the body of a sync or delete reply
type ActionResponse struct {
	OrderID int64          `json:"order_id"`
	Action  orders.Action  `json:"action"`
	Outcome orders.Outcome `json:"outcome"`
	Message string         `json:"message"`
	Order   *OrderView     `json:"order,omitempty"`
}

// CreateOrderRequest is the POST /api/orders body.
// Amount is kept raw so that numbers and strings both reach validation.
type CreateOrderRequest struct {
	Symbol string          `json:"symbol"`
	Amount json.RawMessage `json:"amount"`
}

// AmountText returns the amount as entered: "" when absent or null, unquoted when a string
func (r CreateOrderRequest) AmountText() string {
	raw := bytes.TrimSpace(r.Amount)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}

// OrderHandler handles order API endpoints
// ⭐ SSOT: 주문 API 핸들러는 이 구조체에서만
type OrderHandler struct {
	service     OrderService
	coordinator *orders.Coordinator
	logger      *logger.Logger
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(service OrderService, coordinator *orders.Coordinator, log *logger.Logger) *OrderHandler {
	return &OrderHandler{
		service:     service,
		coordinator: coordinator,
		logger:      log,
	}
}

func (h *OrderHandler) view(o *contracts.Order) *OrderView {
	return &OrderView{
		Order:         o,
		DisplayStatus: orders.Classify(o),
		Busy:          h.coordinator.IsBusy(o.ID),
	}
}

// List returns alive orders with their display status
// GET /api/orders
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list orders")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve orders")
		return
	}

	views := make([]*OrderView, len(list))
	for i, o := range list {
		views[i] = h.view(o)
	}

	respondJSON(w, http.StatusOK, views)
}

// Get returns one order
// GET /api/orders/{id}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	o, err := h.service.Get(r.Context(), id)
	if errors.Is(err, orders.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Order not found.")
		return
	}
	if err != nil {
		h.logger.WithOrder(id).WithError(err).Error("Failed to get order")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve order")
		return
	}

	respondJSON(w, http.StatusOK, h.view(o))
}

// Create validates and places a new order
// POST /api/orders
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	in, verrs := orders.ValidateCreate(orders.CreateCandidate{
		Symbol: req.Symbol,
		Amount: req.AmountText(),
	})
	if len(verrs) > 0 {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"errors": verrs,
		})
		return
	}

	o, err := h.service.Create(r.Context(), in)
	if err != nil {
		var ve orders.ValidationErrors
		if errors.As(err, &ve) {
			respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"errors": ve,
			})
			return
		}
		h.logger.WithError(err).WithField("symbol", in.Symbol).Error("Failed to create order")
		respondError(w, http.StatusInternalServerError, "Failed to create order. Please try again.")
		return
	}

	respondJSON(w, http.StatusCreated, h.view(o))
}

// Sync reconciles one order with the brokerage
// POST /api/orders/{id}/sync
func (h *OrderHandler) Sync(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	res, err := h.coordinator.RequestSync(r.Context(), id)
	h.respondAction(w, id, orders.ActionSyncing, res, err)
}

// Delete removes one order
// DELETE /api/orders/{id}
func (h *OrderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	res, err := h.coordinator.RequestDelete(r.Context(), id)
	h.respondAction(w, id, orders.ActionDeleting, res, err)
}

func (h *OrderHandler) respondAction(w http.ResponseWriter, id int64, action orders.Action, res orders.ActionResult, err error) {
	if errors.Is(err, orders.ErrActionInFlight) {
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "Another action is already in progress for this order.",
			"busy":  h.coordinator.IsBusy(id),
		})
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := res.HTTPStatus()
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}

	body := ActionResponse{
		OrderID: id,
		Action:  action,
		Outcome: res.Outcome,
		Message: res.Message(),
	}
	if res.Order != nil {
		body.Order = h.view(res.Order)
	}
	respondJSON(w, status, body)
}

// SyncAll reconciles every open order
// POST /api/orders/sync
func (h *OrderHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.SyncAll(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to sync orders")
		respondError(w, http.StatusInternalServerError, "Failed to synchronize orders")
		return
	}

	respondJSON(w, http.StatusOK, summary)
}
