package orders_api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/BearBump/TradeBox/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/ulule/limiter/v3"
)

const (
	HeaderUserID = "X-User-ID"
	HeaderActor  = "X-Actor"
)

type OrderService interface {
	CreateOrder(ctx context.Context, payload models.OrderSubmission, ownerID *string) (models.CreatedOrder, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrders(ctx context.Context, limit int, cursor string) ([]models.Order, string, error)
	ListUserOrders(ctx context.Context, ownerID string, limit int, cursor string) ([]models.Order, string, error)
	UpdateStatus(ctx context.Context, id string, upd models.StatusUpdate, actor string) (*models.Order, error)
}

type LabelService interface {
	CreateLabel(ctx context.Context, order *models.Order, kind models.LabelKind, actor string) (models.Label, error)
}

type AuditLog interface {
	List(ctx context.Context, limit int, cursor string) ([]models.AuditEntry, string, error)
}

type OrdersAPI struct {
	orders OrderService
	labels LabelService
	audit  AuditLog
	submit *limiter.Limiter
}

// New собирает HTTP-слой. submit может быть nil, тогда POST /orders без лимита.
func New(orders OrderService, labels LabelService, audit AuditLog, submit *limiter.Limiter) *OrdersAPI {
	return &OrdersAPI{orders: orders, labels: labels, audit: audit, submit: submit}
}

// Routes returns the /api/v1 subtree.
func (a *OrdersAPI) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(RateLimit(a.submit)).Post("/orders", a.createOrder)
	r.Get("/orders", a.listOrders)
	r.Get("/orders/{id}", a.getOrder)
	r.Post("/orders/{id}/status", a.updateStatus)
	r.Post("/orders/{id}/labels", a.createLabel)
	r.Get("/users/{userId}/orders", a.listUserOrders)
	r.Get("/audit-logs", a.listAuditLogs)

	return r
}

type listResponse[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type labelRequest struct {
	Kind models.LabelKind `json:"kind"`
}

type labelResponse struct {
	Label models.Label `json:"label"`
}

func (a *OrdersAPI) createOrder(w http.ResponseWriter, r *http.Request) {
	var payload models.OrderSubmission
	if !decodeJSON(w, r, &payload) {
		return
	}

	var owner *string
	if uid := strings.TrimSpace(r.Header.Get(HeaderUserID)); uid != "" {
		owner = &uid
	}

	created, err := a.orders.CreateOrder(r.Context(), payload, owner)
	if err != nil {
		writeError(w, r, "create_order", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *OrdersAPI) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	o, err := a.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, "get_order", err)
		return
	}
	if o == nil {
		writeError(w, r, "get_order", &models.NotFoundError{Kind: "order", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *OrdersAPI) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, cursor, ok := pageParams(w, r)
	if !ok {
		return
	}
	items, next, err := a.orders.ListOrders(r.Context(), limit, cursor)
	if err != nil {
		writeError(w, r, "list_orders", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[models.Order]{Items: nonNil(items), NextCursor: next})
}

func (a *OrdersAPI) listUserOrders(w http.ResponseWriter, r *http.Request) {
	limit, cursor, ok := pageParams(w, r)
	if !ok {
		return
	}
	items, next, err := a.orders.ListUserOrders(r.Context(), chi.URLParam(r, "userId"), limit, cursor)
	if err != nil {
		writeError(w, r, "list_user_orders", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[models.Order]{Items: nonNil(items), NextCursor: next})
}

func (a *OrdersAPI) updateStatus(w http.ResponseWriter, r *http.Request) {
	var upd models.StatusUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}
	o, err := a.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), upd, r.Header.Get(HeaderActor))
	if err != nil {
		writeError(w, r, "update_status", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *OrdersAPI) createLabel(w http.ResponseWriter, r *http.Request) {
	actor := strings.TrimSpace(r.Header.Get(HeaderActor))
	if actor == "" {
		writeError(w, r, "create_label", models.ErrActorRequired)
		return
	}

	var req labelRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	o, err := a.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, "create_label", err)
		return
	}
	if o == nil {
		writeError(w, r, "create_label", &models.NotFoundError{Kind: "order", ID: id})
		return
	}

	label, err := a.labels.CreateLabel(r.Context(), o, req.Kind, actor)
	if err != nil {
		writeError(w, r, "create_label", err)
		return
	}
	writeJSON(w, http.StatusCreated, labelResponse{Label: label})
}

func (a *OrdersAPI) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, cursor, ok := pageParams(w, r)
	if !ok {
		return
	}
	items, next, err := a.audit.List(r.Context(), limit, cursor)
	if err != nil {
		writeError(w, r, "list_audit_logs", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[models.AuditEntry]{Items: nonNil(items), NextCursor: next})
}

func pageParams(w http.ResponseWriter, r *http.Request) (int, string, bool) {
	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, r, "page_params", models.NewValidationError("limit", "must be a non-negative integer"))
			return 0, "", false
		}
		limit = n
	}
	return limit, q.Get("cursor"), true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, "decode", models.NewValidationError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
