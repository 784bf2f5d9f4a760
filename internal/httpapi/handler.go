package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tably/call-service/internal/models"
	"tably/call-service/internal/push"
	"tably/call-service/internal/store"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Notifier is the fan-out side channel. Failures inside it never surface to
// the lifecycle caller.
type Notifier interface {
	Notify(ctx context.Context, call models.Call, tableLabel string, waiterIDs []string) push.Result
}

type Handler struct {
	store    store.Store
	notifier Notifier
}

func NewHandler(st store.Store, notifier Notifier) *Handler {
	return &Handler{
		store:    st,
		notifier: notifier,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/calls", h.handleCalls)
	mux.HandleFunc("/api/calls/", h.handleCallByPath)
	mux.HandleFunc("/api/subscriptions", h.handleSubscriptions)
	mux.HandleFunc("/api/subscriptions/", h.handleSubscriptionByPath)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCalls(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreateCall(w, r)
	case http.MethodGet:
		h.handleListCalls(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type createCallRequest struct {
	RequestID    string `json:"request_id"`
	RestaurantID string `json:"restaurant_id"`
	TableID      string `json:"table_id"`
}

type createCallResponse struct {
	Call     models.Call `json:"call"`
	Notified push.Result `json:"notified"`
}

func (h *Handler) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.RestaurantID = strings.TrimSpace(req.RestaurantID)
	req.TableID = strings.TrimSpace(req.TableID)

	if req.RequestID == "" || req.RestaurantID == "" || req.TableID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, restaurant_id, and table_id are required")
		return
	}
	if !isValidUUID(req.RequestID) || !isValidUUID(req.RestaurantID) || !isValidUUID(req.TableID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id, restaurant_id, and table_id must be UUIDs")
		return
	}

	call, created, err := h.store.CreateCall(r.Context(), store.CreateCallInput{
		RequestID:    req.RequestID,
		RestaurantID: req.RestaurantID,
		TableID:      req.TableID,
		RequestedAt:  time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}

	var result push.Result
	if created {
		result = h.notify(r.Context(), call)
	}

	writeJSON(w, http.StatusOK, createCallResponse{Call: call, Notified: result})
}

// notify resolves the fan-out target set: the pre-assigned waiter when the
// table has one, otherwise every active waiter of the restaurant.
func (h *Handler) notify(ctx context.Context, call models.Call) push.Result {
	var targets []string
	if call.WaiterID != nil {
		targets = []string{*call.WaiterID}
	} else {
		waiterIDs, err := h.store.ListActiveWaiterIDs(ctx, call.RestaurantID)
		if err != nil {
			// The call exists either way; notification is best effort.
			return push.Result{}
		}
		targets = waiterIDs
	}

	label := ""
	if table, err := h.store.GetTable(ctx, call.RestaurantID, call.TableID); err == nil {
		label = table.Label
	}
	return h.notifier.Notify(ctx, call, label, targets)
}

func (h *Handler) handleListCalls(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	filter := strings.TrimSpace(r.URL.Query().Get("filter"))
	switch filter {
	case "", store.FilterAll, store.FilterOpen, store.FilterPending, store.FilterMine:
	default:
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "filter must be one of all, open, pending, mine")
		return
	}
	if filter == store.FilterMine && session.Role != store.RoleWaiter {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "filter mine requires a waiter session")
		return
	}

	tableID := strings.TrimSpace(r.URL.Query().Get("table_id"))
	if tableID != "" && !isValidUUID(tableID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "table_id must be a UUID when provided")
		return
	}

	limit := 0
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	calls, err := h.store.ListCalls(r.Context(), store.ListCallsInput{
		RestaurantID: session.RestaurantID,
		Filter:       filter,
		WaiterID:     session.WaiterID,
		TableID:      tableID,
		Limit:        limit,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, calls)
}

func (h *Handler) handleCallByPath(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/calls/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGetCall(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCallAction(w, r, parts[0], parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetCall(w http.ResponseWriter, r *http.Request, callID string) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	if !isValidUUID(callID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "call_id must be a UUID")
		return
	}

	call, err := h.store.GetCall(r.Context(), session.RestaurantID, callID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (h *Handler) handleCallAction(w http.ResponseWriter, r *http.Request, callID, action string) {
	if !isValidUUID(callID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "call_id must be a UUID")
		return
	}

	switch action {
	case "acknowledge", "start", "complete":
		session, ok := requireWaiter(w, r)
		if !ok {
			return
		}
		input := store.CallActionInput{
			RestaurantID: session.RestaurantID,
			CallID:       callID,
			WaiterID:     session.WaiterID,
			OccurredAt:   time.Now().UTC(),
		}
		var call models.Call
		var err error
		switch action {
		case "acknowledge":
			call, err = h.store.AcknowledgeCall(r.Context(), input)
		case "start":
			call, err = h.store.StartService(r.Context(), input)
		case "complete":
			call, err = h.store.CompleteCall(r.Context(), input)
		}
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, requestIDFromRequest(r), status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, call)
	case "cancel":
		session, ok := requireAdmin(w, r)
		if !ok {
			return
		}
		call, err := h.store.CancelCall(r.Context(), store.CallActionInput{
			RestaurantID: session.RestaurantID,
			CallID:       callID,
			OccurredAt:   time.Now().UTC(),
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, requestIDFromRequest(r), status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, call)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	UserAgent string `json:"user_agent"`
}

func (h *Handler) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleSubscribe(w, r)
	case http.MethodGet:
		h.handleListSubscriptions(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	session, ok := requireWaiter(w, r)
	if !ok {
		return
	}

	var req subscribeRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Endpoint = strings.TrimSpace(req.Endpoint)
	req.Keys.P256dh = strings.TrimSpace(req.Keys.P256dh)
	req.Keys.Auth = strings.TrimSpace(req.Keys.Auth)

	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "endpoint, keys.p256dh, and keys.auth are required")
		return
	}
	if !strings.HasPrefix(req.Endpoint, "https://") && !strings.HasPrefix(req.Endpoint, "http://") {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "endpoint must be an HTTP(S) URL")
		return
	}

	subscription, err := h.store.UpsertSubscription(r.Context(), store.SubscribeInput{
		WaiterID:  session.WaiterID,
		Endpoint:  req.Endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		UserAgent: strings.TrimSpace(req.UserAgent),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, subscription)
}

func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	session, ok := requireWaiter(w, r)
	if !ok {
		return
	}

	subscriptions, err := h.store.ListSubscriptions(r.Context(), session.WaiterID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, subscriptions)
}

func (h *Handler) handleSubscriptionByPath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := requireWaiter(w, r)
	if !ok {
		return
	}

	subscriptionID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/subscriptions/"), "/")
	if !isValidUUID(subscriptionID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "subscription_id must be a UUID")
		return
	}

	if err := h.store.DeleteSubscription(r.Context(), session.WaiterID, subscriptionID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTableNotFound):
		return http.StatusNotFound, "table_not_found", "table not found or inactive"
	case errors.Is(err, store.ErrCallNotFound):
		return http.StatusNotFound, "call_not_found", "call not found"
	case errors.Is(err, store.ErrCallClaimed):
		return http.StatusConflict, "call_claimed", "another waiter already took this call"
	case errors.Is(err, store.ErrNotAssigned):
		return http.StatusForbidden, "not_assigned", "call belongs to a different waiter"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "call state does not allow this action"
	case errors.Is(err, store.ErrSubscriptionNotFound):
		return http.StatusNotFound, "subscription_not_found", "subscription not found"
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", "access denied"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
