package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"mintgate/chain"
	"mintgate/logger"
	"mintgate/models"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// PrincipalHeader carries the identity of the caller of every mutating endpoint.
const PrincipalHeader = "X-Principal"

// Handler contains the HTTP handlers for the chain API endpoints
type Handler struct {
	Chain *chain.Chain
}

// NewHandler creates and returns a new Handler instance
func NewHandler(c *chain.Chain) *Handler {
	return &Handler{Chain: c}
}

type mintBody struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

type roleBody struct {
	Role      string `json:"role"`
	Principal string `json:"principal"`
}

type downstreamBody struct {
	Downstream string `json:"downstream"`
}

type limitBody struct {
	Limit uint64 `json:"limit"`
}

type windowLengthBody struct {
	WindowLength int64 `json:"window_length"`
}

type delayBody struct {
	Delay int64 `json:"delay"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a chain condition to the HTTP status reported to the caller.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chain.ErrClosed):
		return http.StatusGone
	case errors.Is(err, chain.ErrPaused), errors.Is(err, chain.ErrNotPaused):
		return http.StatusLocked
	case errors.Is(err, chain.ErrMissingRole):
		return http.StatusForbidden
	case errors.Is(err, chain.ErrUnknownNode), errors.Is(err, chain.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, chain.ErrInvalidAdmin),
		errors.Is(err, chain.ErrInvalidDownstream),
		errors.Is(err, chain.ErrInvalidTimeWindow),
		errors.Is(err, chain.ErrInvalidRole),
		errors.Is(err, chain.ErrInvalidPrincipal),
		errors.Is(err, chain.ErrInvalidRecipient),
		errors.Is(err, chain.ErrZeroWindowLength),
		errors.Is(err, chain.ErrZeroDelay),
		errors.Is(err, chain.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, chain.ErrDuplicateNode),
		errors.Is(err, chain.ErrCeilingExceeded),
		errors.Is(err, chain.ErrRateLimitExceeded),
		errors.Is(err, chain.ErrNotStarted),
		errors.Is(err, chain.ErrExpired),
		errors.Is(err, chain.ErrRequestNotReady),
		errors.Is(err, chain.ErrRequestExecuted),
		errors.Is(err, chain.ErrRequestVetoed),
		errors.Is(err, chain.ErrSupplyOverflow),
		errors.Is(err, chain.ErrChainTooDeep):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{
		"error":  err.Error(),
		"reason": chain.Reason(err),
	})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.Logger.Error("Failed to decode request", zap.String("path", r.URL.Path), zap.Error(err))
		writeMessage(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}

func principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := r.Header.Get(PrincipalHeader)
	if p == "" {
		writeMessage(w, http.StatusBadRequest, "missing "+PrincipalHeader+" header")
		return "", false
	}
	return p, true
}

func requestID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["rid"], 10, 64)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request id")
		return 0, false
	}
	return id, true
}

func (h *Handler) created(w http.ResponseWriter, id string, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.Chain.Node(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Node created successfully",
		"node":    rec,
	})
}

// CreateLedger handles POST requests creating a terminal counter
func (h *Handler) CreateLedger(w http.ResponseWriter, r *http.Request) {
	var cfg chain.LedgerConfig
	if !decode(w, r, &cfg) {
		return
	}
	id, err := h.Chain.AddLedger(cfg)
	h.created(w, id, err)
}

// CreateCeiling handles POST requests creating a ceiling node
func (h *Handler) CreateCeiling(w http.ResponseWriter, r *http.Request) {
	var cfg chain.CeilingConfig
	if !decode(w, r, &cfg) {
		return
	}
	id, err := h.Chain.AddCeiling(cfg)
	h.created(w, id, err)
}

// CreateWindow handles POST requests creating a rate-limiting node
func (h *Handler) CreateWindow(w http.ResponseWriter, r *http.Request) {
	var cfg chain.WindowConfig
	if !decode(w, r, &cfg) {
		return
	}
	id, err := h.Chain.AddWindow(cfg)
	h.created(w, id, err)
}

// CreateDelay handles POST requests creating a delay node
func (h *Handler) CreateDelay(w http.ResponseWriter, r *http.Request) {
	var cfg chain.DelayConfig
	if !decode(w, r, &cfg) {
		return
	}
	id, err := h.Chain.AddDelay(cfg)
	h.created(w, id, err)
}

// ListNodes returns a snapshot of every node
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes": h.Chain.Nodes(),
	})
}

// GetNode returns one node; window nodes also report their current allowance
// and ceiling nodes the headroom left under the ceiling
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.Chain.Node(id)
	if err != nil {
		writeError(w, err)
		return
	}
	body := map[string]interface{}{"node": rec}
	switch rec.Kind {
	case models.KindWindow:
		available, err := h.Chain.Available(id)
		if err != nil {
			writeError(w, err)
			return
		}
		body["available"] = available
	case models.KindCeiling:
		remaining, err := h.Chain.Remaining(id)
		if err != nil {
			writeError(w, err)
			return
		}
		body["remaining"] = remaining
	case models.KindLedger:
		supply, err := h.Chain.TotalSupply(id)
		if err != nil {
			writeError(w, err)
			return
		}
		body["total_supply"] = supply
	}
	writeJSON(w, http.StatusOK, body)
}

// GetBalance returns a recipient's balance on a ledger node
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	balance, err := h.Chain.BalanceOf(vars["id"], vars["who"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": vars["who"],
		"balance": balance,
	})
}

// Mint submits an increase to a node; when a delay node on the path queued it
// the reply names that node and the request id
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	var body mintBody
	if !decode(w, r, &body) {
		return
	}
	id := mux.Vars(r)["id"]
	receipt, err := h.Chain.Mint(r.Context(), id, caller, body.Recipient, body.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if receipt.Queued() {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"message":    "Mint request queued",
			"node":       receipt.Queue,
			"request_id": receipt.RequestID,
		})
		return
	}
	logger.Logger.Info("Mint admitted", zap.String("node_id", id), zap.String("caller", caller),
		zap.String("recipient", body.Recipient), zap.Uint64("amount", body.Amount))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Mint admitted",
		"node":    id,
		"amount":  body.Amount,
	})
}

func (h *Handler) lifecycle(op func(nodeID, caller string) error, msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := principal(w, r)
		if !ok {
			return
		}
		id := mux.Vars(r)["id"]
		if err := op(id, caller); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": msg, "node": id})
	}
}

// Pause handles POST requests pausing a node
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(h.Chain.Pause, "Node paused")(w, r)
}

// Unpause handles POST requests resuming a paused node
func (h *Handler) Unpause(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(h.Chain.Unpause, "Node unpaused")(w, r)
}

// Close handles POST requests closing a node for good
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(h.Chain.Close, "Node closed")(w, r)
}

// UpdateDownstream handles PUT requests repointing a node
func (h *Handler) UpdateDownstream(w http.ResponseWriter, r *http.Request) {
	var body downstreamBody
	h.update(w, r, &body, func(id, caller string) error {
		return h.Chain.UpdateDownstream(id, caller, body.Downstream)
	})
}

// GrantRole handles POST requests granting a role on a node
func (h *Handler) GrantRole(w http.ResponseWriter, r *http.Request) {
	var body roleBody
	h.update(w, r, &body, func(id, caller string) error {
		role, err := chain.ParseRole(body.Role)
		if err != nil {
			return err
		}
		return h.Chain.GrantRole(id, caller, role, body.Principal)
	})
}

// RevokeRole handles POST requests revoking a role on a node
func (h *Handler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	var body roleBody
	h.update(w, r, &body, func(id, caller string) error {
		role, err := chain.ParseRole(body.Role)
		if err != nil {
			return err
		}
		return h.Chain.RevokeRole(id, caller, role, body.Principal)
	})
}

// UpdateLimit handles PUT requests changing a window node's limit
func (h *Handler) UpdateLimit(w http.ResponseWriter, r *http.Request) {
	var body limitBody
	h.update(w, r, &body, func(id, caller string) error {
		return h.Chain.UpdateLimit(id, caller, body.Limit)
	})
}

// UpdateWindowLength handles PUT requests changing a window node's length
func (h *Handler) UpdateWindowLength(w http.ResponseWriter, r *http.Request) {
	var body windowLengthBody
	h.update(w, r, &body, func(id, caller string) error {
		return h.Chain.UpdateWindowLength(id, caller, body.WindowLength)
	})
}

// UpdateDelay handles PUT requests changing a delay node's delay
func (h *Handler) UpdateDelay(w http.ResponseWriter, r *http.Request) {
	var body delayBody
	h.update(w, r, &body, func(id, caller string) error {
		return h.Chain.UpdateDelay(id, caller, body.Delay)
	})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, body interface{}, apply func(id, caller string) error) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	if !decode(w, r, body) {
		return
	}
	id := mux.Vars(r)["id"]
	if err := apply(id, caller); err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.Chain.Node(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Node updated",
		"node":    rec,
	})
}

// ListRequests returns the requests held by a delay node; ?status=pending
// narrows the list to those neither executed nor vetoed
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var (
		reqs []*models.MintRequest
		err  error
	)
	switch status := r.URL.Query().Get("status"); status {
	case "":
		reqs, err = h.Chain.Requests(id)
	case "pending":
		reqs, err = h.Chain.PendingRequests(id)
	default:
		writeMessage(w, http.StatusBadRequest, "unsupported status filter "+strconv.Quote(status))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": reqs})
}

// GetRequest returns one request of a delay node with its derived status
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	rid, ok := requestID(w, r)
	if !ok {
		return
	}
	req, err := h.Chain.Request(mux.Vars(r)["id"], rid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"request": req,
		"status":  req.Status(),
	})
}

// ExecuteRequest handles POST requests executing a matured request; any principal may call it
func (h *Handler) ExecuteRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	rid, ok := requestID(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	if err := h.Chain.ExecuteMint(r.Context(), id, caller, rid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Mint request executed",
		"request_id": rid,
	})
}

// VetoRequest handles POST requests vetoing a pending request
func (h *Handler) VetoRequest(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	rid, ok := requestID(w, r)
	if !ok {
		return
	}
	if err := h.Chain.VetoMintRequest(mux.Vars(r)["id"], caller, rid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "Mint request vetoed",
		"request_id": rid,
	})
}

// ListEvents returns the notification history of a node
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Chain.Events(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

// Health reports that the process is serving
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
