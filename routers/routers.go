package routers

import (
	"mintgate/handlers"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes sets up all the HTTP routes for the chain
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {

	// Creates a node of the given kind
	r.HandleFunc("/nodes/ledger", h.CreateLedger).Methods("POST")
	r.HandleFunc("/nodes/ceiling", h.CreateCeiling).Methods("POST")
	r.HandleFunc("/nodes/window", h.CreateWindow).Methods("POST")
	r.HandleFunc("/nodes/delay", h.CreateDelay).Methods("POST")

	// Snapshots of node state
	r.HandleFunc("/nodes", h.ListNodes).Methods("GET")
	r.HandleFunc("/nodes/{id}", h.GetNode).Methods("GET")
	r.HandleFunc("/nodes/{id}/balances/{who}", h.GetBalance).Methods("GET")

	// Submits an increase; delay nodes queue it
	r.HandleFunc("/nodes/{id}/mint", h.Mint).Methods("POST")

	// Lifecycle and administration
	r.HandleFunc("/nodes/{id}/pause", h.Pause).Methods("POST")
	r.HandleFunc("/nodes/{id}/unpause", h.Unpause).Methods("POST")
	r.HandleFunc("/nodes/{id}/close", h.Close).Methods("POST")
	r.HandleFunc("/nodes/{id}/downstream", h.UpdateDownstream).Methods("PUT")
	r.HandleFunc("/nodes/{id}/roles/grant", h.GrantRole).Methods("POST")
	r.HandleFunc("/nodes/{id}/roles/revoke", h.RevokeRole).Methods("POST")

	// Kind-specific parameters
	r.HandleFunc("/nodes/{id}/limit", h.UpdateLimit).Methods("PUT")
	r.HandleFunc("/nodes/{id}/window-length", h.UpdateWindowLength).Methods("PUT")
	r.HandleFunc("/nodes/{id}/delay", h.UpdateDelay).Methods("PUT")

	// Delayed requests
	r.HandleFunc("/nodes/{id}/requests", h.ListRequests).Methods("GET")
	r.HandleFunc("/nodes/{id}/requests/{rid}", h.GetRequest).Methods("GET")
	r.HandleFunc("/nodes/{id}/requests/{rid}/execute", h.ExecuteRequest).Methods("POST")
	r.HandleFunc("/nodes/{id}/requests/{rid}/veto", h.VetoRequest).Methods("POST")

	// Notification history
	r.HandleFunc("/nodes/{id}/events", h.ListEvents).Methods("GET")

	r.HandleFunc("/health", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
}
