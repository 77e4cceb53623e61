package routers

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pos-ledger/handlers"
)

// RegisterRoutes sets up all the HTTP routes for the operator API
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {

	// Queues a zero-fee transaction for the next block
	r.HandleFunc("/transactions", h.SubmitTransaction).Methods("POST")

	// Committed balance and nonce of an address
	r.HandleFunc("/accounts/{address}", h.GetAccount).Methods("GET")

	// Committed blocks and the chain tip
	r.HandleFunc("/blocks/{height:[0-9]+}", h.GetBlock).Methods("GET")
	r.HandleFunc("/chain/head", h.GetChainHead).Methods("GET")

	// Validator set, staking and rewards
	r.HandleFunc("/validators", h.GetValidators).Methods("GET")
	r.HandleFunc("/validators/{id}/stake", h.Stake).Methods("POST")
	r.HandleFunc("/validators/{id}/unstake", h.Unstake).Methods("POST")
	r.HandleFunc("/validators/{id}/delegate", h.Delegate).Methods("POST")
	r.HandleFunc("/validators/{id}/reward", h.GetReward).Methods("GET")

	// Used by joining nodes for fast state sync
	r.HandleFunc("/snapshots/latest", h.GetLatestSnapshot).Methods("GET")

	// Trips the circuit breaker; mutating operations fail until restart
	r.HandleFunc("/admin/emergency-stop", h.EmergencyStop).Methods("POST")
}

// RegisterMetrics exposes the collectors of g in the prometheus text format
func RegisterMetrics(r *mux.Router, g prometheus.Gatherer) {
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods("GET")
}
