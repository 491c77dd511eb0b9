package utils

import (
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter constructs the base mux router with the liveness route. It has no
// dependencies so it answers even when every provider is down.
func NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet, http.MethodHead)
	return r
}
