package transport

import (
	"encoding/json"
	"net/http"
)

type healthStatus struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// HealthHandler answers GET / with a fixed liveness document.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthStatus{Message: "Agent Server is running", Status: "active"})
	})
}
