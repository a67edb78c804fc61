package handlers

import (
	"encoding/json"
	"net/http"
)

// HealthCheck reports process liveness. Downstream dependencies are not
// probed here, so the endpoint stays cheap enough for load balancers.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "leaderboard-api",
	})
}
