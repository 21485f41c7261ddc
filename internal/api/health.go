package api

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// GET /health: always 200, reports the broker session only.
func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	st := healthResponse{Status: "OK", MQTT: "Disconnected"}
	if h.MQTT != nil && h.MQTT.IsConnected() {
		st.MQTT = "Connected"
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /readyz: 200 only if the broker session is up and every check passes.
func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := readyResponse{
		MQTT:   h.MQTT != nil && h.MQTT.IsConnected(),
		Checks: make(map[string]string, len(h.Checks)),
	}
	resp.Ready = resp.MQTT

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := runCheck(ctx, h.Checks[name]); err != nil {
			resp.Checks[name] = err.Error()
			resp.Ready = false
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func runCheck(ctx context.Context, c Check) error {
	if c == nil {
		return nil
	}
	return c(ctx)
}
