package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/command"
	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/storage"
)

const (
	msgInvalidCommand = `Command harus "ON" atau "OFF"`
	msgPublishFailed  = "Gagal mengirim command"
	msgQueryFailed    = "Gagal mengambil data"
	msgEncodeFailed   = "Gagal menyusun respons"
	maxBodyBytes      = 1 << 12
)

// writeJSON encodes before touching the header, so a value that cannot be
// marshalled turns into a 500 envelope instead of an empty 200.
func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("response encoding failed", "error", err)
		status = http.StatusInternalServerError
		b, _ = json.Marshal(envelope{Success: false, Message: msgEncodeFailed, Error: err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	e := envelope{Success: false, Message: message}
	if err != nil {
		e.Error = err.Error()
	}
	writeJSON(w, status, e)
}

// GET /api/sensor
func (h *handlers) latest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: h.Snapshot.Read()})
}

// POST /api/relay
func (h *handlers) relay(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidCommand, nil)
		return
	}

	state, err := h.Commands.Dispatch(r.Context(), req.Command)
	var ve *command.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, msgInvalidCommand, nil)
		return
	case err != nil:
		var pe *command.PublishError
		cause := err
		if errors.As(err, &pe) {
			cause = pe.Err
		}
		writeError(w, http.StatusInternalServerError, msgPublishFailed, cause)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Relay " + string(state),
		Command: string(state),
	})
}

// GET /api/sensor/database
func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.QueryTimeout)
	defer cancel()

	agg, err := h.History.Aggregates(ctx)
	if err != nil {
		h.queryFailed(w, "aggregates", err)
		return
	}
	peaks, err := h.History.PeakReadings(ctx, limitOr(h.PeakLimit, storage.DefaultPeakLimit))
	if err != nil {
		h.queryFailed(w, "peak readings", err)
		return
	}
	periods, err := h.History.DistinctPeriods(ctx, limitOr(h.PeriodLimit, storage.DefaultPeriodLimit))
	if err != nil {
		h.queryFailed(w, "distinct periods", err)
		return
	}
	writeJSON(w, http.StatusOK, Summary{
		Max:     agg.Max,
		Min:     agg.Min,
		Avg:     agg.Avg,
		Peaks:   toPeakRows(peaks),
		Periods: toPeriods(periods),
	})
}

// GET /api/sensor/all
func (h *handlers) recent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.QueryTimeout)
	defer cancel()

	rows, err := h.History.Recent(ctx, limitOr(h.RecentLimit, storage.DefaultRecentLimit))
	if err != nil {
		h.queryFailed(w, "recent", err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: rows})
}

func (h *handlers) queryFailed(w http.ResponseWriter, query string, err error) {
	h.Logger.Error("history query failed", "query", query, "error", err)
	writeError(w, http.StatusInternalServerError, msgQueryFailed, err)
}

func limitOr(v, d int) int {
	if v > 0 {
		return v
	}
	return d
}
