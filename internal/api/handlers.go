package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/star/isspass/internal/httputil"
	"github.com/star/isspass/internal/lookup"
)

// callerIP is the path value that selects the requesting client's address.
const callerIP = "caller"

type handlers struct {
	lookup     Lookup
	trustProxy bool
	logger     *slog.Logger
}

type passJSON struct {
	Risetime int64  `json:"risetime"`
	Duration int64  `json:"duration"`
	RiseAt   string `json:"rise_at"`
}

type passesResponse struct {
	Passes []passJSON `json:"passes"`
}

func toPassesResponse(passes lookup.PassList) passesResponse {
	out := passesResponse{Passes: make([]passJSON, 0, len(passes))}
	for _, p := range passes {
		out.Passes = append(out.Passes, passJSON{
			Risetime: p.Risetime,
			Duration: p.Duration,
			RiseAt:   p.RiseTime().UTC().Format(time.RFC3339),
		})
	}
	return out
}

func (h *handlers) myIP(w http.ResponseWriter, r *http.Request) {
	ip, err := h.lookup.MyIP(r.Context())
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ip": ip})
}

func (h *handlers) passes(w http.ResponseWriter, r *http.Request) {
	passes, err := h.lookup.NextISSTimesForMyLocation(r.Context())
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPassesResponse(passes))
}

func (h *handlers) passesForIP(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	if ip == callerIP {
		ip = httputil.ClientIP(r, h.trustProxy)
	}
	if !httputil.ValidIP(ip) {
		writeError(w, http.StatusBadRequest, "invalid ip address: "+ip)
		return
	}

	passes, err := h.lookup.PassesForIP(r.Context(), ip)
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPassesResponse(passes))
}

// writeLookupError maps a failed run to a gateway status: upstream
// unreachable is 503, upstream answered badly is 502.
func (h *handlers) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var ne *lookup.NetworkError
	var se *lookup.ServerError
	switch {
	case errors.As(err, &ne):
		status = http.StatusServiceUnavailable
	case errors.As(err, &se):
		status = http.StatusBadGateway
	}

	h.logger.Warn("lookup failed",
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
