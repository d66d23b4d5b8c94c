package api

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/nerrad567/vendorsync/internal/pushchannel"
)

// healthCheckTimeout bounds each dependency check.
const healthCheckTimeout = 2 * time.Second

// Health status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status       string              `json:"status"`
	Version      string              `json:"version"`
	Checks       map[string]string   `json:"checks"`
	PushChannels []pushchannel.State `json:"push_channels"`
}

// handleHealth reports dependency health and push channel phases. Any
// failing dependency or disconnected channel answers 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:       StatusOK,
		Version:      s.version,
		Checks:       make(map[string]string, len(s.checks)),
		PushChannels: s.channelStates(),
	}

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.HealthCheck(ctx)
		cancel()
		if err != nil {
			resp.Status = StatusDegraded
			resp.Checks[name] = "error: " + err.Error()
			continue
		}
		resp.Checks[name] = StatusOK
	}
	for _, st := range resp.PushChannels {
		if st.Phase == pushchannel.Disconnected {
			resp.Status = StatusDegraded
		}
	}

	status := http.StatusOK
	if resp.Status != StatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// channelStates snapshots every channel, ordered by server name.
func (s *Server) channelStates() []pushchannel.State {
	states := make([]pushchannel.State, 0, len(s.channels))
	for _, ch := range s.channels {
		states = append(states, ch.State())
	}
	slices.SortFunc(states, func(a, b pushchannel.State) int {
		return strings.Compare(a.Server, b.Server)
	})
	return states
}
