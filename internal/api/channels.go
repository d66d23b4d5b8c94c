package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/vendorsync/internal/pushchannel"
)

// handleListChannels returns the state of every push channel.
func (s *Server) handleListChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"push_channels": s.channelStates(),
		"count":         len(s.channels),
	})
}

// handleGetChannel returns the state of one server's push channel.
func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")
	for _, ch := range s.channels {
		if st := ch.State(); st.Server == server {
			writeJSON(w, http.StatusOK, st)
			return
		}
	}
	writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "no push channel for server "+server)
}

var _ Channel = (*pushchannel.Manager)(nil)
