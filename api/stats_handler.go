package api

import (
	"net/http"

	"github.com/JadKHaddad-ORG/JobHub/hub"
)

// StatsResponse reports hub load and open WebSocket sessions.
type StatsResponse struct {
	hub.Stats
	Sessions int `json:"sessions"`
}

func (a *API) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Stats:    a.hub.Stats(),
		Sessions: a.wire.Sessions().Count(),
	})
}
