package api

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Database   string `json:"database"`
	ActiveBots int    `json:"activeBots"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if s.deps.DB == nil {
		dbStatus = "unknown"
	} else if err := s.deps.DB.Ping(r.Context()); err != nil {
		dbStatus = "disconnected"
	}

	active := 0
	if s.deps.Schedules != nil {
		active = s.deps.Schedules.Active()
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  healthServices{Database: dbStatus, ActiveBots: active},
	})
}
