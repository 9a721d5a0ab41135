package api

import (
	"net/http"

	"github.com/kjannette/trahn-keeper/internal/models"
)

type createBotRequest struct {
	ChainID       int64  `json:"chainId"`
	ContractBotID uint64 `json:"contractBotId"`
	IsRunning     bool   `json:"isRunning"`
	EnableRestart bool   `json:"enableRestart"`
	CurrentPeriod int    `json:"currentPeriod"`
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.deps.Bots.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if bots == nil {
		bots = []models.Bot{}
	}
	writeJSON(w, http.StatusOK, bots)
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ChainID == 0 || req.ContractBotID == 0 {
		writeError(w, http.StatusBadRequest, "chainId and contractBotId are required")
		return
	}

	b, err := s.deps.Bots.Create(r.Context(), models.Bot{
		ChainID:       req.ChainID,
		ContractBotID: req.ContractBotID,
		IsRunning:     req.IsRunning,
		EnableRestart: req.EnableRestart,
		CurrentPeriod: req.CurrentPeriod,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleUpdateBot(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var u models.BotUpdate
	if err := decodeBody(w, r, &u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := s.deps.Bots.Update(r.Context(), id, u)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleRemoveBot(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Bots.Remove(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartBot(w http.ResponseWriter, r *http.Request) {
	chainID, botID, err := pathChainBot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.deps.Bots.Start(r.Context(), chainID, botID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleStopBot(w http.ResponseWriter, r *http.Request) {
	chainID, botID, err := pathChainBot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := s.deps.Bots.Stop(r.Context(), chainID, botID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleBotRunning(w http.ResponseWriter, r *http.Request) {
	chainID, botID, err := pathChainBot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	running, err := s.deps.Bots.IsRunning(r.Context(), chainID, botID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isRunning": running})
}

func (s *Server) handleBotUUID(w http.ResponseWriter, r *http.Request) {
	chainID, botID, err := pathChainBot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.deps.Bots.UUIDFor(r.Context(), chainID, botID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String()})
}

func (s *Server) handleForceRun(w http.ResponseWriter, r *http.Request) {
	chainID, botID, err := pathChainBot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := s.deps.Bots.ForceAttemptRun(r.Context(), chainID, botID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"transactionHash": hash.Hex()})
}
