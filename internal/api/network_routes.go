package api

import (
	"net/http"
	"strconv"

	"github.com/kjannette/trahn-keeper/internal/models"
)

type createNetworkRequest struct {
	ChainID                int64    `json:"chainId"`
	TraderContractAddress  string   `json:"traderContractAddress"`
	ManagerContractAddress string   `json:"managerContractAddress"`
	RPC                    []string `json:"rpc"`
	Symbol                 string   `json:"symbol"`
}

func (s *Server) handleListNetworks(w http.ResponseWriter, r *http.Request) {
	nets, err := s.deps.Networks.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if nets == nil {
		nets = []models.Network{}
	}
	writeJSON(w, http.StatusOK, nets)
}

func (s *Server) handleCreateNetwork(w http.ResponseWriter, r *http.Request) {
	var req createNetworkRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ChainID == 0 {
		writeError(w, http.StatusBadRequest, "chainId is required")
		return
	}

	n, err := s.deps.Networks.Create(r.Context(), models.Network{
		ChainID:                req.ChainID,
		TraderContractAddress:  req.TraderContractAddress,
		ManagerContractAddress: req.ManagerContractAddress,
		RPC:                    req.RPC,
		Symbol:                 req.Symbol,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) handleUpdateNetwork(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var u models.NetworkUpdate
	if err := decodeBody(w, r, &u); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := s.deps.Networks.Update(r.Context(), id, u)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleRemoveNetwork(w http.ResponseWriter, r *http.Request) {
	chainID, ok := pathChainID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Networks.Remove(r.Context(), chainID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetNetwork(w http.ResponseWriter, r *http.Request) {
	chainID, ok := pathChainID(w, r)
	if !ok {
		return
	}
	n, err := s.deps.Networks.Get(r.Context(), chainID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func pathChainID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	chainID, err := strconv.ParseInt(r.PathValue("chainId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chainId")
		return 0, false
	}
	return chainID, true
}
