package api

import (
	"net/http"
)

type periodTVLJSON struct {
	Period int    `json:"period"`
	TVL    string `json:"tvl"`
}

type profitJSON struct {
	Period *int   `json:"period,omitempty"`
	Profit string `json:"profit"`
}

// chainBotPeriod parses chainId, botId and, when withPeriod is set, period.
// On failure it has already written the 400.
func chainBotPeriod(w http.ResponseWriter, r *http.Request, withPeriod bool) (int64, uint64, int, bool) {
	chainID, botID, err := queryChainBot(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, 0, 0, false
	}
	if !withPeriod {
		return chainID, botID, 0, true
	}
	period, err := queryPeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return 0, 0, 0, false
	}
	return chainID, botID, period, true
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	chainID, botID, period, ok := chainBotPeriod(w, r, true)
	if !ok {
		return
	}
	txs, err := s.deps.Reports.Transactions(r.Context(), chainID, botID, period)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handlePeriods(w http.ResponseWriter, r *http.Request) {
	chainID, botID, _, ok := chainBotPeriod(w, r, false)
	if !ok {
		return
	}
	periods, err := s.deps.Reports.Periods(r.Context(), chainID, botID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, periods)
}

func (s *Server) handlePeriodTVL(w http.ResponseWriter, r *http.Request) {
	chainID, botID, period, ok := chainBotPeriod(w, r, true)
	if !ok {
		return
	}
	tvl, err := s.deps.Reports.PeriodTVL(r.Context(), chainID, botID, period)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, periodTVLJSON{Period: period, TVL: tvl.String()})
}

func (s *Server) handlePeriodProfit(w http.ResponseWriter, r *http.Request) {
	chainID, botID, period, ok := chainBotPeriod(w, r, true)
	if !ok {
		return
	}
	profit, err := s.deps.Reports.PeriodProfit(r.Context(), chainID, botID, period)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profitJSON{Period: &period, Profit: profit})
}

func (s *Server) handleTimestamps(w http.ResponseWriter, r *http.Request) {
	chainID, botID, period, ok := chainBotPeriod(w, r, true)
	if !ok {
		return
	}
	ts, err := s.deps.Reports.Timestamps(r.Context(), chainID, botID, period)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (s *Server) handleOpenPositions(w http.ResponseWriter, r *http.Request) {
	chainID, botID, _, ok := chainBotPeriod(w, r, false)
	if !ok {
		return
	}
	txs, err := s.deps.Reports.OpenPositions(r.Context(), chainID, botID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleTotalProfit(w http.ResponseWriter, r *http.Request) {
	chainID, botID, _, ok := chainBotPeriod(w, r, false)
	if !ok {
		return
	}
	profit, err := s.deps.Reports.TotalProfit(r.Context(), chainID, botID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profitJSON{Profit: profit})
}
