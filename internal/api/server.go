package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/kjannette/trahn-keeper/internal/apperr"
	"github.com/kjannette/trahn-keeper/internal/models"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

type BotService interface {
	Create(ctx context.Context, b models.Bot) (*models.Bot, error)
	Update(ctx context.Context, id uuid.UUID, u models.BotUpdate) (*models.Bot, error)
	Remove(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]models.Bot, error)
	Start(ctx context.Context, chainID int64, botID uint64) (*models.Bot, error)
	Stop(ctx context.Context, chainID int64, botID uint64) (*models.Bot, error)
	IsRunning(ctx context.Context, chainID int64, botID uint64) (bool, error)
	UUIDFor(ctx context.Context, chainID int64, botID uint64) (uuid.UUID, error)
	ForceAttemptRun(ctx context.Context, chainID int64, botID uint64) (common.Hash, error)
}

type NetworkService interface {
	Create(ctx context.Context, n models.Network) (*models.Network, error)
	Update(ctx context.Context, id uuid.UUID, u models.NetworkUpdate) (*models.Network, error)
	Remove(ctx context.Context, chainID int64) error
	Get(ctx context.Context, chainID int64) (*models.Network, error)
	List(ctx context.Context) ([]models.Network, error)
}

type ReportService interface {
	Transactions(ctx context.Context, chainID int64, botID uint64, period int) ([]models.Transaction, error)
	Periods(ctx context.Context, chainID int64, botID uint64) ([]int, error)
	PeriodTVL(ctx context.Context, chainID int64, botID uint64, period int) (decimal.Decimal, error)
	PeriodProfit(ctx context.Context, chainID int64, botID uint64, period int) (string, error)
	Timestamps(ctx context.Context, chainID int64, botID uint64, period int) (*models.PeriodTimestamps, error)
	OpenPositions(ctx context.Context, chainID int64, botID uint64) ([]models.Transaction, error)
	TotalProfit(ctx context.Context, chainID int64, botID uint64) (string, error)
}

// Pinger reports database reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ScheduleCounter reports how many bot schedules are live.
type ScheduleCounter interface {
	Active() int
}

type Deps struct {
	Bots      BotService
	Networks  NetworkService
	Reports   ReportService
	DB        Pinger
	Schedules ScheduleCounter
}

type Server struct {
	deps       Deps
	httpServer *http.Server
	apiKey     string
	log        *slog.Logger
}

func NewServer(deps Deps, port int, apiKey, corsOrigin string, log *slog.Logger) *Server {
	s := &Server{
		deps:   deps,
		apiKey: apiKey,
		log:    log.With("component", "api"),
	}

	mux := http.NewServeMux()

	// Bot routes
	mux.HandleFunc("GET /v1/bots", s.handleListBots)
	mux.HandleFunc("POST /v1/bots", s.handleCreateBot)
	mux.HandleFunc("PATCH /v1/bots/{id}", s.handleUpdateBot)
	mux.HandleFunc("DELETE /v1/bots/{id}", s.handleRemoveBot)
	mux.HandleFunc("POST /v1/bots/{chainId}/{botId}/start", s.handleStartBot)
	mux.HandleFunc("POST /v1/bots/{chainId}/{botId}/stop", s.handleStopBot)
	mux.HandleFunc("GET /v1/bots/{chainId}/{botId}/running", s.handleBotRunning)
	mux.HandleFunc("GET /v1/bots/{chainId}/{botId}/uuid", s.handleBotUUID)
	mux.HandleFunc("POST /v1/bots/{chainId}/{botId}/force-run", s.handleForceRun)

	// Network routes
	mux.HandleFunc("GET /v1/networks", s.handleListNetworks)
	mux.HandleFunc("POST /v1/networks", s.handleCreateNetwork)
	mux.HandleFunc("PATCH /v1/networks/{id}", s.handleUpdateNetwork)
	mux.HandleFunc("DELETE /v1/networks/{chainId}", s.handleRemoveNetwork)
	mux.HandleFunc("GET /v1/networks/{chainId}", s.handleGetNetwork)

	// Transaction routes
	mux.HandleFunc("GET /v1/transactions", s.handleTransactions)
	mux.HandleFunc("GET /v1/transactions/periods", s.handlePeriods)
	mux.HandleFunc("GET /v1/transactions/period-tvl", s.handlePeriodTVL)
	mux.HandleFunc("GET /v1/transactions/period-profit", s.handlePeriodProfit)
	mux.HandleFunc("GET /v1/transactions/timestamps", s.handleTimestamps)
	mux.HandleFunc("GET /v1/transactions/open-positions", s.handleOpenPositions)
	mux.HandleFunc("GET /v1/transactions/total-profit", s.handleTotalProfit)

	// Health check (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	handler := s.authMiddleware(corsMiddleware(mux, corsOrigin))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second, // total-profit reads the chain
	}

	return s
}

// Handler exposes the routed, authenticated handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	fmt.Printf("[API] REST API server started on http://localhost%s\n", s.httpServer.Addr)
	fmt.Printf("[API] Health check: http://localhost%s/health\n", s.httpServer.Addr)
	if s.apiKey != "" {
		fmt.Println("[API] Authentication: enabled (Bearer token)")
	} else {
		fmt.Println("[API] Authentication: disabled (no API_KEY configured)")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- request helpers ---

func pathChainBot(r *http.Request) (int64, uint64, error) {
	chainID, err := strconv.ParseInt(r.PathValue("chainId"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid chainId %q", r.PathValue("chainId"))
	}
	botID, err := strconv.ParseUint(r.PathValue("botId"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid botId %q", r.PathValue("botId"))
	}
	return chainID, botID, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q", name, r.PathValue(name))
	}
	return id, nil
}

// queryChainBot reads the chainId and botId query parameters.
func queryChainBot(r *http.Request) (int64, uint64, error) {
	q := r.URL.Query()
	chainID, err := strconv.ParseInt(q.Get("chainId"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("chainId query parameter is required")
	}
	botID, err := strconv.ParseUint(q.Get("botId"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("botId query parameter is required")
	}
	return chainID, botID, nil
}

func queryPeriod(r *http.Request) (int, error) {
	p, err := strconv.Atoi(r.URL.Query().Get("period"))
	if err != nil || p < 0 {
		return 0, fmt.Errorf("period query parameter must be a non-negative integer")
	}
	return p, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps taxonomy errors to their status; anything else is
// logged and reported as a 500 without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
