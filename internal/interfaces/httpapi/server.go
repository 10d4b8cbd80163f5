package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"nftsales/internal/application"
	"nftsales/internal/contracts"
	"nftsales/internal/domain"
)

type SaleReader interface {
	ListSales(ctx context.Context, filter application.SaleQueryFilter) (application.SalePage, error)
	SaleDetail(ctx context.Context, txHash string) (application.SaleDetail, bool, error)
	LookupTable(ctx context.Context, txHash string) (domain.LookupTable, bool, error)
	ProcessState(ctx context.Context) (domain.ProcessState, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type ContractLister interface {
	Native() contracts.Contract
	Assets() []contracts.Contract
	Payments() []contracts.Contract
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

type Server struct {
	sales     SaleReader
	store     Pinger
	contracts ContractLister
	metrics   *Metrics
	buildInfo BuildInfo
}

func NewServer(sales SaleReader, store Pinger, registry ContractLister, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if sales == nil || store == nil || registry == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{sales: sales, store: store, contracts: registry, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /sales", s.handleSales)
	mux.HandleFunc("GET /sales/{txHash}", s.handleSale)
	mux.HandleFunc("GET /lookup-tables/{txHash}", s.handleLookupTable)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /contracts", s.handleContracts)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /version", s.handleVersion)
	return mux
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "db not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleSales(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.sales.ListSales(r.Context(), application.SaleQueryFilter{
		After: r.URL.Query().Get("after"),
		Limit: limit,
	})
	if err != nil {
		slog.Error("list sales failed", "err", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleSale(w http.ResponseWriter, r *http.Request) {
	detail, ok, err := s.sales.SaleDetail(r.Context(), r.PathValue("txHash"))
	if err != nil {
		slog.Error("sale detail failed", "tx_hash", r.PathValue("txHash"), "err", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "sale not found")
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleLookupTable(w http.ResponseWriter, r *http.Request) {
	table, ok, err := s.sales.LookupTable(r.Context(), r.PathValue("txHash"))
	if err != nil {
		slog.Error("lookup table read failed", "tx_hash", r.PathValue("txHash"), "err", err)
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "lookup table not found")
		return
	}
	respondJSON(w, http.StatusOK, table)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.sales.ProcessState(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "state read failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"chain_id":                 state.ChainID,
		"next_payment_transfer_id": state.NextPaymentTransferID,
		"next_asset_transfer_id":   state.NextAssetTransferID,
		"pending_count":            len(state.PendingTableIDs),
		"pending":                  state.PendingTableIDs,
		"cursor":                   state.Cursor,
	})
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"native":   s.contracts.Native(),
		"assets":   s.contracts.Assets(),
		"payments": s.contracts.Payments(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

func parseLimit(r *http.Request) (int, error) {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			return 0, errors.New("invalid limit")
		}
		return value, nil
	}
	return 100, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
