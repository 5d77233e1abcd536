package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/corebank/transaction-orchestrator/internal/logging"
	"github.com/corebank/transaction-orchestrator/internal/models"
	"github.com/corebank/transaction-orchestrator/internal/orchestrator"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// maxPage keeps the offset computation (page * size) far away from
	// integer overflow.
	maxPage = 1 << 20
)

// Server exposes the orchestrator over HTTP.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	logger       *logging.Logger
	router       *mux.Router
}

// NewServer builds the REST surface over the orchestrator.
func NewServer(o *orchestrator.Orchestrator, logger *logging.Logger, reg *prometheus.Registry) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		orchestrator: o,
		logger:       logger.Named("api"),
		router:       mux.NewRouter(),
	}

	s.router.Use(requestMetrics(reg))

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.router.HandleFunc("/transactions/deposit", s.handleDeposit).Methods(http.MethodPost)
	s.router.HandleFunc("/transactions/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	s.router.HandleFunc("/transactions/transfer", s.handleTransfer).Methods(http.MethodPost)
	s.router.HandleFunc("/transactions/account/{accountId}", s.handleListByAccount).Methods(http.MethodGet)
	s.router.HandleFunc("/transactions/{id}", s.handleGetTransaction).Methods(http.MethodGet)

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type movementRequest struct {
	AccountID      string          `json:"accountId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Description    string          `json:"description"`
}

type transferRequest struct {
	FromAccountID  string          `json:"fromAccountId"`
	ToAccountID    string          `json:"toAccountId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tx, replayed, err := s.orchestrator.Deposit(r.Context(), orchestrator.DepositRequest{
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
		Description:    req.Description,
	})
	s.writeOutcome(w, tx, replayed, err)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tx, replayed, err := s.orchestrator.Withdraw(r.Context(), orchestrator.WithdrawRequest{
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
		Description:    req.Description,
	})
	s.writeOutcome(w, tx, replayed, err)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tx, replayed, err := s.orchestrator.Transfer(r.Context(), orchestrator.TransferRequest{
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: idempotencyKey(r, req.IdempotencyKey),
	})
	s.writeOutcome(w, tx, replayed, err)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	tx, err := s.orchestrator.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrTransactionNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		s.logger.Error("transaction lookup failed", zap.String("transaction_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleListByAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["accountId"]
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", defaultPageSize)
	if size > maxPageSize {
		size = maxPageSize
	}
	if page < 0 || page > maxPage || size <= 0 {
		writeError(w, http.StatusBadRequest, "invalid pagination parameters")
		return
	}

	transactions, err := s.orchestrator.ListByAccount(r.Context(), accountID, page, size)
	if err != nil {
		s.logger.Error("transaction list failed", zap.String("account_id", accountID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"page":         page,
		"size":         size,
		"transactions": transactions,
	})
}

// writeOutcome maps the orchestrator's error taxonomy onto HTTP statuses.
// A fresh record is 201; a replay returns the existing record as 200, since
// nothing was created.
func (s *Server) writeOutcome(w http.ResponseWriter, tx models.Transaction, replayed bool, err error) {
	if err == nil {
		status := http.StatusCreated
		if replayed {
			status = http.StatusOK
		}
		writeJSON(w, status, tx)
		return
	}

	switch {
	case errors.Is(err, models.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrInvalidOperation),
		errors.Is(err, models.ErrAccountInactive),
		errors.Is(err, models.ErrCurrencyMismatch),
		errors.Is(err, models.ErrInsufficientFunds):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrConcurrencyExhausted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrAccountServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, models.ErrReconciliationRequired):
		s.logger.Error("operation requires manual reconciliation", zap.String("transaction_id", tx.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Error("operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// idempotencyKey prefers the Idempotency-Key header, falling back to the
// request body field.
func idempotencyKey(r *http.Request, bodyKey string) string {
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		return key
	}
	return bodyKey
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requestMetrics records request counts and latencies per route.
func requestMetrics(reg prometheus.Registerer) mux.MiddlewareFunc {
	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	reg.MustRegister(requestsTotal, requestDuration)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			srw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(srw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(srw.statusCode)).Inc()
			requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
