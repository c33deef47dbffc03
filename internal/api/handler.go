package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mkoval/freightops/internal/domain"
	"github.com/mkoval/freightops/internal/service"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "freightops_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "freightops_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// defaultReservationTTL applies when a reserve request does not bound its own
// hold time.
const defaultReservationTTL = 15 * time.Minute

type Handler struct {
	ledger       *service.LedgerService
	reservations *service.ReservationService
	payments     *service.PaymentService
	log          *zap.Logger
}

func NewHandler(ledger *service.LedgerService, reservations *service.ReservationService, payments *service.PaymentService, log *zap.Logger) *Handler {
	return &Handler{
		ledger:       ledger,
		reservations: reservations,
		payments:     payments,
		log:          log,
	}
}

// Router wires all endpoints under /api/v1 plus health and metrics.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	v1.HandleFunc("/accounts/{number}", h.GetAccount).Methods("GET")
	v1.HandleFunc("/accounts/{number}/balance", h.GetBalance).Methods("GET")
	v1.HandleFunc("/transfers", h.CreateTransfer).Methods("POST")
	v1.HandleFunc("/wagons/search", h.SearchWagons).Methods("POST")
	v1.HandleFunc("/wagons/{id}/reserve", h.ReserveWagon).Methods("POST")
	v1.HandleFunc("/wagons/{id}/release", h.ReleaseWagon).Methods("POST")
	v1.HandleFunc("/payments", h.CreatePayment).Methods("POST")
	v1.HandleFunc("/payments/webhook", h.PaymentWebhook).Methods("POST")
	v1.HandleFunc("/payments/{id}", h.GetPayment).Methods("GET")

	return r
}

type transferRequest struct {
	FromAccountNumber string `json:"from_account_number"`
	ToAccountNumber   string `json:"to_account_number"`
	Amount            string `json:"amount"`
	Description       string `json:"description"`
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/transfers"))
	defer timer.ObserveDuration()

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON", "POST", "/transfers")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "amount must be a decimal string", "POST", "/transfers")
		return
	}

	result, err := h.ledger.Transfer(r.Context(), req.FromAccountNumber, req.ToAccountNumber, amount, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, service.ErrSelfTransfer):
			h.respondError(w, http.StatusUnprocessableEntity, err.Error(), "POST", "/transfers")
		case errors.Is(err, service.ErrAccountNotFound):
			h.respondError(w, http.StatusNotFound, "account not found", "POST", "/transfers")
		default:
			h.internalError(w, err, "POST", "/transfers")
		}
		return
	}

	// Insufficient funds is an expected outcome, not an HTTP error.
	h.respondJSON(w, http.StatusOK, result, "POST", "/transfers")
}

type createAccountRequest struct {
	TaxID       string `json:"tax_id"`
	CompanyName string `json:"company_name"`
	BIK         string `json:"bik"`
	BankName    string `json:"bank_name"`
	IsPrimary   bool   `json:"is_primary"`
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON", "POST", "/accounts")
		return
	}

	account, err := h.ledger.CreateAccount(r.Context(), service.CreateAccountParams{
		TaxID:       req.TaxID,
		CompanyName: req.CompanyName,
		BIK:         req.BIK,
		BankName:    req.BankName,
		IsPrimary:   req.IsPrimary,
	})
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), "POST", "/accounts")
		return
	}
	h.respondJSON(w, http.StatusCreated, account, "POST", "/accounts")
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]

	account, err := h.ledger.GetAccount(r.Context(), number)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			h.respondError(w, http.StatusNotFound, "account not found", "GET", "/accounts/{number}")
			return
		}
		h.internalError(w, err, "GET", "/accounts/{number}")
		return
	}
	h.respondJSON(w, http.StatusOK, account, "GET", "/accounts/{number}")
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]

	balance, err := h.ledger.GetBalance(r.Context(), number)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			h.respondError(w, http.StatusNotFound, "account not found", "GET", "/accounts/{number}/balance")
			return
		}
		h.internalError(w, err, "GET", "/accounts/{number}/balance")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{
		"account_number": number,
		"balance":        balance.StringFixed(2),
	}, "GET", "/accounts/{number}/balance")
}

func (h *Handler) SearchWagons(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/wagons/search"))
	defer timer.ObserveDuration()

	var req domain.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON", "POST", "/wagons/search")
		return
	}

	matches, err := h.reservations.Search(r.Context(), req)
	if err != nil {
		var incompat *domain.IncompatibilityError
		if errors.As(err, &incompat) {
			h.respondError(w, http.StatusUnprocessableEntity, incompat.Error(), "POST", "/wagons/search")
			return
		}
		h.internalError(w, err, "POST", "/wagons/search")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"wagons": matches}, "POST", "/wagons/search")
}

type reserveRequest struct {
	OrderID    uuid.UUID `json:"order_id"`
	TTLMinutes int       `json:"ttl_minutes"`
}

func (h *Handler) ReserveWagon(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/wagons/{id}/reserve"))
	defer timer.ObserveDuration()

	wagonID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid wagon id", "POST", "/wagons/{id}/reserve")
		return
	}

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON", "POST", "/wagons/{id}/reserve")
		return
	}

	ttl := defaultReservationTTL
	if req.TTLMinutes > 0 {
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}

	reserved, err := h.reservations.Reserve(r.Context(), wagonID, req.OrderID, ttl)
	if err != nil {
		if errors.Is(err, service.ErrWagonNotFound) {
			h.respondError(w, http.StatusNotFound, "wagon not found", "POST", "/wagons/{id}/reserve")
			return
		}
		h.internalError(w, err, "POST", "/wagons/{id}/reserve")
		return
	}

	status := http.StatusOK
	if !reserved {
		status = http.StatusConflict
	}
	h.respondJSON(w, status, map[string]bool{"reserved": reserved}, "POST", "/wagons/{id}/reserve")
}

func (h *Handler) ReleaseWagon(w http.ResponseWriter, r *http.Request) {
	wagonID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid wagon id", "POST", "/wagons/{id}/release")
		return
	}

	if err := h.reservations.Release(r.Context(), wagonID); err != nil {
		if errors.Is(err, service.ErrWagonNotFound) {
			h.respondError(w, http.StatusNotFound, "wagon not found", "POST", "/wagons/{id}/release")
			return
		}
		h.internalError(w, err, "POST", "/wagons/{id}/release")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "released"}, "POST", "/wagons/{id}/release")
}

type createPaymentRequest struct {
	OrderID       uuid.UUID `json:"order_id"`
	UserID        uuid.UUID `json:"user_id"`
	Amount        string    `json:"amount"`
	AccountNumber string    `json:"account_number"`
	BIK           string    `json:"bik"`
	BankName      string    `json:"bank_name"`
	Purpose       string    `json:"purpose"`
	Method        string    `json:"method"`
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/payments"))
	defer timer.ObserveDuration()

	var req createPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON", "POST", "/payments")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "amount must be a decimal string", "POST", "/payments")
		return
	}

	payment, err := h.payments.CreatePayment(r.Context(), service.CreatePaymentParams{
		OrderID:       req.OrderID,
		UserID:        req.UserID,
		Amount:        amount,
		AccountNumber: req.AccountNumber,
		BIK:           req.BIK,
		BankName:      req.BankName,
		Purpose:       req.Purpose,
		Method:        req.Method,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			h.respondError(w, http.StatusNotFound, "order not found", "POST", "/payments")
		case errors.Is(err, service.ErrOrderAlreadyPaid),
			errors.Is(err, service.ErrDuplicatePayment):
			h.respondError(w, http.StatusConflict, err.Error(), "POST", "/payments")
		case errors.Is(err, service.ErrInsufficientFunds),
			errors.Is(err, service.ErrMissingBankFields),
			errors.Is(err, service.ErrAccountNotOwned),
			errors.Is(err, service.ErrInvalidAmount):
			h.respondError(w, http.StatusUnprocessableEntity, err.Error(), "POST", "/payments")
		default:
			h.internalError(w, err, "POST", "/payments")
		}
		return
	}
	h.respondJSON(w, http.StatusCreated, payment, "POST", "/payments")
}

func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/payments/webhook"))
	defer timer.ObserveDuration()

	var event domain.PaymentEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON", "POST", "/payments/webhook")
		return
	}

	payment, err := h.payments.HandleEvent(r.Context(), event)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDuplicateEvent):
			h.respondError(w, http.StatusConflict, "event already processed", "POST", "/payments/webhook")
		case errors.Is(err, service.ErrPaymentNotFound):
			h.respondError(w, http.StatusNotFound, "payment not found", "POST", "/payments/webhook")
		case errors.Is(err, service.ErrUnknownEventState):
			h.respondError(w, http.StatusUnprocessableEntity, err.Error(), "POST", "/payments/webhook")
		default:
			h.internalError(w, err, "POST", "/payments/webhook")
		}
		return
	}
	h.respondJSON(w, http.StatusOK, payment, "POST", "/payments/webhook")
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid payment id", "GET", "/payments/{id}")
		return
	}

	payment, err := h.payments.PaymentByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			h.respondError(w, http.StatusNotFound, "payment not found", "GET", "/payments/{id}")
			return
		}
		h.internalError(w, err, "GET", "/payments/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, payment, "GET", "/payments/{id}")
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}

func (h *Handler) internalError(w http.ResponseWriter, err error, method, endpoint string) {
	h.log.Error("request failed", zap.String("endpoint", endpoint), zap.Error(err))
	h.respondError(w, http.StatusInternalServerError, "internal error", method, endpoint)
}
