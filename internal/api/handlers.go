package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/account-ledger/internal/logging"
	"github.com/sheikh-saqib/account-ledger/internal/models"
)

// LedgerService is the part of ledger.Ledger the handlers call
type LedgerService interface {
	Credit(ctx context.Context, accountID string, amount decimal.Decimal) (models.TransactionRecord, error)
	Debit(ctx context.Context, accountID string, amount decimal.Decimal) (models.TransactionRecord, error)
	GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
}

// Pinger reports whether the store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

const maxBodyBytes = 1 << 16

type Handler struct {
	ledger LedgerService
	store  Pinger
	logger *logging.Logger
}

func NewHandler(ledger LedgerService, store Pinger, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Handler{
		ledger: ledger,
		store:  store,
		logger: logger.Named("api"),
	}
}

type amountRequest struct {
	Amount json.Number `json:"amount"`
}

type balanceResponse struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.ledger.Credit)
}

func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, h.ledger.Debit)
}

type writeFunc func(context.Context, string, decimal.Decimal) (models.TransactionRecord, error)

func (h *Handler) write(w http.ResponseWriter, r *http.Request, apply writeFunc) {
	accountID := mux.Vars(r)["id"]

	amount, err := decodeAmount(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	record, err := apply(r.Context(), accountID, amount)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	balance, err := h.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{AccountID: accountID, Balance: balance})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeAmount(r *http.Request) (decimal.Decimal, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	var req amountRequest
	if err := dec.Decode(&req); err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid request body: %v", models.ErrInvalidAmount, err)
	}
	if req.Amount == "" {
		return decimal.Zero, fmt.Errorf("%w: amount is required", models.ErrInvalidAmount)
	}
	return models.ParseAmount(req.Amount.String())
}

// StatusFor maps a ledger error to its HTTP status
func StatusFor(err error) int {
	switch models.Classify(err) {
	case "ok":
		return http.StatusOK
	case "invalid_amount", "invalid_account":
		return http.StatusBadRequest
	case "insufficient_funds":
		return http.StatusUnprocessableEntity
	case "conflict":
		return http.StatusConflict
	case "canceled", "storage":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		// driver details stay in the logs
		h.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
		message = http.StatusText(status)
	}

	var insufficient *models.InsufficientFundsError
	if errors.As(err, &insufficient) {
		message = fmt.Sprintf("insufficient funds: balance %s, requested %s",
			insufficient.Balance.String(), insufficient.Requested.String())
	}

	writeJSON(w, status, errorResponse{Error: message, Code: models.Classify(err)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
