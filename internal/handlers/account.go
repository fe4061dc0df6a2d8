package handlers

import (
	"errors"
	"net/http"
	"time"

	"toll-plaza/internal/models"
	"toll-plaza/internal/storage"

	"go.uber.org/zap"
)

// DashboardViewModel is the data passed to the dashboard template.
type DashboardViewModel struct {
	User         *models.User
	Transactions []models.Transaction
	Error        string
}

// Dashboard shows the caller's balance and toll history.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.renderDashboard(w, r, http.StatusOK, "")
}

func (h *Handlers) renderDashboard(w http.ResponseWriter, r *http.Request, status int, errMsg string) {
	user := IdentityFromContext(r.Context()).User
	txs, err := h.db.ListTransactionsByCar(r.Context(), user.CarNumber)
	if err != nil {
		h.logger.Error("list transactions", zap.Int64("user_id", user.ID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.renderStatus(w, r, status, "dashboard.html", DashboardViewModel{
		User:         user,
		Transactions: txs,
		Error:        errMsg,
	})
}

// PayToll debits the caller and records the toll.
func (h *Handlers) PayToll(w http.ResponseWriter, r *http.Request) {
	user := IdentityFromContext(r.Context()).User
	amount, msg := h.parseAmount(r)
	if msg != "" {
		h.renderDashboard(w, r, http.StatusBadRequest, msg)
		return
	}

	tx, err := h.db.PayToll(r.Context(), user.ID, amount, time.Now())
	switch {
	case errors.Is(err, storage.ErrInsufficientBalance):
		h.renderDashboard(w, r, http.StatusUnprocessableEntity, "Insufficient balance")
		return
	case errors.Is(err, storage.ErrConcurrentUpdate):
		h.renderDashboard(w, r, http.StatusConflict, "Your balance changed while paying. Please try again.")
		return
	case err != nil:
		h.logger.Error("pay toll", zap.Int64("user_id", user.ID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("toll paid",
		zap.Int64("user_id", user.ID),
		zap.Int64("transaction_id", tx.ID),
		zap.String("amount", tx.Amount.String()),
	)
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}

// Recharge credits the caller. No transaction row is written for a recharge;
// the log line is its only record.
func (h *Handlers) Recharge(w http.ResponseWriter, r *http.Request) {
	user := IdentityFromContext(r.Context()).User
	amount, msg := h.parseAmount(r)
	if msg != "" {
		h.renderDashboard(w, r, http.StatusBadRequest, msg)
		return
	}

	balance, err := h.db.Recharge(r.Context(), user.ID, amount)
	switch {
	case errors.Is(err, storage.ErrConcurrentUpdate):
		h.renderDashboard(w, r, http.StatusConflict, "Your balance changed while recharging. Please try again.")
		return
	case err != nil:
		h.logger.Error("recharge", zap.Int64("user_id", user.ID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("balance recharged",
		zap.Int64("user_id", user.ID),
		zap.String("amount", amount.String()),
		zap.String("balance", balance.String()),
	)
	http.Redirect(w, r, "/dashboard", http.StatusFound)
}
