package billing

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// WebhookHandler accepts payment notifications from the external payment
// processor and applies them as ledger credits. Delivery retries and
// duplicate webhooks are harmless: the payment ID doubles as the idempotency
// key, so each payment credits the account at most once.
type WebhookHandler struct {
	ledger *Ledger
}

// NewWebhookHandler creates a handler crediting through the given ledger.
func NewWebhookHandler(ledger *Ledger) *WebhookHandler {
	return &WebhookHandler{ledger: ledger}
}

// paymentNotification is the JSON body the payment processor posts.
type paymentNotification struct {
	AccountID string `json:"account_id"`
	PaymentID string `json:"payment_id"`
	// Amount is the credited amount in minor currency units.
	Amount int64 `json:"amount"`
}

type webhookResponse struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
	Replayed  bool   `json:"replayed"`
}

// ServeHTTP implements http.Handler for POST /webhooks/payment.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var note paymentNotification
	if err := json.NewDecoder(r.Body).Decode(&note); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if note.AccountID == "" || note.PaymentID == "" || note.Amount <= 0 {
		http.Error(w, "missing account_id, payment_id, or amount", http.StatusBadRequest)
		return
	}

	outcome, err := h.ledger.ApplyEvent(r.Context(), note.AccountID, KindCredit, note.Amount, "payment:"+note.PaymentID)
	if err != nil {
		// A 5xx makes the processor redeliver with the same payment ID, which
		// the idempotency key absorbs.
		slog.Error("payment credit failed", "account", note.AccountID, "payment", note.PaymentID, "error", err)
		http.Error(w, "credit failed", http.StatusInternalServerError)
		return
	}

	slog.Info("payment credited",
		"account", note.AccountID,
		"payment", note.PaymentID,
		"amount", note.Amount,
		"balance", outcome.Balance.Amount,
		"replayed", outcome.Replayed)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(webhookResponse{
		AccountID: note.AccountID,
		Balance:   outcome.Balance.Amount,
		Replayed:  outcome.Replayed,
	})
}
