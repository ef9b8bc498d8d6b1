package protocol

import "encoding/json"

// Transaction statuses reported by the status command.
const (
	TxStatusOK       = "OK"
	TxStatusCanceled = "CANCELED"
)

// BalanceResult is the data of balance and finishround.
type BalanceResult struct {
	Balance  json.Number `json:"balance"`
	Currency string      `json:"currency"`
}

// AuthenticateResult is the data of authenticate.
type AuthenticateResult struct {
	UserID   string      `json:"user_id"`
	Username string      `json:"username"`
	Balance  json.Number `json:"balance"`
	Currency string      `json:"currency"`
}

// ChangeBalanceResult is the data of changebalance and cancel.
type ChangeBalanceResult struct {
	Balance       json.Number `json:"balance"`
	Currency      string      `json:"currency"`
	TransactionID string      `json:"transaction_id"`
}

// StatusResult is the data of status.
type StatusResult struct {
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
}
