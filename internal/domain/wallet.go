// internal/domain/wallet.go
package domain

import "time"

type TxType string

const (
	TxSaleCredit      TxType = "sale_credit"
	TxRefundDebit     TxType = "refund_debit"
	TxCancelReversal  TxType = "cancel_reversal"
	TxWithdrawalDebit TxType = "withdrawal_debit"
)

// Credit reports whether transactions of this type add to the account.
func (t TxType) Credit() bool { return t == TxSaleCredit }

type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

const OriginWithdrawal = "withdrawal"

// OriginRef points back at the entity or withdrawal that caused a transaction.
type OriginRef struct {
	Type string `json:"type" db:"origin_type"`
	ID   string `json:"id" db:"origin_id"`
}

type WalletTransaction struct {
	ID          int64      `json:"id" db:"id"`
	AccountID   string     `json:"account_id" db:"account_id"`
	Amount      int64      `json:"amount" db:"amount"`
	Currency    string     `json:"currency" db:"currency"`
	Type        TxType     `json:"type" db:"type"`
	Status      TxStatus   `json:"status" db:"status"`
	Origin      OriginRef  `json:"origin"`
	Description string     `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// WalletAccount is keyed by user id. Balance and PendingBalance are derived from
// transactions on every read and are never stored.
type WalletAccount struct {
	ID             string    `json:"account_id" db:"id"`
	Currency       string    `json:"currency" db:"currency"`
	Balance        int64     `json:"balance" db:"-"`
	PendingBalance int64     `json:"pending_balance" db:"-"`
	TotalEarned    int64     `json:"total_earned" db:"total_earned"`
	TotalWithdrawn int64     `json:"total_withdrawn" db:"total_withdrawn"`
	Version        int64     `json:"version" db:"version"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// Available is the spendable part of the balance.
func (a *WalletAccount) Available() int64 { return a.Balance - a.PendingBalance }

// Balances is the derived aggregate of an account's transactions.
type Balances struct {
	Completed int64 `json:"balance"`
	Held      int64 `json:"pending_balance"`
}

func (b Balances) Available() int64 { return b.Completed - b.Held }

type WalletStats struct {
	AccountID          string              `json:"account_id"`
	Currency           string              `json:"currency"`
	Balance            int64               `json:"balance"`
	PendingBalance     int64               `json:"pending_balance"`
	Available          int64               `json:"available"`
	TotalEarned        int64               `json:"total_earned"`
	TotalWithdrawn     int64               `json:"total_withdrawn"`
	RecentTransactions []WalletTransaction `json:"recent_transactions"`
}

// Page is a limit/offset window. Zero values get defaults.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
