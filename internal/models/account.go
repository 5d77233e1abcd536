package models

import "github.com/shopspring/decimal"

// AccountStatus is the lifecycle status reported by the account ledger.
type AccountStatus string

const (
	AccountActive   AccountStatus = "ACTIVE"
	AccountInactive AccountStatus = "INACTIVE"
	AccountBlocked  AccountStatus = "BLOCKED"
)

// Account is the orchestrator's view of an account as owned by the account
// ledger service. Balance and Version are only ever read here; every mutation
// goes through a conditional update keyed on Version.
type Account struct {
	ID       string          `json:"account_id"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
	Status   AccountStatus   `json:"status"`
	Version  int64           `json:"version"`
}

// CanTransact reports whether balance effects may be applied to the account.
func (a Account) CanTransact() bool {
	return a.Status == AccountActive
}
