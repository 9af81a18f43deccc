package domain

import "time"

// RewardType identifies which beneficiary bucket of the trading fee an
// accrual belongs to.
type RewardType string

const (
	RewardCreator  RewardType = "creator"
	RewardVault    RewardType = "vault"
	RewardTreasury RewardType = "treasury"
)

// Valid reports whether t is a recognized reward type.
func (t RewardType) Valid() bool {
	switch t {
	case RewardCreator, RewardVault, RewardTreasury:
		return true
	}
	return false
}

// RewardBalance is the accrued/claimed ledger for one beneficiary of one
// agent's trading fees. The claimable amount is Accrued - Claimed.
type RewardBalance struct {
	AgentID    string
	Address    string
	RewardType RewardType
	Accrued    float64
	Claimed    float64
	UpdatedAt  time.Time
}

// ClaimResult is the outcome of an atomic reward claim.
type ClaimResult struct {
	ClaimedAmount float64 `json:"claimed_amount"`
	TotalReward   float64 `json:"total_reward"`
	Remaining     float64 `json:"remaining"`
}

// FeeAccrual is one beneficiary's share of a single trade's fee, applied to
// the rewards ledger inside the same transaction as the trade itself.
type FeeAccrual struct {
	Address    string
	RewardType RewardType
	Amount     float64
}
