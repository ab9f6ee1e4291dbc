package events

import (
	"math/big"
	"strconv"
	"strings"
)

const (
	// TypeTokenSupply is emitted whenever the token supply changes.
	TypeTokenSupply = "token.supply"
	// TypeTokenTransfer captures a balance movement between two accounts.
	TypeTokenTransfer = "token.transfer"
	// TypeStakeOpened is emitted when tokens are moved into a stake.
	TypeStakeOpened = "token.stake.opened"
	// TypeStakeClosed is emitted when a stake is unwound back to the owner.
	TypeStakeClosed = "token.stake.closed"
	// TypeRewardPoolNegative signals that reward accrual overdrew the pool.
	TypeRewardPoolNegative = "token.rewardPool.negative"

	// SupplyReasonMint identifies mint driven supply increases.
	SupplyReasonMint = "mint"
	// SupplyReasonBurn identifies burn driven supply decreases.
	SupplyReasonBurn = "burn"
	// SupplyReasonTransferBurn identifies the deflationary burn on transfers.
	SupplyReasonTransferBurn = "transferBurn"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// TokenSupply captures a supply delta for the protocol token.
type TokenSupply struct {
	Total  *big.Int
	Delta  *big.Int
	Reason string
}

// EventType satisfies the Event interface.
func (TokenSupply) EventType() string { return TypeTokenSupply }

// Attributes renders the broadcastable payload.
func (e TokenSupply) Attributes() map[string]string {
	attrs := map[string]string{
		"total": formatAmount(e.Total),
		"delta": formatAmount(e.Delta),
	}
	if reason := strings.TrimSpace(e.Reason); reason != "" {
		attrs["reason"] = reason
	}
	return attrs
}

// TokenTransfer captures a settled balance movement.
type TokenTransfer struct {
	From   string
	To     string
	Amount *big.Int
	Burned *big.Int
}

// EventType satisfies the Event interface.
func (TokenTransfer) EventType() string { return TypeTokenTransfer }

// Attributes renders the broadcastable payload.
func (e TokenTransfer) Attributes() map[string]string {
	attrs := map[string]string{
		"from":   e.From,
		"to":     e.To,
		"amount": formatAmount(e.Amount),
	}
	if e.Burned != nil && e.Burned.Sign() > 0 {
		attrs["burned"] = e.Burned.String()
	}
	return attrs
}

// StakeOpened captures a new staking position.
type StakeOpened struct {
	StakeID  string
	Owner    string
	Amount   *big.Int
	APYBps   uint64
	LockDays uint64
}

// EventType satisfies the Event interface.
func (StakeOpened) EventType() string { return TypeStakeOpened }

// Attributes renders the broadcastable payload.
func (e StakeOpened) Attributes() map[string]string {
	return map[string]string{
		"stakeId":  e.StakeID,
		"owner":    e.Owner,
		"amount":   formatAmount(e.Amount),
		"aprBps":   strconv.FormatUint(e.APYBps, 10),
		"lockDays": strconv.FormatUint(e.LockDays, 10),
	}
}

// StakeClosed captures a stake returning its principal and final reward.
type StakeClosed struct {
	StakeID   string
	Owner     string
	Principal *big.Int
	Reward    *big.Int
}

// EventType satisfies the Event interface.
func (StakeClosed) EventType() string { return TypeStakeClosed }

// Attributes renders the broadcastable payload.
func (e StakeClosed) Attributes() map[string]string {
	return map[string]string{
		"stakeId":   e.StakeID,
		"owner":     e.Owner,
		"principal": formatAmount(e.Principal),
		"reward":    formatAmount(e.Reward),
	}
}

// RewardPoolNegative reports the pool balance after an accrual overdraw.
type RewardPoolNegative struct {
	Balance *big.Int
}

// EventType satisfies the Event interface.
func (RewardPoolNegative) EventType() string { return TypeRewardPoolNegative }

// Attributes renders the broadcastable payload.
func (e RewardPoolNegative) Attributes() map[string]string {
	return map[string]string{"balance": formatAmount(e.Balance)}
}
