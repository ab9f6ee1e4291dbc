package events

import (
	"math/big"
	"strconv"
)

const (
	// TypeRevenueDistributed is emitted when a payment is split into shares.
	TypeRevenueDistributed = "revenue.distributed"
)

// RevenueDistributed captures a completed waterfall distribution.
type RevenueDistributed struct {
	RecordID string
	Kind     string
	UTID     string
	Total    *big.Int
	Shares   int
}

// EventType satisfies the Event interface.
func (RevenueDistributed) EventType() string { return TypeRevenueDistributed }

// Attributes renders the broadcastable payload.
func (e RevenueDistributed) Attributes() map[string]string {
	attrs := map[string]string{
		"recordId": e.RecordID,
		"kind":     e.Kind,
		"total":    formatAmount(e.Total),
		"shares":   strconv.Itoa(e.Shares),
	}
	if e.UTID != "" {
		attrs["utid"] = e.UTID
	}
	return attrs
}
