package events

import (
	"strconv"
	"strings"
)

const (
	// TypeLedgerEventRecorded is emitted for every fact appended to the ledger.
	TypeLedgerEventRecorded = "ledger.event.recorded"
	// TypeLedgerBlockSealed is emitted when a pending batch is sealed into a block.
	TypeLedgerBlockSealed = "ledger.block.sealed"
	// TypeOwnershipTransferred captures a UTID changing hands.
	TypeOwnershipTransferred = "ledger.ownership.transferred"
)

// LedgerEventRecorded captures a newly appended ledger fact.
type LedgerEventRecorded struct {
	EventID   string
	Kind      string
	InsightID string
	UTID      string
}

// EventType satisfies the Event interface.
func (LedgerEventRecorded) EventType() string { return TypeLedgerEventRecorded }

// Attributes renders the broadcastable payload.
func (e LedgerEventRecorded) Attributes() map[string]string {
	attrs := map[string]string{
		"eventId": e.EventID,
		"kind":    e.Kind,
	}
	if id := strings.TrimSpace(e.InsightID); id != "" {
		attrs["insightId"] = id
	}
	if utid := strings.TrimSpace(e.UTID); utid != "" {
		attrs["utid"] = utid
	}
	return attrs
}

// LedgerBlockSealed captures a block sealing with its linkage digest.
type LedgerBlockSealed struct {
	Number     uint64
	EventCount int
	MerkleRoot string
}

// EventType satisfies the Event interface.
func (LedgerBlockSealed) EventType() string { return TypeLedgerBlockSealed }

// Attributes renders the broadcastable payload.
func (e LedgerBlockSealed) Attributes() map[string]string {
	return map[string]string{
		"number":     strconv.FormatUint(e.Number, 10),
		"events":     strconv.Itoa(e.EventCount),
		"merkleRoot": e.MerkleRoot,
	}
}

// OwnershipTransferred captures the owner change applied to a UTID projection.
type OwnershipTransferred struct {
	UTID      string
	FromOwner string
	ToOwner   string
}

// EventType satisfies the Event interface.
func (OwnershipTransferred) EventType() string { return TypeOwnershipTransferred }

// Attributes renders the broadcastable payload.
func (e OwnershipTransferred) Attributes() map[string]string {
	return map[string]string{
		"utid": e.UTID,
		"from": e.FromOwner,
		"to":   e.ToOwner,
	}
}
