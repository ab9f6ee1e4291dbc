package ledger

import (
	"math/big"
	"time"
)

// EventType enumerates the closed set of facts the ledger records.
type EventType string

const (
	EventInsightCreated     EventType = "insight.created"
	EventInsightValidated   EventType = "insight.validated"
	EventUTIDMinted         EventType = "utid.minted"
	EventUTIDTransferred    EventType = "utid.transferred"
	EventCitationRecorded   EventType = "citation.recorded"
	EventInsightPurchased   EventType = "insight.purchased"
	EventRevenueDistributed EventType = "revenue.distributed"
	EventProofScoreUpdated  EventType = "proofScore.updated"
	EventGenesis            EventType = "system.genesis"
)

// Valid reports whether the event type belongs to the closed set.
func (t EventType) Valid() bool {
	switch t {
	case EventInsightCreated, EventInsightValidated, EventUTIDMinted,
		EventUTIDTransferred, EventCitationRecorded, EventInsightPurchased,
		EventRevenueDistributed, EventProofScoreUpdated, EventGenesis:
		return true
	}
	return false
}

// ValidationMethod enumerates the supported validation procedures.
type ValidationMethod string

const (
	MethodPeerReview    ValidationMethod = "peer-review"
	MethodReplication   ValidationMethod = "replication"
	MethodFormalProof   ValidationMethod = "formal-proof"
	MethodEmpiricalTest ValidationMethod = "empirical-test"
)

// Valid reports whether the method belongs to the closed set.
func (m ValidationMethod) Valid() bool {
	switch m {
	case MethodPeerReview, MethodReplication, MethodFormalProof, MethodEmpiricalTest:
		return true
	}
	return false
}

// Event is an immutable ledger fact. Once recorded it is never mutated except
// for the one-time block stamp applied at sealing.
type Event struct {
	ID           string              `json:"id"`
	Type         EventType           `json:"type"`
	Timestamp    time.Time           `json:"timestamp"`
	InsightID    string              `json:"insightId,omitempty"`
	UTID         string              `json:"utid,omitempty"`
	CreatorID    string              `json:"creatorId,omitempty"`
	ValidatorID  string              `json:"validatorId,omitempty"`
	FromOwner    string              `json:"fromOwner,omitempty"`
	ToOwner      string              `json:"toOwner,omitempty"`
	Method       ValidationMethod    `json:"method,omitempty"`
	ProofScore   float64             `json:"proofScore,omitempty"`
	Confidence   float64             `json:"confidence,omitempty"`
	Amount       *big.Int            `json:"amount,omitempty"`
	Shares       map[string]*big.Int `json:"shares,omitempty"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
	SourcePapers []string            `json:"sourcePapers,omitempty"`
	CitingPapers []string            `json:"citingPapers,omitempty"`

	// Block stamp, assigned exactly once when the containing block seals.
	BlockHash   string `json:"blockHash,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	}
	if e.Shares != nil {
		clone.Shares = make(map[string]*big.Int, len(e.Shares))
		for k, v := range e.Shares {
			clone.Shares[k] = new(big.Int).Set(v)
		}
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	clone.SourcePapers = append([]string(nil), e.SourcePapers...)
	clone.CitingPapers = append([]string(nil), e.CitingPapers...)
	return &clone
}

// Block is an ordered, immutable batch of sealed events.
type Block struct {
	Number       uint64            `json:"number"`
	Timestamp    time.Time         `json:"timestamp"`
	Events       []*Event          `json:"events"`
	PreviousHash string            `json:"previousHash"`
	MerkleRoot   string            `json:"merkleRoot"`
	Nonce        string            `json:"nonce"`
	Signatures   map[string]string `json:"signatures,omitempty"`
}

// Clone returns a deep copy of the block.
func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	clone := *b
	clone.Events = make([]*Event, len(b.Events))
	for i, evt := range b.Events {
		clone.Events[i] = evt.Clone()
	}
	if b.Signatures != nil {
		clone.Signatures = make(map[string]string, len(b.Signatures))
		for k, v := range b.Signatures {
			clone.Signatures[k] = v
		}
	}
	return &clone
}

// OwnershipEntry is one step in a UTID's ownership history.
type OwnershipEntry struct {
	Owner  string    `json:"owner"`
	From   string    `json:"from,omitempty"`
	At     time.Time `json:"at"`
	Amount *big.Int  `json:"amount,omitempty"`
}

// Ownership is the derived projection tracking the lifecycle of one UTID.
// Exactly one current owner exists at any instant.
type Ownership struct {
	InsightID       string                        `json:"insightId"`
	UTID            string                        `json:"utid"`
	CurrentOwner    string                        `json:"currentOwner"`
	History         []OwnershipEntry              `json:"history"`
	TotalRevenue    *big.Int                      `json:"totalRevenue"`
	CitationCount   uint64                        `json:"citationCount"`
	PurchaseCount   uint64                        `json:"purchaseCount"`
	MaxProofScore   float64                       `json:"maxProofScore"`
	ValidationCount uint64                        `json:"validationCount"`
	Methods         map[ValidationMethod]struct{} `json:"-"`
	CreatedAt       time.Time                     `json:"createdAt"`
	LastTransaction time.Time                     `json:"lastTransaction"`
}

// Clone returns a deep copy of the ownership projection.
func (o *Ownership) Clone() *Ownership {
	if o == nil {
		return nil
	}
	clone := *o
	clone.History = make([]OwnershipEntry, len(o.History))
	for i, entry := range o.History {
		clone.History[i] = entry
		if entry.Amount != nil {
			clone.History[i].Amount = new(big.Int).Set(entry.Amount)
		}
	}
	if o.TotalRevenue != nil {
		clone.TotalRevenue = new(big.Int).Set(o.TotalRevenue)
	}
	clone.Methods = make(map[ValidationMethod]struct{}, len(o.Methods))
	for m := range o.Methods {
		clone.Methods[m] = struct{}{}
	}
	return &clone
}

// ValidationMethods returns the distinct methods observed for the UTID.
func (o *Ownership) ValidationMethods() []ValidationMethod {
	if o == nil {
		return nil
	}
	methods := make([]ValidationMethod, 0, len(o.Methods))
	for m := range o.Methods {
		methods = append(methods, m)
	}
	return methods
}
