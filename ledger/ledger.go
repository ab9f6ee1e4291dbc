package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"creditprotocol/core/events"
)

var (
	ErrUnknownUTID       = errors.New("ledger: unknown utid")
	ErrDuplicateUTID     = errors.New("ledger: utid already minted")
	ErrInsightIDRequired = errors.New("ledger: insight id required")
	ErrUTIDRequired      = errors.New("ledger: utid required")
	ErrOwnerRequired     = errors.New("ledger: owner required")
	ErrInvalidMethod     = errors.New("ledger: invalid validation method")
	ErrInvalidProofScore = errors.New("ledger: proof score out of range")
)

// DefaultBlockThreshold is the pending-event count that triggers sealing.
const DefaultBlockThreshold = 100

// Option configures a Ledger at construction time.
type Option func(*Ledger)

// WithBlockThreshold overrides the sealing threshold.
func WithBlockThreshold(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.threshold = n
		}
	}
}

// WithNowFunc overrides the time source used for deterministic testing.
func WithNowFunc(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.nowFn = now
		}
	}
}

// WithEmitter configures the event emitter used by the ledger.
func WithEmitter(emitter events.Emitter) Option {
	return func(l *Ledger) {
		if emitter != nil {
			l.emitter = emitter
		}
	}
}

// WithIDFunc overrides the event id generator. Useful for reproducible
// fixtures; production callers keep the uuid default.
func WithIDFunc(id func() string) Option {
	return func(l *Ledger) {
		if id != nil {
			l.idFn = id
		}
	}
}

// Ledger is the append-only, block-chained event log with per-UTID ownership
// projections. All mutating methods are safe for concurrent use.
type Ledger struct {
	mu sync.RWMutex

	blocks  []*Block
	pending []*Event

	byInsight map[string][]*Event
	byUTID    map[string][]*Event
	byCreator map[string][]*Event
	ownership map[string]*Ownership

	threshold int
	nowFn     func() time.Time
	idFn      func() string
	emitter   events.Emitter
}

// New constructs a ledger and seals the genesis block.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		byInsight: make(map[string][]*Event),
		byUTID:    make(map[string][]*Event),
		byCreator: make(map[string][]*Event),
		ownership: make(map[string]*Ownership),
		threshold: DefaultBlockThreshold,
		nowFn:     time.Now,
		idFn:      func() string { return uuid.NewString() },
		emitter:   events.NoopEmitter{},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.sealGenesis()
	return l
}

func (l *Ledger) now() time.Time { return l.nowFn().UTC() }

func newNonce() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("ledger: nonce entropy unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf[:])
}

func (l *Ledger) sealGenesis() {
	genesis := &Event{
		ID:        l.idFn(),
		Type:      EventGenesis,
		Timestamp: l.now(),
		CreatorID: "system",
		Metadata:  map[string]string{"description": "credit protocol ledger genesis"},
	}
	l.pending = append(l.pending, genesis)
	l.sealLocked()
}

// RecordInsightCreation appends a creation fact for a new insight.
func (l *Ledger) RecordInsightCreation(insightID, creatorID string, sourcePapers []string, confidence float64, metadata map[string]string) (*Event, error) {
	insightID = strings.TrimSpace(insightID)
	if insightID == "" {
		return nil, ErrInsightIDRequired
	}
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return nil, ErrOwnerRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	evt := l.newEvent(EventInsightCreated, metadata)
	evt.InsightID = insightID
	evt.CreatorID = creatorID
	evt.SourcePapers = append([]string(nil), sourcePapers...)
	evt.Confidence = confidence
	l.appendLocked(evt)
	return evt.Clone(), nil
}

// RecordValidation appends a validation fact and folds the proof score into
// any ownership projection tracking the insight.
func (l *Ledger) RecordValidation(insightID, validatorID string, method ValidationMethod, proofScore float64, metadata map[string]string) (*Event, error) {
	insightID = strings.TrimSpace(insightID)
	if insightID == "" {
		return nil, ErrInsightIDRequired
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, method)
	}
	if proofScore < 0 || proofScore > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProofScore, proofScore)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	evt := l.newEvent(EventInsightValidated, metadata)
	evt.InsightID = insightID
	evt.ValidatorID = strings.TrimSpace(validatorID)
	evt.Method = method
	evt.ProofScore = proofScore
	l.appendLocked(evt)
	for _, own := range l.ownership {
		if own.InsightID != insightID {
			continue
		}
		own.ValidationCount++
		own.Methods[method] = struct{}{}
		if proofScore > own.MaxProofScore {
			own.MaxProofScore = proofScore
		}
		own.LastTransaction = evt.Timestamp
	}
	return evt.Clone(), nil
}

// RecordUTIDMinting appends a mint fact and opens the ownership projection
// for the new UTID. The minting creator becomes the first owner.
func (l *Ledger) RecordUTIDMinting(insightID, utid, creatorID string, proofScore float64, metadata map[string]string) (*Event, error) {
	insightID = strings.TrimSpace(insightID)
	if insightID == "" {
		return nil, ErrInsightIDRequired
	}
	utid = strings.TrimSpace(utid)
	if utid == "" {
		return nil, ErrUTIDRequired
	}
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return nil, ErrOwnerRequired
	}
	if proofScore < 0 || proofScore > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProofScore, proofScore)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.ownership[utid]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateUTID, utid)
	}
	evt := l.newEvent(EventUTIDMinted, metadata)
	evt.InsightID = insightID
	evt.UTID = utid
	evt.CreatorID = creatorID
	evt.ProofScore = proofScore
	l.appendLocked(evt)
	l.ownership[utid] = &Ownership{
		InsightID:       insightID,
		UTID:            utid,
		CurrentOwner:    creatorID,
		History:         []OwnershipEntry{{Owner: creatorID, At: evt.Timestamp}},
		TotalRevenue:    big.NewInt(0),
		MaxProofScore:   proofScore,
		Methods:         make(map[ValidationMethod]struct{}),
		CreatedAt:       evt.Timestamp,
		LastTransaction: evt.Timestamp,
	}
	return evt.Clone(), nil
}

// RecordUTIDTransfer appends a transfer fact and advances the ownership
// projection. Transferring an unknown UTID fails explicitly.
func (l *Ledger) RecordUTIDTransfer(utid, fromOwner, toOwner string, amount *big.Int, metadata map[string]string) (*Event, error) {
	utid = strings.TrimSpace(utid)
	if utid == "" {
		return nil, ErrUTIDRequired
	}
	toOwner = strings.TrimSpace(toOwner)
	if toOwner == "" {
		return nil, ErrOwnerRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	own, ok := l.ownership[utid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUTID, utid)
	}
	evt := l.newEvent(EventUTIDTransferred, metadata)
	evt.UTID = utid
	evt.InsightID = own.InsightID
	evt.FromOwner = strings.TrimSpace(fromOwner)
	evt.ToOwner = toOwner
	if amount != nil {
		evt.Amount = new(big.Int).Set(amount)
	}
	l.appendLocked(evt)
	own.CurrentOwner = toOwner
	entry := OwnershipEntry{Owner: toOwner, From: evt.FromOwner, At: evt.Timestamp}
	if evt.Amount != nil {
		entry.Amount = new(big.Int).Set(evt.Amount)
	}
	own.History = append(own.History, entry)
	if evt.Amount != nil && evt.Amount.Sign() > 0 {
		own.PurchaseCount++
		own.TotalRevenue = new(big.Int).Add(own.TotalRevenue, evt.Amount)
	}
	own.LastTransaction = evt.Timestamp
	l.emitter.Emit(events.OwnershipTransferred{UTID: utid, FromOwner: evt.FromOwner, ToOwner: toOwner})
	return evt.Clone(), nil
}

// RecordCitation appends a citation fact against an insight.
func (l *Ledger) RecordCitation(insightID, citingPaperID string, metadata map[string]string) (*Event, error) {
	insightID = strings.TrimSpace(insightID)
	if insightID == "" {
		return nil, ErrInsightIDRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	evt := l.newEvent(EventCitationRecorded, metadata)
	evt.InsightID = insightID
	if citing := strings.TrimSpace(citingPaperID); citing != "" {
		evt.CitingPapers = []string{citing}
	}
	l.appendLocked(evt)
	for _, own := range l.ownership {
		if own.InsightID == insightID {
			own.CitationCount++
			own.LastTransaction = evt.Timestamp
		}
	}
	return evt.Clone(), nil
}

// RecordRevenueDistribution appends a distribution fact for a known UTID and
// accumulates the gross amount into the projection's revenue counter.
func (l *Ledger) RecordRevenueDistribution(utid string, totalAmount *big.Int, shares map[string]*big.Int, metadata map[string]string) (*Event, error) {
	utid = strings.TrimSpace(utid)
	if utid == "" {
		return nil, ErrUTIDRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	own, ok := l.ownership[utid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUTID, utid)
	}
	evt := l.newEvent(EventRevenueDistributed, metadata)
	evt.UTID = utid
	evt.InsightID = own.InsightID
	if totalAmount != nil {
		evt.Amount = new(big.Int).Set(totalAmount)
	}
	if len(shares) > 0 {
		evt.Shares = make(map[string]*big.Int, len(shares))
		for participant, amount := range shares {
			evt.Shares[participant] = new(big.Int).Set(amount)
		}
	}
	l.appendLocked(evt)
	if evt.Amount != nil && evt.Amount.Sign() > 0 {
		own.TotalRevenue = new(big.Int).Add(own.TotalRevenue, evt.Amount)
	}
	own.LastTransaction = evt.Timestamp
	return evt.Clone(), nil
}

// RecordProofScoreUpdate appends a proof-score revision for an insight.
func (l *Ledger) RecordProofScoreUpdate(insightID string, proofScore float64, metadata map[string]string) (*Event, error) {
	insightID = strings.TrimSpace(insightID)
	if insightID == "" {
		return nil, ErrInsightIDRequired
	}
	if proofScore < 0 || proofScore > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProofScore, proofScore)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	evt := l.newEvent(EventProofScoreUpdated, metadata)
	evt.InsightID = insightID
	evt.ProofScore = proofScore
	l.appendLocked(evt)
	for _, own := range l.ownership {
		if own.InsightID == insightID && proofScore > own.MaxProofScore {
			own.MaxProofScore = proofScore
		}
	}
	return evt.Clone(), nil
}

func (l *Ledger) newEvent(kind EventType, metadata map[string]string) *Event {
	evt := &Event{
		ID:        l.idFn(),
		Type:      kind,
		Timestamp: l.now(),
	}
	if len(metadata) > 0 {
		evt.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			evt.Metadata[k] = v
		}
	}
	return evt
}

// appendLocked adds the event to the pending buffer and secondary indexes,
// sealing a block once the threshold is reached. Caller holds l.mu.
func (l *Ledger) appendLocked(evt *Event) {
	l.pending = append(l.pending, evt)
	if evt.InsightID != "" {
		l.byInsight[evt.InsightID] = append(l.byInsight[evt.InsightID], evt)
	}
	if evt.UTID != "" {
		l.byUTID[evt.UTID] = append(l.byUTID[evt.UTID], evt)
	}
	if evt.CreatorID != "" {
		l.byCreator[evt.CreatorID] = append(l.byCreator[evt.CreatorID], evt)
	}
	l.emitter.Emit(events.LedgerEventRecorded{
		EventID:   evt.ID,
		Kind:      string(evt.Type),
		InsightID: evt.InsightID,
		UTID:      evt.UTID,
	})
	if len(l.pending) >= l.threshold {
		l.sealLocked()
	}
}

// SealBlock forces the pending buffer into a block regardless of threshold.
// Returns the sealed block, or nil when nothing was pending.
func (l *Ledger) SealBlock() *Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sealLocked()
}

func (l *Ledger) sealLocked() *Block {
	if len(l.pending) == 0 {
		return nil
	}
	previous := zeroHash
	if n := len(l.blocks); n > 0 {
		previous = l.blocks[n-1].HeaderHash()
	}
	leaves := make([]string, len(l.pending))
	for i, evt := range l.pending {
		leaves[i] = evt.Hash()
	}
	block := &Block{
		Number:       uint64(len(l.blocks)),
		Timestamp:    l.now(),
		Events:       l.pending,
		PreviousHash: previous,
		MerkleRoot:   merkleRoot(leaves),
		Nonce:        newNonce(),
	}
	stamp := block.HeaderHash()
	for _, evt := range block.Events {
		evt.BlockHash = stamp
		evt.BlockNumber = block.Number
	}
	l.blocks = append(l.blocks, block)
	l.pending = nil
	l.emitter.Emit(events.LedgerBlockSealed{
		Number:     block.Number,
		EventCount: len(block.Events),
		MerkleRoot: block.MerkleRoot,
	})
	return block.Clone()
}

// AttestBlock records a keyed attestation on a sealed block.
func (l *Ledger) AttestBlock(number uint64, validatorID string, key []byte) error {
	validatorID = strings.TrimSpace(validatorID)
	if validatorID == "" {
		return ErrOwnerRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if number >= uint64(len(l.blocks)) {
		return fmt.Errorf("ledger: block %d not sealed", number)
	}
	block := l.blocks[number]
	if block.Signatures == nil {
		block.Signatures = make(map[string]string)
	}
	block.Signatures[validatorID] = block.Attest(validatorID, key)
	return nil
}

// Ownership returns a copy of the projection for the supplied UTID.
func (l *Ledger) Ownership(utid string) (*Ownership, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	own, ok := l.ownership[strings.TrimSpace(utid)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUTID, utid)
	}
	return own.Clone(), nil
}

// EventsByInsight returns copies of all events recorded for an insight.
func (l *Ledger) EventsByInsight(insightID string) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneEvents(l.byInsight[strings.TrimSpace(insightID)])
}

// EventsByUTID returns copies of all events recorded for a UTID.
func (l *Ledger) EventsByUTID(utid string) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneEvents(l.byUTID[strings.TrimSpace(utid)])
}

// EventsByCreator returns copies of all events attributed to a creator.
func (l *Ledger) EventsByCreator(creatorID string) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneEvents(l.byCreator[strings.TrimSpace(creatorID)])
}

// BlockCount returns the number of sealed blocks.
func (l *Ledger) BlockCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks)
}

// PendingCount returns the number of events awaiting sealing.
func (l *Ledger) PendingCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

// Block returns a copy of the sealed block with the given number.
func (l *Ledger) Block(number uint64) (*Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if number >= uint64(len(l.blocks)) {
		return nil, fmt.Errorf("ledger: block %d not sealed", number)
	}
	return l.blocks[number].Clone(), nil
}

func cloneEvents(evts []*Event) []*Event {
	if len(evts) == 0 {
		return nil
	}
	out := make([]*Event, len(evts))
	for i, evt := range evts {
		out[i] = evt.Clone()
	}
	return out
}
