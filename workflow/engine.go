package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"creditprotocol/distribution"
	"creditprotocol/economy"
	"creditprotocol/ledger"
)

var (
	ErrKeyRequired     = errors.New("workflow: idempotency key required")
	ErrBuyerRequired   = errors.New("workflow: buyer required")
	ErrPayerRequired   = errors.New("workflow: payer required")
	ErrListingRequired = errors.New("workflow: listing lookup required")
	ErrSelfPurchase    = errors.New("workflow: buyer already owns the utid")
	ErrNilDependency   = errors.New("workflow: ledger, economy and distributor are required")
)

// EscrowAccount holds buyer funds for the duration of a command. A command
// either pays every participant out of escrow or refunds the buyer in full.
const EscrowAccount = "workflow-escrow"

// Offer is what the external marketplace knows about a listed UTID.
type Offer struct {
	UTID          string
	InsightID     string
	Seller        string
	License       economy.LicenseType
	Validators    []string
	SourceAuthors []distribution.Contribution
}

// Listing resolves a UTID to its current marketplace offer. The marketplace
// itself stays outside this module; the engine only consumes this view.
type Listing interface {
	Lookup(utid string) (*Offer, error)
}

// Receipt summarizes one completed command. Replaying a command with the
// same idempotency key returns the original receipt unchanged.
type Receipt struct {
	Key         string               `json:"key"`
	Kind        string               `json:"kind"`
	UTID        string               `json:"utid,omitempty"`
	InsightID   string               `json:"insightId,omitempty"`
	Total       *big.Int             `json:"total,omitempty"`
	Reward      *big.Int             `json:"reward,omitempty"`
	Record      *distribution.Record `json:"record,omitempty"`
	EventIDs    []string             `json:"eventIds,omitempty"`
	CompletedAt time.Time            `json:"completedAt"`
}

// Clone returns a deep copy of the receipt.
func (r *Receipt) Clone() *Receipt {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Total != nil {
		clone.Total = new(big.Int).Set(r.Total)
	}
	if r.Reward != nil {
		clone.Reward = new(big.Int).Set(r.Reward)
	}
	clone.Record = r.Record.Clone()
	clone.EventIDs = append([]string(nil), r.EventIDs...)
	return &clone
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithNowFunc overrides the time source used for deterministic testing.
func WithNowFunc(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine serializes multi-step commands over the ledger, the token economy
// and the revenue distributor. One mutex covers a whole command: a command
// runs to completion, or its applied steps are compensated, before the next
// command is admitted.
type Engine struct {
	mu      sync.Mutex
	ledger  *ledger.Ledger
	economy *economy.Engine
	dist    *distribution.Distributor
	listing Listing
	seen    map[string]*Receipt
	nowFn   func() time.Time
	logger  *slog.Logger
}

// NewEngine wires a workflow engine over already-constructed services.
func NewEngine(led *ledger.Ledger, eco *economy.Engine, dist *distribution.Distributor, listing Listing, opts ...Option) (*Engine, error) {
	if led == nil || eco == nil || dist == nil {
		return nil, ErrNilDependency
	}
	e := &Engine{
		ledger:  led,
		economy: eco,
		dist:    dist,
		listing: listing,
		seen:    make(map[string]*Receipt),
		nowFn:   time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) now() time.Time { return e.nowFn().UTC() }

// replay returns the stored receipt for key, if any.
func (e *Engine) replay(key string) (*Receipt, bool) {
	receipt, ok := e.seen[key]
	if !ok {
		return nil, false
	}
	return receipt.Clone(), true
}

func (e *Engine) store(receipt *Receipt) *Receipt {
	receipt.CompletedAt = e.now()
	e.seen[receipt.Key] = receipt
	return receipt.Clone()
}

// PurchaseCommand buys a listed UTID outright, transferring ownership.
type PurchaseCommand struct {
	Key   string
	Buyer string
	UTID  string
}

// PurchaseInsight runs the full sale: escrow the price, split it per policy,
// pay every participant, then record the ownership transfer and the
// distribution on the ledger. Any failure after the escrow debit refunds the
// buyer before the error is returned.
func (e *Engine) PurchaseInsight(cmd PurchaseCommand) (*Receipt, error) {
	if cmd.Key == "" {
		return nil, ErrKeyRequired
	}
	if cmd.Buyer == "" {
		return nil, ErrBuyerRequired
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if receipt, ok := e.replay(cmd.Key); ok {
		return receipt, nil
	}
	offer, err := e.lookup(cmd.UTID)
	if err != nil {
		return nil, err
	}
	price := e.economy.CalculateInsightPrice(e.priceInputs(offer))

	// Escrow first: everything after this point must either finish or
	// refund the buyer.
	if err := e.economy.TransferTokens(cmd.Buyer, EscrowAccount, price, false); err != nil {
		return nil, fmt.Errorf("workflow: escrow %s: %w", cmd.UTID, err)
	}
	own, err := e.ledger.Ownership(cmd.UTID)
	if err != nil {
		return nil, e.refund(cmd.Buyer, price, nil, err)
	}
	if own.CurrentOwner == cmd.Buyer {
		return nil, e.refund(cmd.Buyer, price, nil, ErrSelfPurchase)
	}
	record, err := e.dist.DistributeSaleRevenue(distribution.SaleInput{
		TxID:          cmd.Key,
		UTID:          cmd.UTID,
		InsightID:     own.InsightID,
		Total:         price,
		Creator:       own.CurrentOwner,
		Validators:    offer.Validators,
		SourceAuthors: offer.SourceAuthors,
		ProofScore:    own.MaxProofScore,
	})
	if err != nil {
		return nil, e.refund(cmd.Buyer, price, nil, err)
	}
	paid, err := e.payShares(record.Shares)
	if err != nil {
		return nil, e.refund(cmd.Buyer, price, paid, err)
	}
	meta := map[string]string{"txId": cmd.Key, "kind": "sale"}
	transferEvt, err := e.ledger.RecordUTIDTransfer(cmd.UTID, own.CurrentOwner, cmd.Buyer, price, meta)
	if err != nil {
		return nil, e.refund(cmd.Buyer, price, paid, err)
	}
	revenueEvt, err := e.ledger.RecordRevenueDistribution(cmd.UTID, price, shareMap(record.Shares), meta)
	if err != nil {
		return nil, e.refund(cmd.Buyer, price, paid, err)
	}
	return e.store(&Receipt{
		Key:       cmd.Key,
		Kind:      "purchase",
		UTID:      cmd.UTID,
		InsightID: own.InsightID,
		Total:     new(big.Int).Set(price),
		Record:    record,
		EventIDs:  []string{transferEvt.ID, revenueEvt.ID},
	}), nil
}

// LicenseCommand buys a time-boxed license on a listed UTID. Ownership does
// not move; the revenue is distributed with the license premium applied.
type LicenseCommand struct {
	Key          string
	Buyer        string
	UTID         string
	DurationDays uint64
}

// LicenseInsight distributes a license payment without transferring the UTID.
func (e *Engine) LicenseInsight(cmd LicenseCommand) (*Receipt, error) {
	if cmd.Key == "" {
		return nil, ErrKeyRequired
	}
	if cmd.Buyer == "" {
		return nil, ErrBuyerRequired
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if receipt, ok := e.replay(cmd.Key); ok {
		return receipt, nil
	}
	offer, err := e.lookup(cmd.UTID)
	if err != nil {
		return nil, err
	}
	price := e.economy.CalculateInsightPrice(e.priceInputs(offer))
	if err := e.economy.TransferTokens(cmd.Buyer, EscrowAccount, price, false); err != nil {
		return nil, fmt.Errorf("workflow: escrow %s: %w", cmd.UTID, err)
	}
	own, err := e.ledger.Ownership(cmd.UTID)
	if err != nil {
		return nil, e.refund(cmd.Buyer, price, nil, err)
	}
	record, err := e.dist.DistributeLicenseRevenue(distribution.LicenseInput{
		SaleInput: distribution.SaleInput{
			TxID:          cmd.Key,
			UTID:          cmd.UTID,
			InsightID:     own.InsightID,
			Total:         price,
			Creator:       own.CurrentOwner,
			Validators:    offer.Validators,
			SourceAuthors: offer.SourceAuthors,
			ProofScore:    own.MaxProofScore,
		},
		DurationDays: cmd.DurationDays,
	})
	if err != nil {
		return nil, e.refund(cmd.Buyer, price, nil, err)
	}
	paid, err := e.payShares(record.Shares)
	if err != nil {
		return nil, e.refund(cmd.Buyer, price, paid, err)
	}
	meta := map[string]string{"txId": cmd.Key, "kind": "license"}
	revenueEvt, err := e.ledger.RecordRevenueDistribution(cmd.UTID, price, shareMap(record.Shares), meta)
	if err != nil {
		return nil, e.refund(cmd.Buyer, price, paid, err)
	}
	return e.store(&Receipt{
		Key:       cmd.Key,
		Kind:      "license",
		UTID:      cmd.UTID,
		InsightID: own.InsightID,
		Total:     new(big.Int).Set(price),
		Record:    record,
		EventIDs:  []string{revenueEvt.ID},
	}), nil
}

// CitationCommand pays the citation royalty for reusing an insight.
type CitationCommand struct {
	Key         string
	Payer       string
	UTID        string
	CitingPaper string
}

// CiteInsight records the citation and routes the royalty, a policy fraction
// of the current price, to the insight's owner net of the platform fee.
func (e *Engine) CiteInsight(cmd CitationCommand) (*Receipt, error) {
	if cmd.Key == "" {
		return nil, ErrKeyRequired
	}
	if cmd.Payer == "" {
		return nil, ErrPayerRequired
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if receipt, ok := e.replay(cmd.Key); ok {
		return receipt, nil
	}
	offer, err := e.lookup(cmd.UTID)
	if err != nil {
		return nil, err
	}
	price := e.economy.CalculateInsightPrice(e.priceInputs(offer))
	royalty := e.economy.CalculateCitationRoyalty(price)
	if err := e.economy.TransferTokens(cmd.Payer, EscrowAccount, royalty, false); err != nil {
		return nil, fmt.Errorf("workflow: escrow %s: %w", cmd.UTID, err)
	}
	own, err := e.ledger.Ownership(cmd.UTID)
	if err != nil {
		return nil, e.refund(cmd.Payer, royalty, nil, err)
	}
	record, err := e.dist.DistributeCitationRoyalty(cmd.Key, cmd.UTID, own.InsightID, own.CurrentOwner, royalty)
	if err != nil {
		return nil, e.refund(cmd.Payer, royalty, nil, err)
	}
	paid, err := e.payShares(record.Shares)
	if err != nil {
		return nil, e.refund(cmd.Payer, royalty, paid, err)
	}
	meta := map[string]string{"txId": cmd.Key, "kind": "citation"}
	citationEvt, err := e.ledger.RecordCitation(own.InsightID, cmd.CitingPaper, meta)
	if err != nil {
		return nil, e.refund(cmd.Payer, royalty, paid, err)
	}
	revenueEvt, err := e.ledger.RecordRevenueDistribution(cmd.UTID, royalty, shareMap(record.Shares), meta)
	if err != nil {
		return nil, e.refund(cmd.Payer, royalty, paid, err)
	}
	return e.store(&Receipt{
		Key:       cmd.Key,
		Kind:      "citation",
		UTID:      cmd.UTID,
		InsightID: own.InsightID,
		Total:     new(big.Int).Set(royalty),
		Record:    record,
		EventIDs:  []string{citationEvt.ID, revenueEvt.ID},
	}), nil
}

// CreationCommand registers a new insight on the ledger.
type CreationCommand struct {
	Key          string
	InsightID    string
	Creator      string
	SourcePapers []string
	Confidence   float64
}

// RegisterInsight records the creation fact. Creation rewards wait for the
// UTID mint, once a proof score exists.
func (e *Engine) RegisterInsight(cmd CreationCommand) (*Receipt, error) {
	if cmd.Key == "" {
		return nil, ErrKeyRequired
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if receipt, ok := e.replay(cmd.Key); ok {
		return receipt, nil
	}
	evt, err := e.ledger.RecordInsightCreation(cmd.InsightID, cmd.Creator, cmd.SourcePapers, cmd.Confidence, map[string]string{"txId": cmd.Key})
	if err != nil {
		return nil, err
	}
	return e.store(&Receipt{
		Key:       cmd.Key,
		Kind:      "creation",
		InsightID: cmd.InsightID,
		EventIDs:  []string{evt.ID},
	}), nil
}

// ValidationCommand attests an insight and pays the validator reward.
type ValidationCommand struct {
	Key        string
	InsightID  string
	Validator  string
	Method     ledger.ValidationMethod
	ProofScore float64
}

// ValidateInsight records the validation and mints the proof-gated validator
// reward in one step.
func (e *Engine) ValidateInsight(cmd ValidationCommand) (*Receipt, error) {
	if cmd.Key == "" {
		return nil, ErrKeyRequired
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if receipt, ok := e.replay(cmd.Key); ok {
		return receipt, nil
	}
	evt, err := e.ledger.RecordValidation(cmd.InsightID, cmd.Validator, cmd.Method, cmd.ProofScore, map[string]string{"txId": cmd.Key})
	if err != nil {
		return nil, err
	}
	reward, err := e.economy.RewardValidation(cmd.Validator, cmd.ProofScore)
	if err != nil {
		e.logger.Warn("validation reward skipped", "insight", cmd.InsightID, "err", err)
		reward = big.NewInt(0)
	}
	return e.store(&Receipt{
		Key:       cmd.Key,
		Kind:      "validation",
		InsightID: cmd.InsightID,
		Reward:    reward,
		EventIDs:  []string{evt.ID},
	}), nil
}

// MintCommand issues the UTID for a validated insight.
type MintCommand struct {
	Key        string
	InsightID  string
	UTID       string
	Creator    string
	ProofScore float64
}

// MintUTID opens the ownership projection and mints the proof-gated creation
// reward for the creator.
func (e *Engine) MintUTID(cmd MintCommand) (*Receipt, error) {
	if cmd.Key == "" {
		return nil, ErrKeyRequired
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if receipt, ok := e.replay(cmd.Key); ok {
		return receipt, nil
	}
	evt, err := e.ledger.RecordUTIDMinting(cmd.InsightID, cmd.UTID, cmd.Creator, cmd.ProofScore, map[string]string{"txId": cmd.Key})
	if err != nil {
		return nil, err
	}
	reward, err := e.economy.RewardInsightCreation(cmd.Creator, cmd.ProofScore)
	if err != nil {
		e.logger.Warn("creation reward skipped", "utid", cmd.UTID, "err", err)
		reward = big.NewInt(0)
	}
	return e.store(&Receipt{
		Key:       cmd.Key,
		Kind:      "mint",
		UTID:      cmd.UTID,
		InsightID: cmd.InsightID,
		Reward:    reward,
		EventIDs:  []string{evt.ID},
	}), nil
}

// Receipt returns the stored receipt for a previously completed command.
func (e *Engine) Receipt(key string) (*Receipt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replay(key)
}

func (e *Engine) lookup(utid string) (*Offer, error) {
	if e.listing == nil {
		return nil, ErrListingRequired
	}
	offer, err := e.listing.Lookup(utid)
	if err != nil {
		return nil, fmt.Errorf("workflow: lookup %s: %w", utid, err)
	}
	if offer == nil {
		return nil, fmt.Errorf("workflow: lookup %s: %w", utid, ErrListingRequired)
	}
	return offer, nil
}

// priceInputs folds the marketplace offer with the ledger projection into
// pricing inputs. The projection wins for facts the ledger owns.
func (e *Engine) priceInputs(offer *Offer) economy.PriceInputs {
	in := economy.PriceInputs{License: offer.License}
	if own, err := e.ledger.Ownership(offer.UTID); err == nil {
		in.ProofScore = own.MaxProofScore
		in.CitationCount = own.CitationCount
		in.DemandCount = own.PurchaseCount
		in.AgeDays = e.now().Sub(own.CreatedAt).Hours() / 24
	}
	return in
}

// payShares moves one escrowed share to each participant, returning the
// shares applied so far so a failure can be compensated.
func (e *Engine) payShares(shares []distribution.Share) ([]distribution.Share, error) {
	paid := make([]distribution.Share, 0, len(shares))
	for _, share := range shares {
		if share.Amount.Sign() == 0 {
			continue
		}
		if err := e.economy.TransferTokens(EscrowAccount, share.Participant, share.Amount, false); err != nil {
			return paid, fmt.Errorf("workflow: credit %s: %w", share.Participant, err)
		}
		paid = append(paid, share)
	}
	return paid, nil
}

// refund compensates a failed command: already-paid shares are pulled back
// into escrow and the full escrowed amount returns to the buyer. The cause
// is returned so callers see the original failure.
func (e *Engine) refund(buyer string, amount *big.Int, paid []distribution.Share, cause error) error {
	for i := len(paid) - 1; i >= 0; i-- {
		if err := e.economy.TransferTokens(paid[i].Participant, EscrowAccount, paid[i].Amount, false); err != nil {
			e.logger.Error("compensation reversal failed", "participant", paid[i].Participant, "err", err)
		}
	}
	if err := e.economy.TransferTokens(EscrowAccount, buyer, amount, false); err != nil {
		e.logger.Error("compensation refund failed", "buyer", buyer, "err", err)
	}
	return cause
}

func shareMap(shares []distribution.Share) map[string]*big.Int {
	out := make(map[string]*big.Int, len(shares))
	for _, share := range shares {
		if prev, ok := out[share.Participant]; ok {
			out[share.Participant] = new(big.Int).Add(prev, share.Amount)
			continue
		}
		out[share.Participant] = new(big.Int).Set(share.Amount)
	}
	return out
}
