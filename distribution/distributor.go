package distribution

import (
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
	ErrAmountRequired    = errors.New("distribution: amount must be positive")
	ErrCreatorRequired   = errors.New("distribution: creator id required")
	ErrNoContributors    = errors.New("distribution: at least one contributor required")
	ErrZeroWeights       = errors.New("distribution: contributor weights sum to zero")
	ErrTooManyValidators = errors.New("distribution: validator count exceeds limit")
)

// PlatformAccount is the participant id credited with platform shares.
const PlatformAccount = "platform"

// StakerPoolAccount is the participant id funding the staker reward pool.
const StakerPoolAccount = "staker-pool"

// maxValidators bounds the even split so a single sale cannot dust-spray.
const maxValidators = 100

// Role tags the participant class a share belongs to.
type Role string

const (
	RoleCreator      Role = "creator"
	RoleValidator    Role = "validator"
	RoleSourceAuthor Role = "source-author"
	RolePlatform     Role = "platform"
	RoleStakerPool   Role = "staker-pool"
)

// Kind tags which waterfall produced a record.
type Kind string

const (
	KindSale          Kind = "sale"
	KindCitation      Kind = "citation"
	KindLicense       Kind = "license"
	KindCollaborative Kind = "collaborative"
)

// Share is one participant's slice of a distributed payment.
type Share struct {
	Participant string   `json:"participant"`
	Role        Role     `json:"role"`
	Amount      *big.Int `json:"amount"`
	Bps         uint64   `json:"bps"`
	Reason      string   `json:"reason"`
}

// Contribution pairs a participant with a relative weight.
type Contribution struct {
	Participant string  `json:"participant"`
	Weight      float64 `json:"weight"`
}

// Record captures one payment split into shares. The shares always sum to
// the total: rounding residue is folded into the platform share.
type Record struct {
	ID        string    `json:"id"`
	TxID      string    `json:"txId,omitempty"`
	UTID      string    `json:"utid,omitempty"`
	InsightID string    `json:"insightId,omitempty"`
	Kind      Kind      `json:"kind"`
	Total     *big.Int  `json:"total"`
	Shares    []Share   `json:"shares"`
	Policy    Policy    `json:"policy"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Total = new(big.Int).Set(r.Total)
	clone.Shares = make([]Share, len(r.Shares))
	for i, share := range r.Shares {
		clone.Shares[i] = share
		clone.Shares[i].Amount = new(big.Int).Set(share.Amount)
	}
	return &clone
}

// SaleInput describes one sale to be distributed.
type SaleInput struct {
	TxID          string
	UTID          string
	InsightID     string
	Total         *big.Int
	Creator       string
	Validators    []string
	SourceAuthors []Contribution
	ProofScore    float64
}

// LicenseInput describes one license payment to be distributed.
type LicenseInput struct {
	SaleInput
	DurationDays uint64
}

// CollaborativeInput describes a sale whose creator share is split across
// multiple contributors.
type CollaborativeInput struct {
	TxID          string
	UTID          string
	InsightID     string
	Total         *big.Int
	Contributors  []Contribution
	Validators    []string
	SourceAuthors []Contribution
	ProofScore    float64
}

// Option configures a Distributor at construction time.
type Option func(*Distributor)

// WithNowFunc overrides the time source used for deterministic testing.
func WithNowFunc(now func() time.Time) Option {
	return func(d *Distributor) {
		if now != nil {
			d.nowFn = now
		}
	}
}

// WithEmitter configures the event emitter used by the distributor.
func WithEmitter(emitter events.Emitter) Option {
	return func(d *Distributor) {
		if emitter != nil {
			d.emitter = emitter
		}
	}
}

// Distributor converts gross payments into per-participant shares under an
// immutable policy and keeps the distribution history for read aggregations.
type Distributor struct {
	mu sync.RWMutex

	policy  Policy
	records []*Record

	nowFn   func() time.Time
	emitter events.Emitter
}

// New constructs a distributor with the supplied policy.
func New(policy Policy, opts ...Option) (*Distributor, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	d := &Distributor{
		policy:  policy,
		nowFn:   time.Now,
		emitter: events.NoopEmitter{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Policy returns the active policy value.
func (d *Distributor) Policy() Policy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.policy
}

// SetPolicy swaps the active policy for future distributions. Existing
// records keep the policy snapshot they were computed under.
func (d *Distributor) SetPolicy(policy Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.policy = policy
	return nil
}

// DistributeSaleRevenue splits a sale payment across creator, validators,
// source authors, platform, and staker pool per the active policy.
func (d *Distributor) DistributeSaleRevenue(in SaleInput) (*Record, error) {
	return d.waterfall(KindSale, in, 0)
}

// DistributeLicenseRevenue is the sale waterfall with the platform share
// raised by a duration-tier premium funded from the creator share.
func (d *Distributor) DistributeLicenseRevenue(in LicenseInput) (*Record, error) {
	d.mu.RLock()
	policy := d.policy
	d.mu.RUnlock()
	premium := uint64(0)
	switch {
	case in.DurationDays <= 30:
		premium = policy.ShortLicensePremiumBps
	case in.DurationDays <= 180:
		premium = policy.MidLicensePremiumBps
	}
	return d.waterfall(KindLicense, in.SaleInput, premium)
}

// waterfall runs the share allocation common to sales and licenses.
// platformPremiumBps moves share from the creator to the platform.
func (d *Distributor) waterfall(kind Kind, in SaleInput, platformPremiumBps uint64) (*Record, error) {
	if in.Total == nil || in.Total.Sign() <= 0 {
		return nil, ErrAmountRequired
	}
	creator := strings.TrimSpace(in.Creator)
	if creator == "" {
		return nil, ErrCreatorRequired
	}
	if len(in.Validators) > maxValidators {
		return nil, fmt.Errorf("%w: %d", ErrTooManyValidators, len(in.Validators))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	policy := d.policy

	creatorBps := policy.CreatorBps
	stakerBps := policy.StakerPoolBps
	reason := "sale share"
	if kind == KindLicense {
		reason = "license share"
	}

	creatorReason := reason
	if in.ProofScore >= policy.HighProofThreshold {
		bonus := policy.HighProofBonusBps
		if bonus > stakerBps {
			bonus = stakerBps
		}
		creatorBps += bonus
		stakerBps -= bonus
		creatorReason = reason + " + high proof bonus"
	}
	if platformPremiumBps > 0 && creatorBps > policy.MinCreatorBps {
		// License premium comes out of the creator share, never below floor.
		take := platformPremiumBps
		if headroom := creatorBps - policy.MinCreatorBps; take > headroom {
			take = headroom
		}
		creatorBps -= take
	}
	if creatorBps < policy.MinCreatorBps {
		creatorBps = policy.MinCreatorBps
	}

	var shares []Share
	allocated := big.NewInt(0)
	add := func(participant string, role Role, amount *big.Int, bps uint64, why string) {
		if amount.Sign() <= 0 {
			return
		}
		shares = append(shares, Share{Participant: participant, Role: role, Amount: amount, Bps: bps, Reason: why})
		allocated = new(big.Int).Add(allocated, amount)
	}

	add(creator, RoleCreator, bpsOf(in.Total, creatorBps), creatorBps, creatorReason)

	if n := len(in.Validators); n > 0 {
		pool := bpsOf(in.Total, policy.ValidatorBps)
		each := new(big.Int).Div(pool, big.NewInt(int64(n)))
		for _, validator := range in.Validators {
			v := strings.TrimSpace(validator)
			if v == "" {
				continue
			}
			add(v, RoleValidator, new(big.Int).Set(each), policy.ValidatorBps/uint64(n), "validation share")
		}
	}

	if len(in.SourceAuthors) > 0 {
		pool := bpsOf(in.Total, policy.SourceAuthorBps)
		weighted, err := splitByWeight(pool, in.SourceAuthors)
		if err != nil {
			return nil, err
		}
		for _, w := range weighted {
			add(w.Participant, RoleSourceAuthor, w.Amount, 0, "source contribution")
		}
	}

	add(StakerPoolAccount, RoleStakerPool, bpsOf(in.Total, stakerBps), stakerBps, "staker pool funding")

	// The platform takes everything not yet allocated: its own share, any
	// unassigned validator/source pools, and all rounding residue. This is
	// what keeps the record total exactly reconciled.
	platform := new(big.Int).Sub(in.Total, allocated)
	floor := bpsOf(in.Total, policy.MinPlatformBps)
	if platform.Cmp(floor) < 0 {
		// Claw the shortfall back from the staker pool share.
		shortfall := new(big.Int).Sub(floor, platform)
		for i := range shares {
			if shares[i].Role != RoleStakerPool {
				continue
			}
			take := shortfall
			if shares[i].Amount.Cmp(take) < 0 {
				take = new(big.Int).Set(shares[i].Amount)
			}
			shares[i].Amount = new(big.Int).Sub(shares[i].Amount, take)
			platform = new(big.Int).Add(platform, take)
			break
		}
	}
	add(PlatformAccount, RolePlatform, platform, policy.PlatformBps, "platform share")

	record := d.appendRecordLocked(kind, in.TxID, in.UTID, in.InsightID, in.Total, shares, policy)
	return record.Clone(), nil
}

// DistributeCitationRoyalty splits a citation royalty two ways: the platform
// keeps exactly its configured share as a processing fee, the creator takes
// the rest.
func (d *Distributor) DistributeCitationRoyalty(txID, utid, insightID, creator string, amount *big.Int) (*Record, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrAmountRequired
	}
	creator = strings.TrimSpace(creator)
	if creator == "" {
		return nil, ErrCreatorRequired
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	policy := d.policy
	fee := bpsOf(amount, policy.PlatformBps)
	creatorAmount := new(big.Int).Sub(amount, fee)
	shares := []Share{
		{Participant: creator, Role: RoleCreator, Amount: creatorAmount, Bps: 10_000 - policy.PlatformBps, Reason: "citation royalty"},
		{Participant: PlatformAccount, Role: RolePlatform, Amount: fee, Bps: policy.PlatformBps, Reason: "processing fee"},
	}
	record := d.appendRecordLocked(KindCitation, txID, utid, insightID, amount, shares, policy)
	return record.Clone(), nil
}

// DistributeCollaborativeRevenue runs the sale waterfall with the creator
// share split across contributors by weight. The collaboration bonus funding
// that split is taken from the platform share.
func (d *Distributor) DistributeCollaborativeRevenue(in CollaborativeInput) (*Record, error) {
	if in.Total == nil || in.Total.Sign() <= 0 {
		return nil, ErrAmountRequired
	}
	if len(in.Contributors) == 0 {
		return nil, ErrNoContributors
	}
	if len(in.Validators) > maxValidators {
		return nil, fmt.Errorf("%w: %d", ErrTooManyValidators, len(in.Validators))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	policy := d.policy

	creatorBps := policy.CreatorBps
	stakerBps := policy.StakerPoolBps
	if in.ProofScore >= policy.HighProofThreshold {
		bonus := policy.HighProofBonusBps
		if bonus > stakerBps {
			bonus = stakerBps
		}
		creatorBps += bonus
		stakerBps -= bonus
	}
	// The collaboration bonus grows the contributor pool at the platform's
	// expense, bounded by the platform floor.
	bonus := policy.CollabBonusBps
	if policy.PlatformBps-bonus < policy.MinPlatformBps {
		bonus = policy.PlatformBps - policy.MinPlatformBps
	}
	creatorBps += bonus

	var shares []Share
	allocated := big.NewInt(0)
	add := func(participant string, role Role, amount *big.Int, bps uint64, why string) {
		if amount.Sign() <= 0 {
			return
		}
		shares = append(shares, Share{Participant: participant, Role: role, Amount: amount, Bps: bps, Reason: why})
		allocated = new(big.Int).Add(allocated, amount)
	}

	pool := bpsOf(in.Total, creatorBps)
	weighted, err := splitByWeight(pool, in.Contributors)
	if err != nil {
		return nil, err
	}
	for _, w := range weighted {
		add(w.Participant, RoleCreator, w.Amount, 0, "collaborative share")
	}

	if n := len(in.Validators); n > 0 {
		vpool := bpsOf(in.Total, policy.ValidatorBps)
		each := new(big.Int).Div(vpool, big.NewInt(int64(n)))
		for _, validator := range in.Validators {
			v := strings.TrimSpace(validator)
			if v == "" {
				continue
			}
			add(v, RoleValidator, new(big.Int).Set(each), policy.ValidatorBps/uint64(n), "validation share")
		}
	}

	if len(in.SourceAuthors) > 0 {
		spool := bpsOf(in.Total, policy.SourceAuthorBps)
		sw, err := splitByWeight(spool, in.SourceAuthors)
		if err != nil {
			return nil, err
		}
		for _, w := range sw {
			add(w.Participant, RoleSourceAuthor, w.Amount, 0, "source contribution")
		}
	}

	add(StakerPoolAccount, RoleStakerPool, bpsOf(in.Total, stakerBps), stakerBps, "staker pool funding")

	platform := new(big.Int).Sub(in.Total, allocated)
	add(PlatformAccount, RolePlatform, platform, policy.PlatformBps-bonus, "platform share less collaboration bonus")

	record := d.appendRecordLocked(KindCollaborative, in.TxID, in.UTID, in.InsightID, in.Total, shares, policy)
	return record.Clone(), nil
}

// appendRecordLocked stores the record and emits the distribution event.
// Caller holds d.mu.
func (d *Distributor) appendRecordLocked(kind Kind, txID, utid, insightID string, total *big.Int, shares []Share, policy Policy) *Record {
	record := &Record{
		ID:        uuid.NewString(),
		TxID:      strings.TrimSpace(txID),
		UTID:      strings.TrimSpace(utid),
		InsightID: strings.TrimSpace(insightID),
		Kind:      kind,
		Total:     new(big.Int).Set(total),
		Shares:    shares,
		Policy:    policy,
		Status:    "completed",
		CreatedAt: d.nowFn().UTC(),
	}
	d.records = append(d.records, record)
	d.emitter.Emit(events.RevenueDistributed{
		RecordID: record.ID,
		Kind:     string(kind),
		UTID:     record.UTID,
		Total:    record.Total,
		Shares:   len(shares),
	})
	return record
}

// bpsOf returns amount * bps / 10000, rounded down.
func bpsOf(amount *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Div(out, big.NewInt(10_000))
}

type weightedShare struct {
	Participant string
	Amount      *big.Int
}

// splitByWeight divides pool across contributors proportional to weight,
// rounding down; the residue stays unallocated for the platform to absorb.
func splitByWeight(pool *big.Int, contributors []Contribution) ([]weightedShare, error) {
	var totalWeight float64
	for _, c := range contributors {
		if c.Weight > 0 {
			totalWeight += c.Weight
		}
	}
	if totalWeight <= 0 {
		return nil, ErrZeroWeights
	}
	poolF, _ := new(big.Float).SetInt(pool).Float64()
	out := make([]weightedShare, 0, len(contributors))
	for _, c := range contributors {
		participant := strings.TrimSpace(c.Participant)
		if participant == "" || c.Weight <= 0 {
			continue
		}
		amount := big.NewInt(int64(poolF * c.Weight / totalWeight))
		out = append(out, weightedShare{Participant: participant, Amount: amount})
	}
	return out, nil
}
