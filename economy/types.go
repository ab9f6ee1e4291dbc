package economy

import (
	"math/big"
	"time"
)

// MinorUnitsPerToken is the number of minor units in one whole token. All
// amounts in the engine are denominated in minor units.
const MinorUnitsPerToken = 100

// Account tracks one participant's balances. Accounts are created lazily on
// first reference and never deleted.
type Account struct {
	ID             string   `json:"id"`
	Available      *big.Int `json:"available"`
	Staked         *big.Int `json:"staked"`
	PendingRewards *big.Int `json:"pendingRewards"`
	TotalEarned    *big.Int `json:"totalEarned"`
	TotalSpent     *big.Int `json:"totalSpent"`
	TotalStaked    *big.Int `json:"totalStaked"`
}

func newAccount(id string) *Account {
	return &Account{
		ID:             id,
		Available:      big.NewInt(0),
		Staked:         big.NewInt(0),
		PendingRewards: big.NewInt(0),
		TotalEarned:    big.NewInt(0),
		TotalSpent:     big.NewInt(0),
		TotalStaked:    big.NewInt(0),
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Available = new(big.Int).Set(a.Available)
	clone.Staked = new(big.Int).Set(a.Staked)
	clone.PendingRewards = new(big.Int).Set(a.PendingRewards)
	clone.TotalEarned = new(big.Int).Set(a.TotalEarned)
	clone.TotalSpent = new(big.Int).Set(a.TotalSpent)
	clone.TotalStaked = new(big.Int).Set(a.TotalStaked)
	return &clone
}

// StakeStatus enumerates the lifecycle states of a stake.
type StakeStatus string

const (
	StakeActive         StakeStatus = "active"
	StakePendingUnstake StakeStatus = "pending-unstake"
	StakeUnstaked       StakeStatus = "unstaked"
)

// Stake is a time-locked deposit accruing yield at a lock-tiered rate.
type Stake struct {
	ID            string      `json:"id"`
	Owner         string      `json:"owner"`
	Principal     *big.Int    `json:"principal"`
	StakedAt      time.Time   `json:"stakedAt"`
	UnlockAt      *time.Time  `json:"unlockAt,omitempty"`
	UnstakedAt    *time.Time  `json:"unstakedAt,omitempty"`
	Status        StakeStatus `json:"status"`
	APYBps        uint64      `json:"apyBps"`
	AccruedReward *big.Int    `json:"accruedReward"`
	LastAccrual   time.Time   `json:"lastAccrual"`
}

// Clone returns a deep copy of the stake.
func (s *Stake) Clone() *Stake {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Principal = new(big.Int).Set(s.Principal)
	clone.AccruedReward = new(big.Int).Set(s.AccruedReward)
	if s.UnlockAt != nil {
		unlock := *s.UnlockAt
		clone.UnlockAt = &unlock
	}
	if s.UnstakedAt != nil {
		unstaked := *s.UnstakedAt
		clone.UnstakedAt = &unstaked
	}
	return &clone
}

// Supply holds the process-wide token supply counters. Only the engine
// mutates them.
type Supply struct {
	Total       *big.Int `json:"total"`
	Circulating *big.Int `json:"circulating"`
	Staked      *big.Int `json:"staked"`
	Burned      *big.Int `json:"burned"`
	Max         *big.Int `json:"max"`
	RewardPool  *big.Int `json:"rewardPool"`
}

// Clone returns a deep copy of the supply counters.
func (s Supply) Clone() Supply {
	return Supply{
		Total:       new(big.Int).Set(s.Total),
		Circulating: new(big.Int).Set(s.Circulating),
		Staked:      new(big.Int).Set(s.Staked),
		Burned:      new(big.Int).Set(s.Burned),
		Max:         new(big.Int).Set(s.Max),
		RewardPool:  new(big.Int).Set(s.RewardPool),
	}
}

// LicenseType selects the optional pricing multiplier for licensed use.
type LicenseType string

const (
	LicenseNone       LicenseType = ""
	LicensePersonal   LicenseType = "personal"
	LicenseCommercial LicenseType = "commercial"
	LicenseExclusive  LicenseType = "exclusive"
)

// Params holds the tuning knobs for supply, staking, and pricing. The zero
// value is not usable; start from DefaultParams.
type Params struct {
	MaxSupply   *big.Int // minor units
	BurnRateBps uint64   // deflationary burn applied to flagged transfers
	RewardPool  *big.Int // initial reward pool, minor units

	// Staking APY tiers by lock duration.
	BaseAPYBps   uint64 // no lock
	MidAPYBps    uint64 // >= MidLockDays
	LongAPYBps   uint64 // >= LongLockDays
	MidLockDays  uint64
	LongLockDays uint64

	// Insight pricing.
	BasePrice          *big.Int // minor units
	ProofAnchor        float64  // exponential premium anchor
	ProofAlpha         float64  // exponential premium steepness
	CitationWeight     float64  // logarithmic citation premium
	DecayPerDay        float64  // linear time decay
	MaxDecay           float64  // cap on the time-decay discount
	DemandWeight       float64  // exponential half-life demand premium
	DemandHalfLife     float64  // demand count at half saturation
	CompetitionWeight  float64  // inverse-log supply penalty
	LicenseMultipliers map[LicenseType]float64

	// Creation / validation rewards.
	RewardGate           float64  // proof score below which nothing is earned
	CreationRewardBase   *big.Int // minor units
	CreationRewardCap    *big.Int
	ValidationRewardBase *big.Int
	ValidationRewardCap  *big.Int
	RewardAlpha          float64 // exponential reward scaling
	CitationRoyaltyBps   uint64
}

// DefaultParams returns the production defaults: 100M token max supply, 2%
// transfer burn, 15/20/25% APY tiers at 0/180/365 day locks.
func DefaultParams() Params {
	return Params{
		MaxSupply:   Tokens(100_000_000),
		BurnRateBps: 200,
		RewardPool:  Tokens(5_000_000),

		BaseAPYBps:   1_500,
		MidAPYBps:    2_000,
		LongAPYBps:   2_500,
		MidLockDays:  180,
		LongLockDays: 365,

		BasePrice:         Tokens(100),
		ProofAnchor:       0.85,
		ProofAlpha:        2.0,
		CitationWeight:    0.1,
		DecayPerDay:       0.001,
		MaxDecay:          0.5,
		DemandWeight:      1.0,
		DemandHalfLife:    10,
		CompetitionWeight: 0.25,
		LicenseMultipliers: map[LicenseType]float64{
			LicensePersonal:   0.5,
			LicenseCommercial: 1.5,
			LicenseExclusive:  3.0,
		},

		RewardGate:           0.85,
		CreationRewardBase:   Tokens(50),
		CreationRewardCap:    Tokens(500),
		ValidationRewardBase: Tokens(10),
		ValidationRewardCap:  Tokens(100),
		RewardAlpha:          5.0,
		CitationRoyaltyBps:   500,
	}
}

// Tokens converts a whole-token count to minor units.
func Tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(MinorUnitsPerToken))
}

// APYForLock resolves the tiered rate for the supplied lock duration.
func (p Params) APYForLock(lockDays uint64) uint64 {
	switch {
	case p.LongLockDays > 0 && lockDays >= p.LongLockDays:
		return p.LongAPYBps
	case p.MidLockDays > 0 && lockDays >= p.MidLockDays:
		return p.MidAPYBps
	default:
		return p.BaseAPYBps
	}
}

// AccountSummary is a read-only view of one account plus its stakes.
type AccountSummary struct {
	Account *Account `json:"account"`
	Stakes  []*Stake `json:"stakes"`
}

// Stats is a read-only view of the economy-wide counters.
type Stats struct {
	Supply       Supply `json:"supply"`
	AccountCount int    `json:"accountCount"`
	ActiveStakes int    `json:"activeStakes"`
}
