package economy

import (
	"math"
	"math/big"
)

// PriceInputs carries the observable signals feeding the pricing formula.
type PriceInputs struct {
	ProofScore    float64
	CitationCount uint64
	AgeDays       float64
	DemandCount   uint64
	SimilarCount  uint64
	License       LicenseType
}

// bigFromFloat rounds a float amount of minor units to the nearest integer.
func bigFromFloat(v float64) *big.Int {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return big.NewInt(0)
	}
	return big.NewInt(int64(math.Round(v)))
}

// CalculateInsightPrice returns the deterministic price for an insight as a
// product of five multipliers over the base price. The result is monotonic:
// non-decreasing in proof score, non-increasing in age and in the count of
// competing insights.
func (e *Engine) CalculateInsightPrice(in PriceInputs) *big.Int {
	p := e.params

	// Exponential premium anchored at the proof gate: a score at the anchor
	// is worth exactly the base, scores above compound upward.
	proof := math.Exp(p.ProofAlpha * (in.ProofScore - p.ProofAnchor))

	// Logarithmic decaying-return citation premium.
	citation := 1 + p.CitationWeight*math.Log1p(float64(in.CitationCount))

	// Linear time decay, capped at the configured maximum discount.
	decay := 1 - p.DecayPerDay*in.AgeDays
	if floor := 1 - p.MaxDecay; decay < floor {
		decay = floor
	}

	// Exponential half-life demand premium saturating at 1+DemandWeight.
	demand := 1 + p.DemandWeight*(1-math.Exp2(-float64(in.DemandCount)/p.DemandHalfLife))

	// Inverse-logarithmic supply-competition penalty.
	competition := 1 / (1 + p.CompetitionWeight*math.Log1p(float64(in.SimilarCount)))

	license := 1.0
	if in.License != LicenseNone {
		if m, ok := p.LicenseMultipliers[in.License]; ok {
			license = m
		}
	}

	base, _ := new(big.Float).SetInt(p.BasePrice).Float64()
	price := base * proof * citation * decay * demand * competition * license
	return bigFromFloat(price)
}

// CalculateCitationRoyalty returns the royalty owed for one citation of an
// insight priced at the given amount.
func (e *Engine) CalculateCitationRoyalty(price *big.Int) *big.Int {
	if price == nil || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	royalty := new(big.Int).Mul(price, new(big.Int).SetUint64(e.params.CitationRoyaltyBps))
	return royalty.Div(royalty, big.NewInt(10_000))
}

// scaledReward computes the proof-gated, exponentially scaled, capped reward
// amount from a base and cap.
func (p Params) scaledReward(base, capAmount *big.Int, proofScore float64) *big.Int {
	if proofScore < p.RewardGate {
		return big.NewInt(0)
	}
	baseF, _ := new(big.Float).SetInt(base).Float64()
	amount := bigFromFloat(baseF * math.Exp(p.RewardAlpha*(proofScore-p.RewardGate)))
	if amount.Cmp(capAmount) > 0 {
		return new(big.Int).Set(capAmount)
	}
	return amount
}

// RewardInsightCreation mints the creation reward for a newly validated
// insight. Insights below the proof gate earn nothing and no mint occurs.
func (e *Engine) RewardInsightCreation(creatorID string, proofScore float64) (*big.Int, error) {
	amount := e.params.scaledReward(e.params.CreationRewardBase, e.params.CreationRewardCap, proofScore)
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := e.MintTokens(creatorID, amount, "creationReward"); err != nil {
		return nil, err
	}
	return amount, nil
}

// RewardValidation mints the validation reward for a validator whose work
// produced the given proof score.
func (e *Engine) RewardValidation(validatorID string, proofScore float64) (*big.Int, error) {
	amount := e.params.scaledReward(e.params.ValidationRewardBase, e.params.ValidationRewardCap, proofScore)
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := e.MintTokens(validatorID, amount, "validationReward"); err != nil {
		return nil, err
	}
	return amount, nil
}
