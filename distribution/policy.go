package distribution

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrPolicyShares = errors.New("distribution: policy shares must sum to 10000 bps")
	ErrPolicyFloor  = errors.New("distribution: policy floor exceeds its share")
)

// Policy holds the waterfall percentage knobs in basis points. Policies are
// immutable values: tuning helpers return a new policy rather than mutating
// in place.
type Policy struct {
	Name string `yaml:"name"`

	CreatorBps      uint64 `yaml:"creator_bps"`
	ValidatorBps    uint64 `yaml:"validator_bps"`
	SourceAuthorBps uint64 `yaml:"source_author_bps"`
	PlatformBps     uint64 `yaml:"platform_bps"`
	StakerPoolBps   uint64 `yaml:"staker_pool_bps"`

	HighProofBonusBps uint64 `yaml:"high_proof_bonus_bps"`
	CollabBonusBps    uint64 `yaml:"collab_bonus_bps"`
	MinCreatorBps     uint64 `yaml:"min_creator_bps"`
	MinPlatformBps    uint64 `yaml:"min_platform_bps"`

	// License platform premiums by duration tier; shorter licenses pay more.
	ShortLicensePremiumBps uint64 `yaml:"short_license_premium_bps"`
	MidLicensePremiumBps   uint64 `yaml:"mid_license_premium_bps"`

	HighProofThreshold float64 `yaml:"high_proof_threshold"`
	CitationRoyaltyBps uint64  `yaml:"citation_royalty_bps"`
}

// DefaultPolicy returns the standard waterfall: 45% creator, 15% validators,
// 10% source authors, 20% platform, 10% staker pool.
func DefaultPolicy() Policy {
	return Policy{
		Name:            "default",
		CreatorBps:      4_500,
		ValidatorBps:    1_500,
		SourceAuthorBps: 1_000,
		PlatformBps:     2_000,
		StakerPoolBps:   1_000,

		HighProofBonusBps: 500,
		CollabBonusBps:    300,
		MinCreatorBps:     3_000,
		MinPlatformBps:    1_000,

		ShortLicensePremiumBps: 1_000,
		MidLicensePremiumBps:   500,

		HighProofThreshold: 0.95,
		CitationRoyaltyBps: 500,
	}
}

// Validate checks the policy's internal consistency.
func (p Policy) Validate() error {
	total := p.CreatorBps + p.ValidatorBps + p.SourceAuthorBps + p.PlatformBps + p.StakerPoolBps
	if total != 10_000 {
		return fmt.Errorf("%w: got %d", ErrPolicyShares, total)
	}
	if p.MinCreatorBps > p.CreatorBps+p.HighProofBonusBps {
		return fmt.Errorf("%w: creator floor %d", ErrPolicyFloor, p.MinCreatorBps)
	}
	if p.MinPlatformBps > p.PlatformBps {
		return fmt.Errorf("%w: platform floor %d", ErrPolicyFloor, p.MinPlatformBps)
	}
	if p.HighProofThreshold < 0 || p.HighProofThreshold > 1 {
		return fmt.Errorf("distribution: high proof threshold %v out of range", p.HighProofThreshold)
	}
	return nil
}

// WithCreatorShare returns a copy of the policy with the creator share
// replaced and the platform share adjusted to keep the total at 10000 bps.
func (p Policy) WithCreatorShare(bps uint64) Policy {
	next := p
	rest := p.ValidatorBps + p.SourceAuthorBps + p.StakerPoolBps
	if bps+rest > 10_000 {
		bps = 10_000 - rest
	}
	next.CreatorBps = bps
	next.PlatformBps = 10_000 - bps - rest
	return next
}

// WithName returns a copy of the policy under a new name.
func (p Policy) WithName(name string) Policy {
	next := p
	next.Name = strings.TrimSpace(name)
	return next
}

// LoadPolicies reads named policy presets from a YAML file on disk.
func LoadPolicies(path string) (map[string]Policy, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open policies: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	var entries []Policy
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode policies: %w", err)
	}
	policies := make(map[string]Policy, len(entries))
	for _, entry := range entries {
		name := strings.ToLower(strings.TrimSpace(entry.Name))
		if name == "" {
			return nil, fmt.Errorf("policy name required")
		}
		if _, exists := policies[name]; exists {
			return nil, fmt.Errorf("duplicate policy %s", name)
		}
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		policies[name] = entry
	}
	return policies, nil
}

// PolicyNames returns the sorted preset names, for diagnostics.
func PolicyNames(policies map[string]Policy) []string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
