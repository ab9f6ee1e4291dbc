package distribution

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const policyFixture = `
- name: default
  creator_bps: 4500
  validator_bps: 1500
  source_author_bps: 1000
  platform_bps: 2000
  staker_pool_bps: 1000
  high_proof_bonus_bps: 500
  collab_bonus_bps: 300
  min_creator_bps: 3000
  min_platform_bps: 1000
  short_license_premium_bps: 1000
  mid_license_premium_bps: 500
  high_proof_threshold: 0.95
  citation_royalty_bps: 500
- name: creator-first
  creator_bps: 6000
  validator_bps: 1000
  source_author_bps: 500
  platform_bps: 1500
  staker_pool_bps: 1000
  min_creator_bps: 3000
  min_platform_bps: 1000
  high_proof_threshold: 0.9
  citation_royalty_bps: 500
`

func writePolicies(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadPolicies(t *testing.T) {
	policies, err := LoadPolicies(writePolicies(t, policyFixture))
	require.NoError(t, err)
	require.Len(t, policies, 2)
	require.Equal(t, []string{"creator-first", "default"}, PolicyNames(policies))

	def := policies["default"]
	require.Equal(t, DefaultPolicy(), def)

	cf := policies["creator-first"]
	require.EqualValues(t, 6_000, cf.CreatorBps)
	require.EqualValues(t, 1_500, cf.PlatformBps)
	require.InDelta(t, 0.9, cf.HighProofThreshold, 1e-9)
	require.NoError(t, cf.Validate())
}

func TestLoadPoliciesRejectsBadPresets(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing name", "- creator_bps: 10000\n"},
		{"duplicate name", "- name: a\n  creator_bps: 10000\n- name: a\n  creator_bps: 10000\n"},
		{"shares off total", "- name: a\n  creator_bps: 9000\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadPolicies(writePolicies(t, tc.body))
			require.Error(t, err)
		})
	}
}

func TestLoadPoliciesMissingFile(t *testing.T) {
	_, err := LoadPolicies(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
