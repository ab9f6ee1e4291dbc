package distribution

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"
)

func newTestDistributor(t *testing.T) *Distributor {
	t.Helper()
	d, err := New(DefaultPolicy(), WithNowFunc(func() time.Time {
		return time.Unix(1_700_000_000, 0).UTC()
	}))
	if err != nil {
		t.Fatalf("new distributor: %v", err)
	}
	return d
}

func shareSum(record *Record) *big.Int {
	sum := big.NewInt(0)
	for _, share := range record.Shares {
		sum = new(big.Int).Add(sum, share.Amount)
	}
	return sum
}

func shareFor(record *Record, participant string) *big.Int {
	total := big.NewInt(0)
	for _, share := range record.Shares {
		if share.Participant == participant {
			total = new(big.Int).Add(total, share.Amount)
		}
	}
	return total
}

func TestSaleSharesAlwaysReconcile(t *testing.T) {
	d := newTestDistributor(t)
	total := big.NewInt(1000_00)
	for validators := 0; validators <= 10; validators++ {
		for _, proof := range []float64{0, 0.5, 0.85, 0.9499, 0.95, 1.0} {
			vs := make([]string, validators)
			for i := range vs {
				vs[i] = fmt.Sprintf("v%d", i)
			}
			record, err := d.DistributeSaleRevenue(SaleInput{
				TxID:       "tx-1",
				UTID:       "u1",
				InsightID:  "ins-1",
				Total:      total,
				Creator:    "c1",
				Validators: vs,
				SourceAuthors: []Contribution{
					{Participant: "s1", Weight: 2},
					{Participant: "s2", Weight: 1},
				},
				ProofScore: proof,
			})
			if err != nil {
				t.Fatalf("distribute (%d validators, proof %v): %v", validators, proof, err)
			}
			if got := shareSum(record); got.Cmp(total) != 0 {
				t.Fatalf("share sum (%d validators, proof %v): got %s want %s", validators, proof, got, total)
			}
		}
	}
}

func TestHighProofBonusBoostsCreator(t *testing.T) {
	d := newTestDistributor(t)
	total := big.NewInt(1000_00)
	base, err := d.DistributeSaleRevenue(SaleInput{Total: total, Creator: "c1", ProofScore: 0.90})
	if err != nil {
		t.Fatalf("base sale: %v", err)
	}
	boosted, err := d.DistributeSaleRevenue(SaleInput{Total: total, Creator: "c1", ProofScore: 0.96})
	if err != nil {
		t.Fatalf("boosted sale: %v", err)
	}
	if shareFor(boosted, "c1").Cmp(shareFor(base, "c1")) <= 0 {
		t.Fatalf("high proof creator share not boosted: %s <= %s", shareFor(boosted, "c1"), shareFor(base, "c1"))
	}
	// The bonus is funded from the staker pool, not the platform.
	if shareFor(boosted, StakerPoolAccount).Cmp(shareFor(base, StakerPoolAccount)) >= 0 {
		t.Fatal("staker pool share did not fund the bonus")
	}
}

func TestValidatorShareSplitsEvenly(t *testing.T) {
	d := newTestDistributor(t)
	record, err := d.DistributeSaleRevenue(SaleInput{
		Total:      big.NewInt(1000_00),
		Creator:    "c1",
		Validators: []string{"v1", "v2", "v3"},
	})
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	// 15% of 1000.00 split three ways.
	want := big.NewInt(50_00)
	for _, v := range []string{"v1", "v2", "v3"} {
		if got := shareFor(record, v); got.Cmp(want) != 0 {
			t.Fatalf("validator %s share: got %s want %s", v, got, want)
		}
	}
}

func TestCitationRoyaltySplit(t *testing.T) {
	d := newTestDistributor(t)
	record, err := d.DistributeCitationRoyalty("tx-2", "u1", "ins-1", "c1", big.NewInt(10_00))
	if err != nil {
		t.Fatalf("citation: %v", err)
	}
	if got, want := len(record.Shares), 2; got != want {
		t.Fatalf("share count: got %d want %d", got, want)
	}
	// Platform takes exactly its configured 20% as a processing fee.
	if got, want := shareFor(record, PlatformAccount), big.NewInt(2_00); got.Cmp(want) != 0 {
		t.Fatalf("platform fee: got %s want %s", got, want)
	}
	if got, want := shareFor(record, "c1"), big.NewInt(8_00); got.Cmp(want) != 0 {
		t.Fatalf("creator royalty: got %s want %s", got, want)
	}
}

func TestLicensePlatformTiers(t *testing.T) {
	d := newTestDistributor(t)
	total := big.NewInt(1000_00)
	byDuration := func(days uint64) *big.Int {
		record, err := d.DistributeLicenseRevenue(LicenseInput{
			SaleInput:    SaleInput{Total: total, Creator: "c1"},
			DurationDays: days,
		})
		if err != nil {
			t.Fatalf("license %d days: %v", days, err)
		}
		if got := shareSum(record); got.Cmp(total) != 0 {
			t.Fatalf("license %d days share sum: got %s want %s", days, got, total)
		}
		return shareFor(record, PlatformAccount)
	}
	short := byDuration(14)
	mid := byDuration(90)
	long := byDuration(365)
	if short.Cmp(mid) <= 0 || mid.Cmp(long) <= 0 {
		t.Fatalf("platform share not decreasing with duration: %s, %s, %s", short, mid, long)
	}
}

func TestCollaborativeSplitsByWeight(t *testing.T) {
	d := newTestDistributor(t)
	total := big.NewInt(1000_00)
	record, err := d.DistributeCollaborativeRevenue(CollaborativeInput{
		Total: total,
		Contributors: []Contribution{
			{Participant: "c1", Weight: 3},
			{Participant: "c2", Weight: 1},
		},
		ProofScore: 0.9,
	})
	if err != nil {
		t.Fatalf("collaborative: %v", err)
	}
	if got := shareSum(record); got.Cmp(total) != 0 {
		t.Fatalf("share sum: got %s want %s", got, total)
	}
	c1 := shareFor(record, "c1")
	c2 := shareFor(record, "c2")
	ratio := new(big.Int).Div(c1, c2)
	if ratio.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("contributor ratio: got %s want 3", ratio)
	}
	// Platform funds the collaboration bonus: its share drops below the
	// plain sale waterfall's.
	sale, err := d.DistributeSaleRevenue(SaleInput{Total: total, Creator: "c1", ProofScore: 0.9})
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	if shareFor(record, PlatformAccount).Cmp(shareFor(sale, PlatformAccount)) >= 0 {
		t.Fatal("collaboration bonus not funded by the platform share")
	}
	if _, err := d.DistributeCollaborativeRevenue(CollaborativeInput{Total: total}); !errors.Is(err, ErrNoContributors) {
		t.Fatalf("no contributors: got %v want %v", err, ErrNoContributors)
	}
}

func TestPolicyIsImmutableValue(t *testing.T) {
	d := newTestDistributor(t)
	before := d.Policy()
	tuned := before.WithCreatorShare(5_500)
	if before.CreatorBps == tuned.CreatorBps {
		t.Fatal("tuning did not change the copy")
	}
	if d.Policy().CreatorBps != before.CreatorBps {
		t.Fatal("tuning mutated the active policy")
	}
	if err := tuned.Validate(); err != nil {
		t.Fatalf("tuned policy invalid: %v", err)
	}
	if err := d.SetPolicy(tuned); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	if d.Policy().CreatorBps != 5_500 {
		t.Fatalf("active policy: got %d want 5500", d.Policy().CreatorBps)
	}
	bad := before
	bad.CreatorBps = 9_999
	if err := d.SetPolicy(bad); !errors.Is(err, ErrPolicyShares) {
		t.Fatalf("invalid policy accepted: %v", err)
	}
}

func TestReadAggregations(t *testing.T) {
	d := newTestDistributor(t)
	total := big.NewInt(500_00)
	for i := 0; i < 3; i++ {
		if _, err := d.DistributeSaleRevenue(SaleInput{Total: total, Creator: "c1", InsightID: "ins-1"}); err != nil {
			t.Fatalf("sale %d: %v", i, err)
		}
	}
	if _, err := d.DistributeCitationRoyalty("tx", "u1", "ins-2", "c1", big.NewInt(10_00)); err != nil {
		t.Fatalf("citation: %v", err)
	}

	earnings := d.UserEarnings("c1")
	if earnings.ShareCount != 4 {
		t.Fatalf("share count: got %d want 4", earnings.ShareCount)
	}
	if earnings.ByRole[RoleCreator].Sign() <= 0 {
		t.Fatal("creator role earnings missing")
	}

	revenue, count := d.InsightRevenue("ins-1")
	if count != 3 {
		t.Fatalf("insight record count: got %d want 3", count)
	}
	if want := big.NewInt(1500_00); revenue.Cmp(want) != 0 {
		t.Fatalf("insight revenue: got %s want %s", revenue, want)
	}

	stats := d.Stats()
	if stats.RecordCount != 4 {
		t.Fatalf("record count: got %d want 4", stats.RecordCount)
	}
	if stats.RecordsByKind[KindSale] != 3 || stats.RecordsByKind[KindCitation] != 1 {
		t.Fatalf("records by kind: %v", stats.RecordsByKind)
	}
}
