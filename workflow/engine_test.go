package workflow

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"creditprotocol/distribution"
	"creditprotocol/economy"
	"creditprotocol/ledger"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errNotListed = errors.New("listing: not listed")

type memoryListing struct {
	offers map[string]*Offer
}

func (m *memoryListing) Lookup(utid string) (*Offer, error) {
	offer, ok := m.offers[utid]
	if !ok {
		return nil, errNotListed
	}
	return offer, nil
}

type fixture struct {
	clock  *fakeClock
	led    *ledger.Ledger
	eco    *economy.Engine
	dist   *distribution.Distributor
	market *memoryListing
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)}
	led := ledger.New(ledger.WithNowFunc(clock.Now))
	eco := economy.NewEngine(economy.DefaultParams(), economy.WithNowFunc(clock.Now))
	dist, err := distribution.New(distribution.DefaultPolicy(), distribution.WithNowFunc(clock.Now))
	if err != nil {
		t.Fatalf("new distributor: %v", err)
	}
	market := &memoryListing{offers: make(map[string]*Offer)}
	engine, err := NewEngine(led, eco, dist, market, WithNowFunc(clock.Now))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &fixture{clock: clock, led: led, eco: eco, dist: dist, market: market, engine: engine}
}

func (f *fixture) fund(t *testing.T, account string, minorUnits int64) {
	t.Helper()
	if err := f.eco.MintTokens(account, big.NewInt(minorUnits), ""); err != nil {
		t.Fatalf("fund %s: %v", account, err)
	}
}

func (f *fixture) list(t *testing.T, utid, insightID, creator string, proofScore float64) {
	t.Helper()
	if _, err := f.engine.MintUTID(MintCommand{
		Key:        "mint-" + utid,
		InsightID:  insightID,
		UTID:       utid,
		Creator:    creator,
		ProofScore: proofScore,
	}); err != nil {
		t.Fatalf("mint %s: %v", utid, err)
	}
	f.market.offers[utid] = &Offer{
		UTID:      utid,
		InsightID: insightID,
		Seller:    creator,
		License:   economy.LicensePersonal,
	}
}

func (f *fixture) available(t *testing.T, account string) *big.Int {
	t.Helper()
	summary, err := f.eco.AccountSummary(account)
	if err != nil {
		t.Fatalf("summary %s: %v", account, err)
	}
	return summary.Account.Available
}

func TestPurchaseTransfersOwnershipAndFunds(t *testing.T) {
	f := newFixture(t)
	f.list(t, "utid-1", "insight-1", "alice", 0.9)
	f.fund(t, "bob", 1_000_000)

	aliceBefore := f.available(t, "alice")
	bobBefore := f.available(t, "bob")

	receipt, err := f.engine.PurchaseInsight(PurchaseCommand{Key: "tx-1", Buyer: "bob", UTID: "utid-1"})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.Total.Sign() <= 0 {
		t.Fatalf("total: got %s want positive", receipt.Total)
	}

	own, err := f.led.Ownership("utid-1")
	if err != nil {
		t.Fatalf("ownership: %v", err)
	}
	if own.CurrentOwner != "bob" {
		t.Fatalf("owner: got %s want bob", own.CurrentOwner)
	}
	if own.PurchaseCount != 1 {
		t.Fatalf("purchase count: got %d want 1", own.PurchaseCount)
	}

	bobDelta := new(big.Int).Sub(bobBefore, f.available(t, "bob"))
	if bobDelta.Cmp(receipt.Total) != 0 {
		t.Fatalf("buyer debit: got %s want %s", bobDelta, receipt.Total)
	}
	if escrow := f.available(t, EscrowAccount); escrow.Sign() != 0 {
		t.Fatalf("escrow residue: got %s want 0", escrow)
	}

	sum := new(big.Int)
	var creatorShare *big.Int
	for _, share := range receipt.Record.Shares {
		sum.Add(sum, share.Amount)
		if share.Role == distribution.RoleCreator {
			creatorShare = share.Amount
		}
	}
	if sum.Cmp(receipt.Total) != 0 {
		t.Fatalf("share sum: got %s want %s", sum, receipt.Total)
	}
	if creatorShare == nil {
		t.Fatal("no creator share in record")
	}
	aliceDelta := new(big.Int).Sub(f.available(t, "alice"), aliceBefore)
	if aliceDelta.Cmp(creatorShare) != 0 {
		t.Fatalf("seller credit: got %s want %s", aliceDelta, creatorShare)
	}

	kinds := make(map[ledger.EventType]int)
	for _, evt := range f.led.EventsByUTID("utid-1") {
		kinds[evt.Type]++
	}
	if kinds[ledger.EventUTIDTransferred] != 1 || kinds[ledger.EventRevenueDistributed] != 1 {
		t.Fatalf("ledger events: got %v", kinds)
	}
}

func TestPurchaseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.list(t, "utid-1", "insight-1", "alice", 0.9)
	f.fund(t, "bob", 1_000_000)

	first, err := f.engine.PurchaseInsight(PurchaseCommand{Key: "tx-1", Buyer: "bob", UTID: "utid-1"})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	bobAfter := f.available(t, "bob")
	pending := f.led.PendingCount()

	replay, err := f.engine.PurchaseInsight(PurchaseCommand{Key: "tx-1", Buyer: "bob", UTID: "utid-1"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Total.Cmp(first.Total) != 0 {
		t.Fatalf("replay total: got %s want %s", replay.Total, first.Total)
	}
	if got := f.available(t, "bob"); got.Cmp(bobAfter) != 0 {
		t.Fatalf("replay debited buyer: got %s want %s", got, bobAfter)
	}
	if got := f.led.PendingCount(); got != pending {
		t.Fatalf("replay appended events: got %d want %d", got, pending)
	}
	if got := len(f.dist.Records()); got != 1 {
		t.Fatalf("records: got %d want 1", got)
	}
	stored, ok := f.engine.Receipt("tx-1")
	if !ok {
		t.Fatal("receipt not stored")
	}
	if stored.Kind != "purchase" {
		t.Fatalf("receipt kind: got %s", stored.Kind)
	}
}

func TestPurchaseStaleListingRefundsBuyer(t *testing.T) {
	f := newFixture(t)
	// Listed on the marketplace but never minted on the ledger.
	f.market.offers["utid-ghost"] = &Offer{UTID: "utid-ghost", InsightID: "insight-x", Seller: "mallory"}
	f.fund(t, "bob", 1_000_000)
	bobBefore := f.available(t, "bob")

	_, err := f.engine.PurchaseInsight(PurchaseCommand{Key: "tx-1", Buyer: "bob", UTID: "utid-ghost"})
	if !errors.Is(err, ledger.ErrUnknownUTID) {
		t.Fatalf("error: got %v want ErrUnknownUTID", err)
	}
	if got := f.available(t, "bob"); got.Cmp(bobBefore) != 0 {
		t.Fatalf("buyer not refunded: got %s want %s", got, bobBefore)
	}
	if escrow := f.available(t, EscrowAccount); escrow.Sign() != 0 {
		t.Fatalf("escrow residue: got %s want 0", escrow)
	}
	if got := len(f.dist.Records()); got != 0 {
		t.Fatalf("records after failed sale: got %d want 0", got)
	}
	if _, ok := f.engine.Receipt("tx-1"); ok {
		t.Fatal("failed command stored a receipt")
	}
}

func TestPurchaseUnlistedUTIDFails(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "bob", 1_000_000)
	_, err := f.engine.PurchaseInsight(PurchaseCommand{Key: "tx-1", Buyer: "bob", UTID: "utid-none"})
	if !errors.Is(err, errNotListed) {
		t.Fatalf("error: got %v want errNotListed", err)
	}
}

func TestSelfPurchaseRejectedWithRefund(t *testing.T) {
	f := newFixture(t)
	f.list(t, "utid-1", "insight-1", "alice", 0.9)
	f.fund(t, "alice", 1_000_000)
	before := f.available(t, "alice")

	_, err := f.engine.PurchaseInsight(PurchaseCommand{Key: "tx-1", Buyer: "alice", UTID: "utid-1"})
	if !errors.Is(err, ErrSelfPurchase) {
		t.Fatalf("error: got %v want ErrSelfPurchase", err)
	}
	if got := f.available(t, "alice"); got.Cmp(before) != 0 {
		t.Fatalf("balance after refund: got %s want %s", got, before)
	}
}

func TestLicenseKeepsOwnership(t *testing.T) {
	f := newFixture(t)
	f.list(t, "utid-1", "insight-1", "alice", 0.9)
	f.fund(t, "bob", 1_000_000)
	bobBefore := f.available(t, "bob")

	receipt, err := f.engine.LicenseInsight(LicenseCommand{Key: "tx-1", Buyer: "bob", UTID: "utid-1", DurationDays: 30})
	if err != nil {
		t.Fatalf("license: %v", err)
	}
	own, err := f.led.Ownership("utid-1")
	if err != nil {
		t.Fatalf("ownership: %v", err)
	}
	if own.CurrentOwner != "alice" {
		t.Fatalf("owner moved on license: got %s want alice", own.CurrentOwner)
	}
	bobDelta := new(big.Int).Sub(bobBefore, f.available(t, "bob"))
	if bobDelta.Cmp(receipt.Total) != 0 {
		t.Fatalf("buyer debit: got %s want %s", bobDelta, receipt.Total)
	}
	if receipt.Record.Kind != distribution.KindLicense {
		t.Fatalf("record kind: got %s", receipt.Record.Kind)
	}
	if escrow := f.available(t, EscrowAccount); escrow.Sign() != 0 {
		t.Fatalf("escrow residue: got %s want 0", escrow)
	}
}

func TestCitationRoyaltyFlow(t *testing.T) {
	f := newFixture(t)
	f.list(t, "utid-1", "insight-1", "alice", 0.9)
	f.fund(t, "carol", 1_000_000)
	aliceBefore := f.available(t, "alice")
	platformBefore := f.available(t, distribution.PlatformAccount)

	receipt, err := f.engine.CiteInsight(CitationCommand{Key: "tx-1", Payer: "carol", UTID: "utid-1", CitingPaper: "paper-9"})
	if err != nil {
		t.Fatalf("cite: %v", err)
	}
	own, err := f.led.Ownership("utid-1")
	if err != nil {
		t.Fatalf("ownership: %v", err)
	}
	if own.CitationCount != 1 {
		t.Fatalf("citation count: got %d want 1", own.CitationCount)
	}

	policy := f.dist.Policy()
	fee := new(big.Int).Mul(receipt.Total, new(big.Int).SetUint64(policy.PlatformBps))
	fee.Quo(fee, big.NewInt(10_000))
	platformDelta := new(big.Int).Sub(f.available(t, distribution.PlatformAccount), platformBefore)
	if platformDelta.Cmp(fee) != 0 {
		t.Fatalf("platform fee: got %s want %s", platformDelta, fee)
	}
	aliceDelta := new(big.Int).Sub(f.available(t, "alice"), aliceBefore)
	wantAlice := new(big.Int).Sub(receipt.Total, fee)
	if aliceDelta.Cmp(wantAlice) != 0 {
		t.Fatalf("owner royalty: got %s want %s", aliceDelta, wantAlice)
	}
}

func TestValidationRewardIsProofGated(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.RegisterInsight(CreationCommand{Key: "reg-1", InsightID: "insight-1", Creator: "alice", Confidence: 0.7}); err != nil {
		t.Fatalf("register: %v", err)
	}

	low, err := f.engine.ValidateInsight(ValidationCommand{
		Key: "val-low", InsightID: "insight-1", Validator: "vera",
		Method: ledger.MethodPeerReview, ProofScore: 0.5,
	})
	if err != nil {
		t.Fatalf("validate low: %v", err)
	}
	if low.Reward.Sign() != 0 {
		t.Fatalf("reward below gate: got %s want 0", low.Reward)
	}

	high, err := f.engine.ValidateInsight(ValidationCommand{
		Key: "val-high", InsightID: "insight-1", Validator: "vera",
		Method: ledger.MethodReplication, ProofScore: 0.9,
	})
	if err != nil {
		t.Fatalf("validate high: %v", err)
	}
	if high.Reward.Sign() <= 0 {
		t.Fatalf("reward above gate: got %s want positive", high.Reward)
	}
	if got := f.available(t, "vera"); got.Cmp(high.Reward) != 0 {
		t.Fatalf("validator balance: got %s want %s", got, high.Reward)
	}

	// Replay must not mint twice.
	if _, err := f.engine.ValidateInsight(ValidationCommand{
		Key: "val-high", InsightID: "insight-1", Validator: "vera",
		Method: ledger.MethodReplication, ProofScore: 0.9,
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if got := f.available(t, "vera"); got.Cmp(high.Reward) != 0 {
		t.Fatalf("balance after replay: got %s want %s", got, high.Reward)
	}
}

func TestMintRewardGoesToCreator(t *testing.T) {
	f := newFixture(t)
	receipt, err := f.engine.MintUTID(MintCommand{
		Key: "mint-1", InsightID: "insight-1", UTID: "utid-1", Creator: "alice", ProofScore: 0.95,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if receipt.Reward.Sign() <= 0 {
		t.Fatalf("creation reward: got %s want positive", receipt.Reward)
	}
	if got := f.available(t, "alice"); got.Cmp(receipt.Reward) != 0 {
		t.Fatalf("creator balance: got %s want %s", got, receipt.Reward)
	}
	if _, err := f.engine.MintUTID(MintCommand{
		Key: "mint-2", InsightID: "insight-1", UTID: "utid-1", Creator: "alice", ProofScore: 0.95,
	}); !errors.Is(err, ledger.ErrDuplicateUTID) {
		t.Fatalf("duplicate mint: got %v want ErrDuplicateUTID", err)
	}
}

func TestConcurrentPurchasesStaySerialized(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		utid := fmt.Sprintf("utid-%d", i)
		f.list(t, utid, fmt.Sprintf("insight-%d", i), "alice", 0.9)
	}
	f.fund(t, "bob", 10_000_000)

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func(i int) {
			_, err := f.engine.PurchaseInsight(PurchaseCommand{
				Key:   fmt.Sprintf("tx-%d", i),
				Buyer: "bob",
				UTID:  fmt.Sprintf("utid-%d", i),
			})
			done <- err
		}(i)
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Fatalf("purchase %d: %v", i, err)
		}
	}
	if escrow := f.available(t, EscrowAccount); escrow.Sign() != 0 {
		t.Fatalf("escrow residue: got %s want 0", escrow)
	}
	if got := len(f.dist.Records()); got != 4 {
		t.Fatalf("records: got %d want 4", got)
	}
}

func TestPurchasePriceDecaysWithAge(t *testing.T) {
	f := newFixture(t)
	f.list(t, "utid-fresh", "insight-fresh", "alice", 0.9)
	f.list(t, "utid-aged", "insight-aged", "alice", 0.9)
	f.fund(t, "bob", 10_000_000)
	f.fund(t, "carol", 10_000_000)

	fresh, err := f.engine.PurchaseInsight(PurchaseCommand{Key: "tx-fresh", Buyer: "bob", UTID: "utid-fresh"})
	if err != nil {
		t.Fatalf("purchase fresh: %v", err)
	}

	f.clock.Advance(30 * 24 * time.Hour)

	aged, err := f.engine.PurchaseInsight(PurchaseCommand{Key: "tx-aged", Buyer: "carol", UTID: "utid-aged"})
	if err != nil {
		t.Fatalf("purchase aged: %v", err)
	}
	if aged.Total.Cmp(fresh.Total) >= 0 {
		t.Fatalf("aged total: got %s want below %s", aged.Total, fresh.Total)
	}
}
