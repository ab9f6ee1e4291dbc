package economy

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"creditprotocol/core/events"
)

var (
	ErrInsufficientBalance = errors.New("economy: insufficient balance")
	ErrSupplyCapExceeded   = errors.New("economy: supply cap exceeded")
	ErrStakeLocked         = errors.New("economy: stake still locked")
	ErrUnknownStake        = errors.New("economy: unknown stake")
	ErrStakeNotActive      = errors.New("economy: stake not active")
	ErrInvalidAmount       = errors.New("economy: amount must be positive")
	ErrAccountRequired     = errors.New("economy: account id required")
)

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

// WithEmitter configures the event emitter used by the engine.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithLogger configures the structured logger used for operational warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine owns the token accounts, supply counters, and stakes. All methods
// are safe for concurrent use.
type Engine struct {
	mu sync.RWMutex

	params   Params
	accounts map[string]*Account
	stakes   map[string]*Stake
	byOwner  map[string][]string // owner id -> stake ids

	supply Supply

	nowFn   func() time.Time
	emitter events.Emitter
	logger  *slog.Logger
}

// NewEngine constructs a token economics engine from the supplied params.
func NewEngine(params Params, opts ...Option) *Engine {
	e := &Engine{
		params:   params,
		accounts: make(map[string]*Account),
		stakes:   make(map[string]*Stake),
		byOwner:  make(map[string][]string),
		supply: Supply{
			Total:       big.NewInt(0),
			Circulating: big.NewInt(0),
			Staked:      big.NewInt(0),
			Burned:      big.NewInt(0),
			Max:         new(big.Int).Set(params.MaxSupply),
			RewardPool:  new(big.Int).Set(params.RewardPool),
		},
		nowFn:   time.Now,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) now() time.Time { return e.nowFn().UTC() }

// account returns the account for id, creating it lazily. Caller holds e.mu.
func (e *Engine) account(id string) *Account {
	acc, ok := e.accounts[id]
	if !ok {
		acc = newAccount(id)
		e.accounts[id] = acc
	}
	return acc
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func normalizeID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", ErrAccountRequired
	}
	return trimmed, nil
}

// MintTokens credits newly created supply to an account. Fails when the mint
// would breach the max supply; counters are left untouched on failure.
func (e *Engine) MintTokens(accountID string, amount *big.Int, reason string) error {
	accountID, err := normalizeID(accountID)
	if err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next := new(big.Int).Add(e.supply.Total, amount)
	if next.Cmp(e.supply.Max) > 0 {
		return fmt.Errorf("%w: total %s + %s > max %s", ErrSupplyCapExceeded, e.supply.Total, amount, e.supply.Max)
	}
	acc := e.account(accountID)
	acc.Available = new(big.Int).Add(acc.Available, amount)
	acc.TotalEarned = new(big.Int).Add(acc.TotalEarned, amount)
	e.supply.Total = next
	e.supply.Circulating = new(big.Int).Add(e.supply.Circulating, amount)
	if strings.TrimSpace(reason) == "" {
		reason = events.SupplyReasonMint
	}
	e.emitter.Emit(events.TokenSupply{Total: e.supply.Total, Delta: amount, Reason: reason})
	return nil
}

// BurnTokens removes supply from an account's available balance.
func (e *Engine) BurnTokens(accountID string, amount *big.Int, reason string) error {
	accountID, err := normalizeID(accountID)
	if err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	acc := e.account(accountID)
	if acc.Available.Cmp(amount) < 0 {
		return fmt.Errorf("%w: account %s has %s, needs %s", ErrInsufficientBalance, accountID, acc.Available, amount)
	}
	acc.Available = new(big.Int).Sub(acc.Available, amount)
	acc.TotalSpent = new(big.Int).Add(acc.TotalSpent, amount)
	if strings.TrimSpace(reason) == "" {
		reason = events.SupplyReasonBurn
	}
	e.burnSupplyLocked(amount, reason)
	return nil
}

// burnSupplyLocked shrinks the supply counters by amount. Caller holds e.mu.
func (e *Engine) burnSupplyLocked(amount *big.Int, reason string) {
	e.supply.Total = new(big.Int).Sub(e.supply.Total, amount)
	e.supply.Circulating = new(big.Int).Sub(e.supply.Circulating, amount)
	e.supply.Burned = new(big.Int).Add(e.supply.Burned, amount)
	e.emitter.Emit(events.TokenSupply{Total: e.supply.Total, Delta: new(big.Int).Neg(amount), Reason: reason})
}

// TransferTokens debits the sender the full amount and credits the recipient
// amount minus the optional deflationary burn.
func (e *Engine) TransferTokens(from, to string, amount *big.Int, applyBurn bool) error {
	from, err := normalizeID(from)
	if err != nil {
		return err
	}
	to, err = normalizeID(to)
	if err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sender := e.account(from)
	if sender.Available.Cmp(amount) < 0 {
		return fmt.Errorf("%w: account %s has %s, needs %s", ErrInsufficientBalance, from, sender.Available, amount)
	}
	burn := big.NewInt(0)
	if applyBurn && e.params.BurnRateBps > 0 {
		burn = new(big.Int).Mul(amount, new(big.Int).SetUint64(e.params.BurnRateBps))
		burn = burn.Div(burn, big.NewInt(10_000))
	}
	credited := new(big.Int).Sub(amount, burn)
	recipient := e.account(to)
	sender.Available = new(big.Int).Sub(sender.Available, amount)
	sender.TotalSpent = new(big.Int).Add(sender.TotalSpent, amount)
	recipient.Available = new(big.Int).Add(recipient.Available, credited)
	recipient.TotalEarned = new(big.Int).Add(recipient.TotalEarned, credited)
	if burn.Sign() > 0 {
		e.burnSupplyLocked(burn, events.SupplyReasonTransferBurn)
	}
	e.emitter.Emit(events.TokenTransfer{From: from, To: to, Amount: amount, Burned: burn})
	return nil
}

// StakeTokens moves amount from available to staked and opens a stake at the
// lock-tiered APY. Staked tokens leave circulating supply but stay in total.
func (e *Engine) StakeTokens(accountID string, amount *big.Int, lockDays uint64) (*Stake, error) {
	accountID, err := normalizeID(accountID)
	if err != nil {
		return nil, err
	}
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	acc := e.account(accountID)
	if acc.Available.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: account %s has %s, needs %s", ErrInsufficientBalance, accountID, acc.Available, amount)
	}
	now := e.now()
	stake := &Stake{
		ID:            uuid.NewString(),
		Owner:         accountID,
		Principal:     new(big.Int).Set(amount),
		StakedAt:      now,
		Status:        StakeActive,
		APYBps:        e.params.APYForLock(lockDays),
		AccruedReward: big.NewInt(0),
		LastAccrual:   now,
	}
	if lockDays > 0 {
		unlock := now.Add(time.Duration(lockDays) * 24 * time.Hour)
		stake.UnlockAt = &unlock
	}
	acc.Available = new(big.Int).Sub(acc.Available, amount)
	acc.Staked = new(big.Int).Add(acc.Staked, amount)
	acc.TotalStaked = new(big.Int).Add(acc.TotalStaked, amount)
	e.supply.Circulating = new(big.Int).Sub(e.supply.Circulating, amount)
	e.supply.Staked = new(big.Int).Add(e.supply.Staked, amount)
	e.stakes[stake.ID] = stake
	e.byOwner[accountID] = append(e.byOwner[accountID], stake.ID)
	e.emitter.Emit(events.StakeOpened{StakeID: stake.ID, Owner: accountID, Amount: amount, APYBps: stake.APYBps, LockDays: lockDays})
	return stake.Clone(), nil
}

// accrueLocked advances the stake's reward checkpoint to now, debiting the
// shared reward pool. The pool has no floor and may go negative; that state
// is logged rather than silently corrected. Caller holds e.mu.
func (e *Engine) accrueLocked(stake *Stake, now time.Time) *big.Int {
	if stake.Status != StakeActive {
		return big.NewInt(0)
	}
	elapsed := now.Sub(stake.LastAccrual)
	if elapsed <= 0 {
		return big.NewInt(0)
	}
	days := elapsed.Hours() / 24
	principal, _ := new(big.Float).SetInt(stake.Principal).Float64()
	reward := principal * float64(stake.APYBps) / 10_000 * days / 365
	amount := bigFromFloat(reward)
	if amount.Sign() <= 0 {
		stake.LastAccrual = now
		return big.NewInt(0)
	}
	stake.AccruedReward = new(big.Int).Add(stake.AccruedReward, amount)
	stake.LastAccrual = now
	e.supply.RewardPool = new(big.Int).Sub(e.supply.RewardPool, amount)
	if e.supply.RewardPool.Sign() < 0 {
		e.logger.Warn("reward pool overdrawn",
			slog.String("stake", stake.ID),
			slog.String("balance", e.supply.RewardPool.String()))
		e.emitter.Emit(events.RewardPoolNegative{Balance: e.supply.RewardPool})
	}
	return amount
}

// UnstakeTokens closes a stake after its unlock time: the principal returns
// to the available balance, the final accrued reward lands in pending
// rewards, and the principal rejoins circulating supply.
func (e *Engine) UnstakeTokens(stakeID string) (*Stake, error) {
	stakeID = strings.TrimSpace(stakeID)
	e.mu.Lock()
	defer e.mu.Unlock()
	stake, ok := e.stakes[stakeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStake, stakeID)
	}
	if stake.Status != StakeActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrStakeNotActive, stakeID, stake.Status)
	}
	now := e.now()
	if stake.UnlockAt != nil && now.Before(*stake.UnlockAt) {
		return nil, fmt.Errorf("%w: unlocks at %s", ErrStakeLocked, stake.UnlockAt.Format(time.RFC3339))
	}
	e.accrueLocked(stake, now)
	acc := e.account(stake.Owner)
	acc.Available = new(big.Int).Add(acc.Available, stake.Principal)
	acc.Staked = new(big.Int).Sub(acc.Staked, stake.Principal)
	acc.PendingRewards = new(big.Int).Add(acc.PendingRewards, stake.AccruedReward)
	e.supply.Circulating = new(big.Int).Add(e.supply.Circulating, stake.Principal)
	e.supply.Staked = new(big.Int).Sub(e.supply.Staked, stake.Principal)
	stake.Status = StakeUnstaked
	unstakedAt := now
	stake.UnstakedAt = &unstakedAt
	e.emitter.Emit(events.StakeClosed{StakeID: stake.ID, Owner: stake.Owner, Principal: stake.Principal, Reward: stake.AccruedReward})
	return stake.Clone(), nil
}

// ClaimRewards accrues every active stake owned by the account and sweeps the
// accrued plus pending rewards into the available balance. Returns the total
// claimed.
func (e *Engine) ClaimRewards(accountID string) (*big.Int, error) {
	accountID, err := normalizeID(accountID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	total := big.NewInt(0)
	for _, stakeID := range e.byOwner[accountID] {
		stake := e.stakes[stakeID]
		if stake.Status != StakeActive {
			continue
		}
		e.accrueLocked(stake, now)
		if stake.AccruedReward.Sign() > 0 {
			total = new(big.Int).Add(total, stake.AccruedReward)
			stake.AccruedReward = big.NewInt(0)
		}
	}
	acc := e.account(accountID)
	if acc.PendingRewards.Sign() > 0 {
		total = new(big.Int).Add(total, acc.PendingRewards)
		acc.PendingRewards = big.NewInt(0)
	}
	if total.Sign() > 0 {
		acc.Available = new(big.Int).Add(acc.Available, total)
		acc.TotalEarned = new(big.Int).Add(acc.TotalEarned, total)
	}
	return total, nil
}

// AccountSummary returns a copy of the account and its stakes.
func (e *Engine) AccountSummary(accountID string) (*AccountSummary, error) {
	accountID, err := normalizeID(accountID)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	acc, ok := e.accounts[accountID]
	if !ok {
		acc = newAccount(accountID)
	}
	summary := &AccountSummary{Account: acc.Clone()}
	for _, stakeID := range e.byOwner[accountID] {
		summary.Stakes = append(summary.Stakes, e.stakes[stakeID].Clone())
	}
	return summary, nil
}

// Stake returns a copy of the stake with the given id.
func (e *Engine) Stake(stakeID string) (*Stake, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stake, ok := e.stakes[strings.TrimSpace(stakeID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStake, stakeID)
	}
	return stake.Clone(), nil
}

// EconomyStats returns a copy of the supply counters and headline counts.
func (e *Engine) EconomyStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	active := 0
	for _, stake := range e.stakes {
		if stake.Status == StakeActive {
			active++
		}
	}
	return Stats{
		Supply:       e.supply.Clone(),
		AccountCount: len(e.accounts),
		ActiveStakes: active,
	}
}

// Params returns the engine's configured parameters.
func (e *Engine) Params() Params { return e.params }
