package core

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"meridianchain/core/events"
	"meridianchain/core/state"
	"meridianchain/core/types"
	"meridianchain/crypto"
	"meridianchain/native/collateral"
	nativecommon "meridianchain/native/common"
	"meridianchain/native/pool"
	"meridianchain/native/redistribution"
	"meridianchain/native/trove"
	"meridianchain/observability"
	"meridianchain/storage"
)

// Receipt summarises a committed protocol operation. The hash commits to the
// operation name, its sequence number and every event it produced, so an
// auditor replaying the event stream can verify nothing was reordered.
type Receipt struct {
	Operation string         `json:"operation"`
	Sequence  uint64         `json:"sequence"`
	Hash      string         `json:"hash"`
	Events    []*types.Event `json:"events"`
	Timestamp uint64         `json:"timestamp"`
}

// Node is the central controller. All mutating operations serialise through
// its mutex and run inside a state transaction: either every write of an
// operation reaches the database or none do. Events buffer during the
// operation and publish to subscribers only after the commit.
type Node struct {
	mu       sync.Mutex
	db       storage.Database
	manager  *state.Manager
	registry *collateral.Registry
	engine   *trove.Engine
	rewards  *redistribution.Ledger
	surplus  *pool.SurplusLedger
	oracle   *collateral.StaticOracle
	capture  *captureEmitter
	pauses   *PauseRegistry
	log      *slog.Logger
	nowFn    func() time.Time
	sequence uint64

	registryCap collateral.Capability

	subMu       sync.Mutex
	subscribers map[uint64]chan *types.Event
	nextSub     uint64
}

// Option customises node construction.
type Option func(*nodeConfig)

type nodeConfig struct {
	params      trove.Params
	quoteMaxAge time.Duration
	logger      *slog.Logger
	now         func() time.Time
	deployTime  uint64
}

// WithParams overrides the protocol thresholds.
func WithParams(params trove.Params) Option {
	return func(c *nodeConfig) { c.params = params }
}

// WithQuoteMaxAge sets the oracle freshness window.
func WithQuoteMaxAge(maxAge time.Duration) Option {
	return func(c *nodeConfig) { c.quoteMaxAge = maxAge }
}

// WithLogger overrides the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *nodeConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(c *nodeConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithDeployTime anchors the bootstrap window at an explicit instant instead
// of the first-start time.
func WithDeployTime(ts uint64) Option {
	return func(c *nodeConfig) { c.deployTime = ts }
}

// NewNode wires the protocol components over the supplied database. The
// internal capabilities guarding fee commits and reward accrual are generated
// fresh on every start; they never leave the node.
func NewNode(db storage.Database, opts ...Option) (*Node, error) {
	cfg := &nodeConfig{
		params:      trove.DefaultParams(),
		quoteMaxAge: 5 * time.Minute,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	manager := state.NewManager(db)
	deployTime := cfg.deployTime
	if deployTime == 0 {
		deployTime = uint64(cfg.now().Unix())
	}
	deployTime, err := manager.SetDeployTime(deployTime)
	if err != nil {
		return nil, fmt.Errorf("core: record deploy time: %w", err)
	}

	registryCap := collateral.NewCapability(randomToken())
	rewardsCap := redistribution.NewCapability(randomToken())

	capture := &captureEmitter{}
	oracle := collateral.NewStaticOracle(cfg.quoteMaxAge)
	oracle.SetClock(cfg.now)
	pauses := NewPauseRegistry()

	registry := collateral.NewRegistry(registryCap)
	registry.SetState(manager)
	registry.SetOracle(oracle)
	registry.SetEmitter(capture)
	registry.SetBootstrap(deployTime, cfg.params.BootstrapWindow)

	rewards := redistribution.NewLedger(rewardsCap)
	rewards.SetState(manager)

	surplus := pool.NewSurplusLedger()
	surplus.SetState(manager)

	engine := trove.NewEngine(registry, registryCap, cfg.params)
	engine.SetState(manager)
	engine.SetRewards(rewards)
	engine.SetSurplus(surplus)
	engine.SetEmitter(capture)
	engine.SetClock(cfg.now)
	engine.SetDeployTime(deployTime)
	engine.SetPauses(pauses)

	return &Node{
		db:          db,
		manager:     manager,
		registry:    registry,
		engine:      engine,
		rewards:     rewards,
		surplus:     surplus,
		oracle:      oracle,
		capture:     capture,
		pauses:      pauses,
		log:         cfg.logger,
		nowFn:       cfg.now,
		registryCap: registryCap,
		subscribers: make(map[uint64]chan *types.Event),
	}, nil
}

// Oracle exposes the price source so operators can publish quotes.
func (n *Node) Oracle() *collateral.StaticOracle { return n.oracle }

// Params returns a copy of the protocol thresholds in force.
func (n *Node) Params() trove.Params { return n.engine.Params() }

// Pauses exposes the administrative pause registry.
func (n *Node) Pauses() *PauseRegistry { return n.pauses }

// bind points every stateful collaborator at the supplied view. Transactions
// expose their overlay through an embedded manager, so both the committed
// store and an open transaction pass through here.
func (n *Node) bind(view *state.Manager) {
	n.engine.SetState(view)
	n.registry.SetState(view)
	n.rewards.SetState(view)
	n.surplus.SetState(view)
}

// execute runs a mutating operation inside a transaction, committing and
// publishing its events only on success.
func (n *Node) execute(op string, fn func(view *state.Manager) error) (*Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	started := n.nowFn()

	tx := n.manager.Begin()
	n.bind(tx.Manager)
	n.capture.reset()
	err := fn(tx.Manager)
	n.bind(n.manager)
	if err != nil {
		tx.Discard()
		observability.RecordOperation(op, "error", n.nowFn().Sub(started))
		n.log.Warn("operation rejected", "operation", op, "error", err)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		observability.RecordOperation(op, "commit_error", n.nowFn().Sub(started))
		n.log.Error("state commit failed", "operation", op, "error", err)
		return nil, err
	}

	emitted := n.capture.drain()
	flat := make([]*types.Event, 0, len(emitted))
	for _, event := range emitted {
		payload, ok := event.(interface{ Event() *types.Event })
		if !ok {
			continue
		}
		flat = append(flat, payload.Event())
	}
	n.sequence++
	receipt := &Receipt{
		Operation: op,
		Sequence:  n.sequence,
		Hash:      receiptHash(op, n.sequence, flat),
		Events:    flat,
		Timestamp: uint64(n.nowFn().Unix()),
	}
	n.publish(flat)
	observability.RecordOperation(op, "ok", n.nowFn().Sub(started))
	observability.RecordEvents(flat)
	n.log.Info("operation committed", "operation", op, "sequence", receipt.Sequence, "events", len(flat))
	return receipt, nil
}

func receiptHash(op string, sequence uint64, emitted []*types.Event) string {
	h := blake3.New(32, nil)
	h.Write([]byte(op))
	fmt.Fprintf(h, "|%d|", sequence)
	for _, event := range emitted {
		encoded, err := json.Marshal(event)
		if err != nil {
			continue
		}
		h.Write(encoded)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func randomToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("core: capability token generation failed: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// --- collateral administration ---

// RegisterCollateral adds or replaces a collateral type in the registry.
func (n *Node) RegisterCollateral(asset *collateral.Asset) (*Receipt, error) {
	return n.execute("collateral_register", func(*state.Manager) error {
		return n.registry.RegisterAsset(n.registryCap, asset)
	})
}

// SetCollateralActive toggles whether a collateral type accepts new exposure.
func (n *Node) SetCollateralActive(symbol string, active bool) (*Receipt, error) {
	return n.execute("collateral_setActive", func(*state.Manager) error {
		return n.registry.SetActive(n.registryCap, symbol, active)
	})
}

// FundCollateral credits a collateral balance to an account. Deposit
// bridging lives outside the protocol core; operators and tests use this
// entry point to seed balances.
func (n *Node) FundCollateral(addr crypto.Address, symbol string, amount *big.Int) (*Receipt, error) {
	return n.execute("collateral_fund", func(view *state.Manager) error {
		if amount == nil || amount.Sign() <= 0 {
			return collateral.ErrInvalidAsset
		}
		canonical := collateral.NormalizeSymbol(symbol)
		if _, err := n.registry.Asset(canonical); err != nil {
			return err
		}
		account, err := view.GetAccount(addr)
		if err != nil {
			return err
		}
		if account == nil {
			account = types.NewAccount()
		}
		account.SetCollateralBalance(canonical, new(big.Int).Add(account.CollateralBalance(canonical), amount))
		return view.PutAccount(addr, account)
	})
}

// --- trove operations ---

// OpenTrove opens a position for the owner.
func (n *Node) OpenTrove(owner crypto.Address, collateralIn map[string]*big.Int, debt, maxFeePct *big.Int, prevHint, nextHint crypto.Address) (*trove.Trove, *Receipt, error) {
	var opened *trove.Trove
	receipt, err := n.execute("trove_open", func(*state.Manager) error {
		t, err := n.engine.OpenTrove(owner, collateralIn, debt, maxFeePct, hintBytes(prevHint), hintBytes(nextHint))
		opened = t
		return err
	})
	return opened, receipt, err
}

// AdjustTrove applies a combined collateral/debt adjustment.
func (n *Node) AdjustTrove(owner crypto.Address, change trove.ChangeSet, maxFeePct *big.Int, prevHint, nextHint crypto.Address) (*trove.Trove, *Receipt, error) {
	var adjusted *trove.Trove
	receipt, err := n.execute("trove_adjust", func(*state.Manager) error {
		t, err := n.engine.AdjustTrove(owner, change, maxFeePct, hintBytes(prevHint), hintBytes(nextHint))
		adjusted = t
		return err
	})
	return adjusted, receipt, err
}

// AddCollateral deposits a single collateral amount.
func (n *Node) AddCollateral(owner crypto.Address, symbol string, amount, maxFeePct *big.Int, prevHint, nextHint crypto.Address) (*trove.Trove, *Receipt, error) {
	var adjusted *trove.Trove
	receipt, err := n.execute("trove_addCollateral", func(*state.Manager) error {
		t, err := n.engine.AddCollateral(owner, symbol, amount, maxFeePct, hintBytes(prevHint), hintBytes(nextHint))
		adjusted = t
		return err
	})
	return adjusted, receipt, err
}

// WithdrawCollateral withdraws a single collateral amount.
func (n *Node) WithdrawCollateral(owner crypto.Address, symbol string, amount *big.Int, prevHint, nextHint crypto.Address) (*trove.Trove, *Receipt, error) {
	var adjusted *trove.Trove
	receipt, err := n.execute("trove_withdrawCollateral", func(*state.Manager) error {
		t, err := n.engine.WithdrawCollateral(owner, symbol, amount, hintBytes(prevHint), hintBytes(nextHint))
		adjusted = t
		return err
	})
	return adjusted, receipt, err
}

// Borrow draws additional MUSD against the trove.
func (n *Node) Borrow(owner crypto.Address, amount, maxFeePct *big.Int, prevHint, nextHint crypto.Address) (*trove.Trove, *Receipt, error) {
	var adjusted *trove.Trove
	receipt, err := n.execute("trove_borrow", func(*state.Manager) error {
		t, err := n.engine.Borrow(owner, amount, maxFeePct, hintBytes(prevHint), hintBytes(nextHint))
		adjusted = t
		return err
	})
	return adjusted, receipt, err
}

// Repay pays down MUSD debt.
func (n *Node) Repay(owner crypto.Address, amount *big.Int, prevHint, nextHint crypto.Address) (*trove.Trove, *Receipt, error) {
	var adjusted *trove.Trove
	receipt, err := n.execute("trove_repay", func(*state.Manager) error {
		t, err := n.engine.Repay(owner, amount, hintBytes(prevHint), hintBytes(nextHint))
		adjusted = t
		return err
	})
	return adjusted, receipt, err
}

// CloseTrove repays and terminates the owner's trove.
func (n *Node) CloseTrove(owner crypto.Address) (*Receipt, error) {
	return n.execute("trove_close", func(*state.Manager) error {
		return n.engine.CloseTrove(owner)
	})
}

// ClaimSurplus pays out claimable surplus collateral.
func (n *Node) ClaimSurplus(owner crypto.Address) (map[string]*big.Int, *Receipt, error) {
	var claimed map[string]*big.Int
	receipt, err := n.execute("trove_claimSurplus", func(*state.Manager) error {
		sent, err := n.engine.ClaimSurplus(owner)
		claimed = sent
		return err
	})
	return claimed, receipt, err
}

// Redeem exchanges MUSD for collateral from the riskiest troves.
func (n *Node) Redeem(req trove.RedemptionRequest) (*trove.RedemptionResult, *Receipt, error) {
	var result *trove.RedemptionResult
	receipt, err := n.execute("trove_redeem", func(*state.Manager) error {
		out, err := n.engine.Redeem(req)
		result = out
		return err
	})
	return result, receipt, err
}

// --- queries ---

// GetTrove returns the stored trove for an owner.
func (n *Node) GetTrove(owner crypto.Address) (*trove.Trove, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.GetTrove(owner)
}

// CurrentICR returns the trove's collateral ratio at current prices.
func (n *Node) CurrentICR(owner crypto.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.CurrentICR(owner)
}

// SystemSnapshot returns the protocol aggregates and current system ratio.
func (n *Node) SystemSnapshot() (*trove.SystemState, *big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.SystemSnapshot()
}

// BaseRate returns the decayed base rate.
func (n *Node) BaseRate() (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.BaseRate()
}

// ListTroves returns the index order from best ratio to worst.
func (n *Node) ListTroves() ([]crypto.Address, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ix, err := n.manager.GetTroveIndex()
	if err != nil {
		return nil, err
	}
	if ix == nil {
		return nil, nil
	}
	out := make([]crypto.Address, 0, ix.Len())
	for _, entry := range ix.Entries {
		owner := entry.Owner
		out = append(out, crypto.NewAddress(crypto.MerPrefix, owner[:]))
	}
	return out, nil
}

// Account returns the stored account, or an empty one.
func (n *Node) Account(addr crypto.Address) (*types.Account, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	account, err := n.manager.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = types.NewAccount()
	}
	return account, nil
}

// CollateralAssets lists every registered collateral type.
func (n *Node) CollateralAssets() ([]*collateral.Asset, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.registry.Assets()
}

// CollateralFeeQuote previews the variable fee fraction for depositing the
// amount of the symbol, without committing a decay anchor.
func (n *Node) CollateralFeeQuote(symbol string, amount *big.Int) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	input, err := n.registry.NormalizedValue(symbol, amount)
	if err != nil {
		return nil, err
	}
	sys, _, err := n.engine.SystemSnapshot()
	if err != nil {
		return nil, err
	}
	poolAmount := sys.CollateralTotals[collateral.NormalizeSymbol(symbol)]
	if poolAmount == nil {
		poolAmount = big.NewInt(0)
	}
	poolBefore, err := n.registry.NormalizedValue(symbol, poolAmount)
	if err != nil {
		return nil, err
	}
	_, systemBefore, err := n.registry.PortfolioValues(sys.CollateralTotals)
	if err != nil {
		return nil, err
	}
	systemAfter := new(big.Int).Add(systemBefore, input)
	return n.registry.Fee(symbol, input, poolBefore, systemBefore, systemAfter, uint64(n.nowFn().Unix()))
}

// SurplusClaims returns the owner's claimable surplus balances.
func (n *Node) SurplusClaims(owner crypto.Address) (map[string]*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.surplus.Claims(owner)
}

// --- event stream ---

// Subscribe registers an event channel. The returned id cancels it.
func (n *Node) Subscribe(buffer int) (uint64, <-chan *types.Event) {
	if buffer <= 0 {
		buffer = 64
	}
	n.subMu.Lock()
	defer n.subMu.Unlock()
	n.nextSub++
	id := n.nextSub
	ch := make(chan *types.Event, buffer)
	n.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscription.
func (n *Node) Unsubscribe(id uint64) {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	if ch, ok := n.subscribers[id]; ok {
		delete(n.subscribers, id)
		close(ch)
	}
}

// publish fans events out without blocking; slow subscribers drop.
func (n *Node) publish(emitted []*types.Event) {
	if len(emitted) == 0 {
		return
	}
	n.subMu.Lock()
	defer n.subMu.Unlock()
	for _, event := range emitted {
		for _, ch := range n.subscribers {
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// Close releases the underlying database.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.db.Close()
}

func hintBytes(addr crypto.Address) [20]byte {
	var out [20]byte
	if !addr.IsZero() {
		copy(out[:], addr.Bytes())
	}
	return out
}

// captureEmitter buffers events produced inside one operation.
type captureEmitter struct {
	buffered []events.Event
}

func (c *captureEmitter) Emit(event events.Event) {
	c.buffered = append(c.buffered, event)
}

func (c *captureEmitter) reset() { c.buffered = nil }

func (c *captureEmitter) drain() []events.Event {
	out := c.buffered
	c.buffered = nil
	return out
}

// PauseRegistry is the administrative switchboard for module pauses.
type PauseRegistry struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauseRegistry returns an empty registry with everything running.
func NewPauseRegistry() *PauseRegistry {
	return &PauseRegistry{paused: make(map[string]bool)}
}

// IsPaused implements the pause view consumed by module guards.
func (p *PauseRegistry) IsPaused(module string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[module]
}

// SetPaused flips a module's pause flag.
func (p *PauseRegistry) SetPaused(module string, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused[module] = paused
}

var _ nativecommon.PauseView = (*PauseRegistry)(nil)
