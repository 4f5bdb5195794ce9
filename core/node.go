package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mortgagechain/core/events"
	"mortgagechain/core/genesis"
	"mortgagechain/core/state"
	"mortgagechain/crypto"
	"mortgagechain/native/bank"
	"mortgagechain/native/convert"
	"mortgagechain/native/loans"
	"mortgagechain/native/market"
	"mortgagechain/native/mortgage"
	"mortgagechain/native/parcel"
	"mortgagechain/observability"
	mtgotel "mortgagechain/observability/otel"
	"mortgagechain/storage"
)

// Module addresses of the built-in components.
var (
	MarketAddress   = [20]byte(crypto.ModuleAddress("market"))
	LoansAddress    = [20]byte(crypto.ModuleAddress("loans"))
	MortgageAddress = [20]byte(crypto.ModuleAddress("mortgage"))
	HelperAddress   = [20]byte(crypto.ModuleAddress("mortgage/helper"))
	BookAddress     = [20]byte(crypto.ModuleAddress("convert/book"))
)

var (
	ErrGenesisApplied = errors.New("node: genesis already applied")

	genesisKey = []byte("node/genesis-applied")
	poolsKey   = []byte("node/pools")
)

// Config selects the economic parameters of the built-in modules.
type Config struct {
	PricingToken    string
	LoanToken       string
	MinCoverageBps  uint64
	MaxOverspendBps uint64
	MarginSpendBps  uint64
	// HelperOracle and HelperConverter default to the order book.
	HelperOracle    [20]byte
	HelperConverter [20]byte
	// Operator owns the manager, helper and order book.
	Operator [20]byte
}

// Option customises a Node.
type Option func(*Node)

// WithLogger sets the structured logger used for per-transaction lines.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithSink adds an emitter that receives events of committed transactions.
func WithSink(sink events.Emitter) Option {
	return func(n *Node) {
		if sink != nil {
			n.sinks = append(n.sinks, sink)
		}
	}
}

// WithNowFunc overrides the clock shared by every module.
func WithNowFunc(now func() int64) Option {
	return func(n *Node) {
		if now != nil {
			n.nowFn = now
		}
	}
}

type poolRecord struct {
	Address [20]byte
	TokenA  string
	TokenB  string
	FeeBps  uint32
}

// Node wires the native modules over one state manager and serializes
// transactions against it. Events emitted by a transaction reach the sinks
// only after the transaction commits.
type Node struct {
	mu       sync.Mutex
	db       storage.Database
	state    *state.Manager
	recorder *events.Recorder
	sinks    events.Fanout
	logger   *slog.Logger
	tracer   trace.Tracer
	nowFn    func() int64
	cfg      Config

	ledger     *bank.Ledger
	parcels    *parcel.Registry
	market     *market.Marketplace
	book       *convert.OrderBook
	converters *convert.Registry
	engine     *loans.Engine
	manager    *mortgage.Manager
	helper     *mortgage.Helper
}

// NewNode opens the modules over db. Pools registered by an earlier genesis
// are restored from state.
func NewNode(db storage.Database, cfg Config, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	cfg.PricingToken = bank.NormalizeSymbol(cfg.PricingToken)
	cfg.LoanToken = bank.NormalizeSymbol(cfg.LoanToken)
	if cfg.PricingToken == "" || cfg.LoanToken == "" {
		return nil, fmt.Errorf("node: pricing and loan tokens required")
	}
	if cfg.HelperOracle == ([20]byte{}) {
		cfg.HelperOracle = BookAddress
	}
	if cfg.HelperConverter == ([20]byte{}) {
		cfg.HelperConverter = BookAddress
	}
	if cfg.MarginSpendBps == 0 {
		cfg.MarginSpendBps = mortgage.DefaultMarginSpendBps
	}
	if cfg.MaxOverspendBps == 0 {
		cfg.MaxOverspendBps = mortgage.DefaultMaxOverspendBps
	}

	n := &Node{
		db:       db,
		state:    state.NewManager(db),
		recorder: &events.Recorder{},
		logger:   slog.Default(),
		tracer:   mtgotel.Tracer(),
		nowFn:    func() int64 { return time.Now().Unix() },
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(n)
	}

	n.ledger = bank.NewLedger(n.state)
	n.ledger.SetEmitter(n.recorder)
	n.parcels = parcel.NewRegistry(n.state)
	n.parcels.SetEmitter(n.recorder)
	n.market = market.NewMarketplace(MarketAddress, cfg.PricingToken, n.state, n.ledger, n.parcels)
	n.market.SetEmitter(n.recorder)
	n.market.SetNowFunc(n.nowFn)

	n.book = convert.NewOrderBook(BookAddress, cfg.Operator, n.state, n.ledger)
	n.converters = convert.NewRegistry(n.state)
	if err := n.converters.Register(n.book); err != nil {
		return nil, err
	}

	n.engine = loans.NewEngine(LoansAddress, cfg.LoanToken)
	n.engine.SetState(n.state)
	n.engine.SetLedger(n.ledger)
	n.engine.SetEmitter(n.recorder)
	n.engine.SetNowFunc(n.nowFn)
	n.engine.RegisterOracle(BookAddress, n.book)

	n.manager = mortgage.NewManager(MortgageAddress, cfg.Operator, mortgage.Config{
		PricingToken:    cfg.PricingToken,
		MinCoverageBps:  cfg.MinCoverageBps,
		MaxOverspendBps: cfg.MaxOverspendBps,
	})
	n.manager.SetState(n.state)
	n.manager.SetLedger(n.ledger)
	n.manager.SetMarket(mortgage.NewMarketAdapter(n.market, n.parcels))
	n.manager.SetConverters(n.converters)
	n.manager.SetEmitter(n.recorder)
	n.manager.SetNowFunc(n.nowFn)
	n.manager.RegisterEngine(n.engine)
	n.engine.RegisterCosigner(mortgage.NewCosignerAdapter(n.manager))

	n.helper = mortgage.NewHelper(HelperAddress, cfg.Operator, n.manager, n.engine, mortgage.HelperConfig{
		MarginSpendBps: cfg.MarginSpendBps,
		Oracle:         cfg.HelperOracle,
		Converter:      cfg.HelperConverter,
	})
	n.helper.SetEmitter(n.recorder)

	if err := n.state.EnsureStateVersion(); err != nil {
		return nil, err
	}
	var pools []poolRecord
	if _, err := n.state.KVGet(poolsKey, &pools); err != nil {
		return nil, fmt.Errorf("node: load pools: %w", err)
	}
	for _, rec := range pools {
		pool, err := convert.NewReservePool(rec.Address, rec.TokenA, rec.TokenB, rec.FeeBps, n.ledger)
		if err != nil {
			return nil, fmt.Errorf("node: restore pool: %w", err)
		}
		if err := n.registerPool(pool); err != nil {
			return nil, err
		}
	}
	if err := n.state.Commit(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) registerPool(pool *convert.ReservePool) error {
	if err := n.converters.Register(pool); err != nil {
		return err
	}
	n.engine.RegisterOracle(pool.Address(), pool)
	return nil
}

// addPool registers a pool created during genesis and persists its
// descriptor so restarts restore it.
func (n *Node) addPool(pool *convert.ReservePool) error {
	if err := n.registerPool(pool); err != nil {
		return err
	}
	var pools []poolRecord
	if _, err := n.state.KVGet(poolsKey, &pools); err != nil {
		return err
	}
	a, b := pool.Pair()
	pools = append(pools, poolRecord{Address: pool.Address(), TokenA: a, TokenB: b, FeeBps: pool.FeeBps()})
	return n.state.KVPut(poolsKey, pools)
}

// InitGenesis applies spec once and allow-lists the helper as a mortgage
// creator. Later calls fail with ErrGenesisApplied.
func (n *Node) InitGenesis(ctx context.Context, spec *genesis.Spec) error {
	return n.Execute(ctx, "genesis", n.cfg.Operator, func() error {
		applied, err := n.state.KVGet(genesisKey, nil)
		if err != nil {
			return err
		}
		if applied {
			return ErrGenesisApplied
		}
		if err := genesis.Apply(spec, genesis.Modules{
			Ledger:   n.ledger,
			Parcels:  n.parcels,
			Market:   n.market,
			Book:     n.book,
			Manager:  n.manager,
			Operator: n.cfg.Operator,
			AddPool:  n.addPool,
		}); err != nil {
			return err
		}
		if err := n.manager.SetCreator(n.cfg.Operator, HelperAddress, true); err != nil {
			return err
		}
		return n.state.KVPut(genesisKey, true)
	})
}

// GenesisApplied reports whether InitGenesis has run on this database.
func (n *Node) GenesisApplied() (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.KVGet(genesisKey, nil)
}

// RetireConverter disables a registered converter so mortgages can no longer
// open or fund through it. Only the operator may retire one.
func (n *Node) RetireConverter(ctx context.Context, caller, addr [20]byte) error {
	return n.Execute(ctx, "convert_retire", caller, func() error {
		if caller != n.cfg.Operator {
			return fmt.Errorf("%w: %s", convert.ErrUnauthorized, crypto.Address(caller))
		}
		return n.converters.Retire(addr)
	})
}

// Execute runs fn as one transaction: every write it makes commits together
// or not at all, and its events are published only on commit.
func (n *Node) Execute(ctx context.Context, tx string, caller [20]byte, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := n.tracer.Start(ctx, "tx."+tx, trace.WithAttributes(
		attribute.String("tx", tx),
		attribute.String("caller", crypto.Address(caller).String()),
	))
	defer span.End()

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	mark := n.recorder.Mark()
	err := n.state.Atomic(fn)
	if err == nil {
		if err = n.state.Commit(); err != nil {
			n.state.Discard()
			err = fmt.Errorf("node: commit: %w", err)
		} else {
			observability.Transactions().RecordCommit()
		}
	}
	observability.Transactions().Observe(tx, err, time.Since(start))

	if err != nil {
		n.recorder.Truncate(mark)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		n.logger.Warn("transaction reverted",
			slog.String("tx", tx),
			slog.String("caller", crypto.Address(caller).String()),
			slog.String("outcome", "reverted"),
			slog.String("error", err.Error()))
		return err
	}
	emitted := n.recorder.Drain()
	for _, evt := range emitted {
		n.sinks.Emit(evt)
	}
	n.logger.Info("transaction applied",
		slog.String("tx", tx),
		slog.String("caller", crypto.Address(caller).String()),
		slog.String("outcome", "applied"),
		slog.Int("events", len(emitted)))
	return nil
}

// Query runs fn under the node lock without committing.
func (n *Node) Query(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return fn()
}

// Close releases the database.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state.Pending() > 0 {
		n.state.Discard()
	}
	return n.db.Close()
}

// Config returns the normalized node configuration.
func (n *Node) Config() Config { return n.cfg }

func (n *Node) Ledger() *bank.Ledger { return n.ledger }

func (n *Node) Parcels() *parcel.Registry { return n.parcels }

func (n *Node) Market() *market.Marketplace { return n.market }

func (n *Node) Book() *convert.OrderBook { return n.book }

func (n *Node) Converters() *convert.Registry { return n.converters }

func (n *Node) Engine() *loans.Engine { return n.engine }

func (n *Node) Manager() *mortgage.Manager { return n.manager }

func (n *Node) Helper() *mortgage.Helper { return n.helper }

// Now reports the node clock in unix seconds.
func (n *Node) Now() int64 { return n.nowFn() }
