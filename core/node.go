package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"factorchain/core/events"
	"factorchain/core/state"
	"factorchain/crypto"
	"factorchain/native/bank"
	nativecommon "factorchain/native/common"
	"factorchain/native/factoring"
	"factorchain/native/invoice"
	"factorchain/native/reputation"
	"factorchain/observability"
	"factorchain/storage"
)

var (
	// ErrAuthorityMismatch is returned when the configured authority differs
	// from the one the data directory was bootstrapped with.
	ErrAuthorityMismatch = errors.New("node: authority does not match bootstrapped state")
	// ErrNoAuthority is returned when neither the state nor the options carry
	// an authority address.
	ErrNoAuthority = errors.New("node: authority not configured")
	// ErrClosed is returned by operations on a closed node.
	ErrClosed = errors.New("node: closed")
)

var authorityKey = []byte("node/authority")

type storedAuthority struct {
	Address crypto.Address
}

// Options configures the policy knobs applied to every transaction.
type Options struct {
	Authority        crypto.Address
	AllowSelfFunding bool
	Policy           reputation.Policy
	MaxAdjustment    int64
	Pauses           nativecommon.PauseView
	Now              func() int64
	Logger           *slog.Logger
}

// Modules bundles the ledger components bound to one transaction.
type Modules struct {
	Invoices   *invoice.Registry
	Reputation *reputation.Ledger
	Factoring  *factoring.Engine
	Bank       *bank.Ledger
}

// Node serialises every ledger mutation. Each call runs against a fresh
// overlay of the database which is committed in one batch on success and
// discarded on error; buffered events are published only after the commit.
type Node struct {
	db        storage.Database
	opts      Options
	authority crypto.Address
	stream    *events.Stream
	stateMu   sync.Mutex
	emitMu    sync.RWMutex
	emitters  []events.Emitter
	logger    *slog.Logger
	closed    bool
}

// NewNode opens a node over db. The authority is bootstrapped into state on
// first start; later starts must either omit it or present the same address.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{
		db:     db,
		opts:   opts,
		stream: events.NewStream(),
		logger: logger,
	}
	if err := n.bootstrap(opts.Authority); err != nil {
		return nil, err
	}
	n.logger.Info("node ready", slog.String("authority", n.authority.Hex()))
	return n, nil
}

func (n *Node) bootstrap(configured crypto.Address) error {
	manager := state.NewManager(n.db)
	var stored storedAuthority
	ok, err := manager.KVGet(authorityKey, &stored)
	if err != nil {
		return fmt.Errorf("node: load authority: %w", err)
	}
	switch {
	case ok && configured != crypto.ZeroAddress && configured != stored.Address:
		return fmt.Errorf("%w: state has %s, configured %s", ErrAuthorityMismatch, stored.Address.Hex(), configured.Hex())
	case ok:
		n.authority = stored.Address
		return nil
	case configured == crypto.ZeroAddress:
		return ErrNoAuthority
	}
	if err := manager.KVPut(authorityKey, &storedAuthority{Address: configured}); err != nil {
		return err
	}
	if err := manager.Commit(); err != nil {
		return fmt.Errorf("node: persist authority: %w", err)
	}
	n.authority = configured
	return nil
}

// Authority returns the deploying authority address.
func (n *Node) Authority() crypto.Address { return n.authority }

// Events exposes the committed event stream.
func (n *Node) Events() *events.Stream { return n.stream }

// AddEmitter registers an additional consumer of committed events, such as
// the SQL indexer.
func (n *Node) AddEmitter(emitter events.Emitter) {
	if emitter == nil {
		return
	}
	n.emitMu.Lock()
	n.emitters = append(n.emitters, emitter)
	n.emitMu.Unlock()
}

func (n *Node) publisher() events.Fanout {
	n.emitMu.RLock()
	defer n.emitMu.RUnlock()
	out := make(events.Fanout, 0, len(n.emitters)+1)
	out = append(out, n.stream)
	out = append(out, n.emitters...)
	return out
}

func (n *Node) modules(manager *state.Manager, emitter events.Emitter) *Modules {
	registry := invoice.NewRegistry(manager)
	registry.SetAuthority(n.authority)
	registry.SetPauses(n.opts.Pauses)
	registry.SetEmitter(emitter)
	registry.SetNowFunc(n.opts.Now)

	ledger := reputation.NewLedger(manager)
	ledger.SetAuthority(n.authority)
	ledger.SetMaxAdjustment(n.opts.MaxAdjustment)
	ledger.SetEmitter(emitter)

	balances := bank.NewLedger(manager)
	balances.SetAuthority(n.authority)
	balances.SetEmitter(emitter)

	engine := factoring.NewEngine()
	engine.SetState(manager)
	engine.SetRegistry(registry)
	engine.SetReputation(ledger)
	engine.SetBank(balances)
	engine.SetAuthority(n.authority)
	engine.SetPolicy(n.opts.Policy)
	engine.SetAllowSelfFunding(n.opts.AllowSelfFunding)
	engine.SetPauses(n.opts.Pauses)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(n.opts.Now)

	return &Modules{Invoices: registry, Reputation: ledger, Factoring: engine, Bank: balances}
}

// Execute runs fn as one atomic transaction. Any error discards every write
// made by fn and suppresses its events.
func (n *Node) Execute(operation string, fn func(*Modules) error) error {
	start := time.Now()
	err := n.execute(fn)
	observability.Engine().Observe(operation, time.Since(start), err)
	if err != nil {
		n.logger.Debug("transaction rejected", slog.String("operation", operation), slog.Any("error", err))
	}
	return err
}

func (n *Node) execute(fn func(*Modules) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if n.closed {
		return ErrClosed
	}

	manager := state.NewManager(n.db)
	var buffer events.Buffer
	if err := fn(n.modules(manager, &buffer)); err != nil {
		manager.Discard()
		return err
	}
	if err := manager.Commit(); err != nil {
		return fmt.Errorf("node: commit: %w", err)
	}
	for _, evt := range buffer.Events() {
		observability.Events().RecordPublished(evt.EventType())
	}
	buffer.Flush(n.publisher())
	return nil
}

// View runs fn against the committed state. Writes made by fn are dropped.
func (n *Node) View(fn func(*Modules) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if n.closed {
		return ErrClosed
	}
	manager := state.NewManager(n.db)
	defer manager.Discard()
	return fn(n.modules(manager, events.NoopEmitter{}))
}

// Close stops accepting transactions. The database is owned by the caller.
func (n *Node) Close() {
	n.stateMu.Lock()
	n.closed = true
	n.stateMu.Unlock()
}

// Wire registers the factoring engine with the registry and the reputation
// ledger and sets the oracle, all in one transaction.
func (n *Node) Wire(caller, oracle crypto.Address) error {
	return n.Execute("wire", func(m *Modules) error {
		engine := m.Factoring.Address()
		if err := m.Invoices.SetLoanEngine(caller, engine); err != nil {
			return fmt.Errorf("invoice loan engine: %w", err)
		}
		if err := m.Reputation.SetLoanEngine(caller, engine); err != nil {
			return fmt.Errorf("reputation loan engine: %w", err)
		}
		if err := m.Factoring.SetOracle(caller, oracle); err != nil {
			return fmt.Errorf("oracle: %w", err)
		}
		return nil
	})
}

// Wired reports whether the registry, the ledger and the engine have all been
// configured.
func (n *Node) Wired() (bool, error) {
	wired := false
	err := n.View(func(m *Modules) error {
		_, invoiceSet, err := m.Invoices.LoanEngine()
		if err != nil {
			return err
		}
		_, ledgerSet, err := m.Reputation.LoanEngine()
		if err != nil {
			return err
		}
		_, oracleSet, err := m.Factoring.Oracle()
		if err != nil {
			return err
		}
		wired = invoiceSet && ledgerSet && oracleSet
		return nil
	})
	return wired, err
}

// MintInvoice mints a new invoice owned by caller.
func (n *Node) MintInvoice(caller crypto.Address, params invoice.MintParams) (uint64, error) {
	var id uint64
	err := n.Execute("invoice_mint", func(m *Modules) error {
		var err error
		id, err = m.Invoices.Mint(caller, params)
		return err
	})
	return id, err
}

// ApproveInvoice grants spender a single-use transfer right.
func (n *Node) ApproveInvoice(caller crypto.Address, id uint64, spender crypto.Address) error {
	return n.Execute("invoice_approve", func(m *Modules) error {
		return m.Invoices.Approve(caller, id, spender)
	})
}

// TransferInvoice moves an invoice to a new owner.
func (n *Node) TransferInvoice(caller crypto.Address, id uint64, to crypto.Address) error {
	return n.Execute("invoice_transfer", func(m *Modules) error {
		return m.Invoices.TransferOwnership(caller, id, to)
	})
}

// MarkInvoicePaid flips the paid flag of an invoice.
func (n *Node) MarkInvoicePaid(caller crypto.Address, id uint64) error {
	return n.Execute("invoice_markPaid", func(m *Modules) error {
		return m.Invoices.MarkPaid(caller, id)
	})
}

// SetInvoiceLoanEngine registers the registry's loan engine.
func (n *Node) SetInvoiceLoanEngine(caller, engine crypto.Address) error {
	return n.Execute("invoice_setLoanEngine", func(m *Modules) error {
		return m.Invoices.SetLoanEngine(caller, engine)
	})
}

// SetReputationLoanEngine registers the reputation ledger's single writer.
func (n *Node) SetReputationLoanEngine(caller, engine crypto.Address) error {
	return n.Execute("reputation_setLoanEngine", func(m *Modules) error {
		return m.Reputation.SetLoanEngine(caller, engine)
	})
}

// FundInvoice funds an invoice with value supplied by caller.
func (n *Node) FundInvoice(caller crypto.Address, id uint64, value *big.Int) (*factoring.Loan, error) {
	var loan *factoring.Loan
	err := n.Execute("factoring_fund", func(m *Modules) error {
		var err error
		loan, err = m.Factoring.FundInvoice(caller, id, value)
		return err
	})
	return loan, err
}

// Repay settles a funded loan.
func (n *Node) Repay(caller crypto.Address, id uint64, value *big.Int) (*factoring.Loan, error) {
	var loan *factoring.Loan
	err := n.Execute("factoring_repay", func(m *Modules) error {
		var err error
		loan, err = m.Factoring.Repay(caller, id, value)
		return err
	})
	return loan, err
}

// MarkDefault records non-payment of a due loan.
func (n *Node) MarkDefault(caller crypto.Address, id uint64) (*factoring.Loan, error) {
	var loan *factoring.Loan
	err := n.Execute("factoring_markDefault", func(m *Modules) error {
		var err error
		loan, err = m.Factoring.MarkDefault(caller, id)
		return err
	})
	return loan, err
}

// SetOracle registers the default oracle.
func (n *Node) SetOracle(caller, oracle crypto.Address) error {
	return n.Execute("factoring_setOracle", func(m *Modules) error {
		return m.Factoring.SetOracle(caller, oracle)
	})
}

// Deposit credits new settlement funds to an account.
func (n *Node) Deposit(caller, to crypto.Address, amount *big.Int) error {
	return n.Execute("bank_deposit", func(m *Modules) error {
		return m.Bank.Deposit(caller, to, amount)
	})
}
