package core

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreerrors "factorchain/core/errors"
	"factorchain/core/events"
	"factorchain/crypto"
	nativecommon "factorchain/native/common"
	"factorchain/native/factoring"
	"factorchain/native/invoice"
	"factorchain/storage"
)

const (
	testNow = int64(1_700_000_000)
	day     = int64(24 * 60 * 60)
)

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), unit)
}

type testNode struct {
	*Node
	now       int64
	authority crypto.Address
	oracle    crypto.Address
	borrower  crypto.Address
	lender    crypto.Address
}

func newTestNode(t *testing.T, db storage.Database, opts Options) *testNode {
	t.Helper()
	tn := &testNode{
		now:       testNow,
		authority: crypto.ModuleAddress("authority"),
		oracle:    crypto.ModuleAddress("oracle"),
		borrower:  crypto.ModuleAddress("borrower"),
		lender:    crypto.ModuleAddress("lender"),
	}
	if db == nil {
		db = storage.NewMemDB()
	}
	opts.Authority = tn.authority
	opts.Now = func() int64 { return tn.now }
	node, err := NewNode(db, opts)
	require.NoError(t, err)
	tn.Node = node
	require.NoError(t, node.Wire(tn.authority, tn.oracle))
	require.NoError(t, node.Deposit(tn.authority, tn.lender, units(100)))
	require.NoError(t, node.Deposit(tn.authority, tn.borrower, units(10)))
	return tn
}

func (tn *testNode) mint(t *testing.T, approve bool) uint64 {
	t.Helper()
	id, err := tn.MintInvoice(tn.borrower, invoice.MintParams{
		MetadataURI:     "ipfs://invoice",
		Amount:          units(5),
		Debtor:          crypto.ModuleAddress("debtor"),
		DueDate:         tn.now + 5*day,
		InterestRateBps: 1500,
	})
	require.NoError(t, err)
	if approve {
		require.NoError(t, tn.ApproveInvoice(tn.borrower, id, tn.EscrowAddress()))
	}
	return id
}

func TestNodeRequiresAuthority(t *testing.T) {
	_, err := NewNode(storage.NewMemDB(), Options{})
	require.ErrorIs(t, err, ErrNoAuthority)
}

func TestNodeAuthorityPersists(t *testing.T) {
	db := storage.NewMemDB()
	authority := crypto.ModuleAddress("authority")
	_, err := NewNode(db, Options{Authority: authority})
	require.NoError(t, err)

	reopened, err := NewNode(db, Options{})
	require.NoError(t, err)
	require.Equal(t, authority, reopened.Authority())

	_, err = NewNode(db, Options{Authority: crypto.ModuleAddress("other")})
	require.ErrorIs(t, err, ErrAuthorityMismatch)
}

func TestWireIsOneShot(t *testing.T) {
	tn := newTestNode(t, nil, Options{})
	wired, err := tn.Wired()
	require.NoError(t, err)
	require.True(t, wired)

	err = tn.Wire(tn.authority, tn.oracle)
	require.ErrorIs(t, err, coreerrors.ErrAlreadySet)

	engine, ok, err := tn.InvoiceLoanEngine()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tn.EscrowAddress(), engine)
}

func TestFailedWireLeavesNoPartialState(t *testing.T) {
	node, err := NewNode(storage.NewMemDB(), Options{Authority: crypto.ModuleAddress("authority")})
	require.NoError(t, err)
	err = node.Wire(node.Authority(), crypto.ZeroAddress)
	require.ErrorIs(t, err, coreerrors.ErrInvalidAddress)

	_, ok, err := node.InvoiceLoanEngine()
	require.NoError(t, err)
	require.False(t, ok, "registry wiring must roll back with the failed oracle step")
	require.NoError(t, node.Wire(node.Authority(), crypto.ModuleAddress("oracle")))
}

func TestFailedFundRollsBack(t *testing.T) {
	tn := newTestNode(t, nil, Options{})
	id := tn.mint(t, true)
	poor := crypto.ModuleAddress("poor")
	require.NoError(t, tn.Deposit(tn.authority, poor, units(1)))

	_, err := tn.FundInvoice(poor, id, units(5))
	require.ErrorIs(t, err, coreerrors.ErrInsufficientBalance)

	inv, err := tn.Invoice(id)
	require.NoError(t, err)
	require.Equal(t, tn.borrower, inv.Owner)
	spender, ok, err := tn.InvoiceApproval(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tn.EscrowAddress(), spender)

	balance, err := tn.Balance(poor)
	require.NoError(t, err)
	require.Equal(t, 0, balance.Cmp(units(1)))
	_, err = tn.Loan(id)
	require.ErrorIs(t, err, coreerrors.ErrNotFound)
}

func TestEndToEndRepayment(t *testing.T) {
	tn := newTestNode(t, nil, Options{})
	id := tn.mint(t, true)
	supply, err := tn.Supply()
	require.NoError(t, err)

	_, err = tn.FundInvoice(tn.lender, id, units(5))
	require.NoError(t, err)
	due, err := tn.RepaymentDue(id)
	require.NoError(t, err)

	tn.now += 2 * day
	loan, err := tn.Repay(tn.borrower, id, due)
	require.NoError(t, err)
	require.Equal(t, factoring.StatusRepaid, loan.Status)

	inv, err := tn.Invoice(id)
	require.NoError(t, err)
	require.True(t, inv.Paid)
	require.Equal(t, tn.lender, inv.Owner)

	lenderBal, err := tn.Balance(tn.lender)
	require.NoError(t, err)
	require.Equal(t, "100750000000000000000", lenderBal.String())
	escrowBal, err := tn.Balance(tn.EscrowAddress())
	require.NoError(t, err)
	require.Zero(t, escrowBal.Sign())

	after, err := tn.Supply()
	require.NoError(t, err)
	require.Equal(t, 0, supply.Cmp(after))

	record, err := tn.Reputation(tn.borrower)
	require.NoError(t, err)
	require.Equal(t, int64(15), record.Score)
}

func TestEndToEndDefault(t *testing.T) {
	tn := newTestNode(t, nil, Options{})
	id := tn.mint(t, true)
	_, err := tn.FundInvoice(tn.lender, id, units(5))
	require.NoError(t, err)

	_, err = tn.MarkDefault(tn.oracle, id)
	require.ErrorIs(t, err, coreerrors.ErrTooEarly)

	tn.now += 5 * day
	due, err := tn.DueForDefault(tn.now)
	require.NoError(t, err)
	require.Len(t, due, 1)

	_, err = tn.MarkDefault(tn.oracle, id)
	require.NoError(t, err)
	inv, err := tn.Invoice(id)
	require.NoError(t, err)
	require.False(t, inv.Paid)
	require.Equal(t, tn.lender, inv.Owner)

	record, err := tn.Reputation(tn.borrower)
	require.NoError(t, err)
	require.Negative(t, record.Score)
	require.Equal(t, uint64(1), record.Penalties)
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	tn := newTestNode(t, nil, Options{})
	var collected events.Buffer
	tn.AddEmitter(&collected)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	live, unsubscribe, _ := tn.Events().Subscribe(ctx, "")
	defer unsubscribe()

	id := tn.mint(t, false)
	_, err := tn.FundInvoice(tn.lender, id, units(5))
	require.ErrorIs(t, err, coreerrors.ErrEscrowTransferFailed)

	kinds := make([]string, 0)
	for _, evt := range collected.Events() {
		kinds = append(kinds, evt.EventType())
	}
	require.Equal(t, []string{invoice.EventTypeMinted, invoice.EventTypeTransfer}, kinds)

	select {
	case record := <-live:
		require.Equal(t, invoice.EventTypeMinted, record.Event.EventType())
	case <-time.After(time.Second):
		t.Fatal("expected streamed mint event")
	}
}

func TestPausedModule(t *testing.T) {
	tn := newTestNode(t, nil, Options{Pauses: nativecommon.NewStaticPauses("factoring")})
	id := tn.mint(t, true)
	_, err := tn.FundInvoice(tn.lender, id, units(5))
	require.ErrorIs(t, err, coreerrors.ErrModulePaused)
}

func TestNodeOverLevelDB(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	tn := newTestNode(t, db, Options{})
	id := tn.mint(t, true)
	_, err = tn.FundInvoice(tn.lender, id, units(5))
	require.NoError(t, err)
	tn.Close()
	require.NoError(t, db.Close())

	db, err = storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	reopened, err := NewNode(db, Options{})
	require.NoError(t, err)
	loan, err := reopened.Loan(id)
	require.NoError(t, err)
	require.Equal(t, tn.lender, loan.Lender)

	_, err = tn.MintInvoice(tn.borrower, invoice.MintParams{})
	require.ErrorIs(t, err, ErrClosed)
}
