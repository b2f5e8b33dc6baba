package keeper

import (
	"context"
	"math/big"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"factorchain/core"
	"factorchain/crypto"
	"factorchain/rpc"
	"factorchain/rpc/api"
	"factorchain/rpc/client"
	"factorchain/storage"
)

const (
	startUnix = int64(1_700_000_000)
	day       = int64(24 * 60 * 60)
)

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), unit)
}

type harness struct {
	node     *core.Node
	url      string
	clock    atomic.Int64
	oracle   *crypto.PrivateKey
	lender   *client.Client
	borrower *client.Client
}

func newKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{oracle: newKey(t)}
	h.clock.Store(startUnix)
	authority, lender, borrower := newKey(t), newKey(t), newKey(t)

	node, err := core.NewNode(storage.NewMemDB(), core.Options{
		Authority: authority.Address(),
		Now:       func() int64 { return h.clock.Load() },
	})
	require.NoError(t, err)
	t.Cleanup(node.Close)
	srv := httptest.NewServer(rpc.NewServer(node, rpc.Config{}).Handler())
	t.Cleanup(srv.Close)
	h.node, h.url = node, srv.URL

	ctx := context.Background()
	admin := client.New(srv.URL, client.WithSigner(authority))
	require.NoError(t, admin.Wire(ctx, h.oracle.Address()))
	require.NoError(t, admin.Deposit(ctx, lender.Address(), units(100)))
	h.lender = client.New(srv.URL, client.WithSigner(lender))
	h.borrower = client.New(srv.URL, client.WithSigner(borrower))
	return h
}

func (h *harness) fundInvoice(t *testing.T, dueIn int64) uint64 {
	t.Helper()
	ctx := context.Background()
	id, err := h.borrower.Mint(ctx, api.MintArgs{
		MetadataURI:     "ipfs://invoice",
		Amount:          units(5).String(),
		Debtor:          api.FormatAddress(crypto.ModuleAddress("debtor")),
		DueDate:         h.clock.Load() + dueIn,
		InterestRateBps: 1500,
	})
	require.NoError(t, err)
	escrow, err := h.borrower.EscrowAddress(ctx)
	require.NoError(t, err)
	require.NoError(t, h.borrower.Approve(ctx, id, escrow))
	_, err = h.lender.Fund(ctx, id, units(5))
	require.NoError(t, err)
	return id
}

func (h *harness) advance(seconds int64) {
	h.clock.Add(seconds)
}

func (h *harness) now() time.Time {
	return time.Unix(h.clock.Load(), 0)
}

func openJournal(t *testing.T, path string) *Journal {
	t.Helper()
	journal, err := OpenJournal(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

// countingRPC records how many mark-default calls reach the node.
type countingRPC struct {
	RPC
	marks atomic.Int32
}

func (c *countingRPC) MarkDefault(ctx context.Context, id uint64) (*api.LoanResult, error) {
	c.marks.Add(1)
	return c.RPC.MarkDefault(ctx, id)
}

func TestCheckOracleMismatchSubmitsNothing(t *testing.T) {
	h := newHarness(t)
	id := h.fundInvoice(t, 5*day)
	h.advance(6 * day)

	impostor := newKey(t)
	rpcClient := &countingRPC{RPC: client.New(h.url, client.WithSigner(impostor))}
	k := New(rpcClient, impostor.Address(), openJournal(t, filepath.Join(t.TempDir(), "keeper.db")), WithClock(h.now))

	_, err := k.RunOnce(context.Background(), id)
	require.ErrorIs(t, err, ErrOracleMismatch)
	require.True(t, IsFatal(err))
	require.Zero(t, rpcClient.marks.Load())

	err = k.Run(context.Background(), time.Second)
	require.ErrorIs(t, err, ErrOracleMismatch)
	require.Zero(t, rpcClient.marks.Load())
}

func TestScanMarksOnlyDueLoans(t *testing.T) {
	h := newHarness(t)
	early := h.fundInvoice(t, 5*day)
	late := h.fundInvoice(t, 30*day)
	h.advance(5 * day)

	journal := openJournal(t, filepath.Join(t.TempDir(), "keeper.db"))
	k := New(client.New(h.url, client.WithSigner(h.oracle)), h.oracle.Address(), journal, WithClock(h.now), WithPageSize(1))

	entries, err := k.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, early, entries[0].InvoiceID)
	require.Equal(t, OutcomeSubmitted, entries[0].Outcome)

	loan, err := h.node.Loan(early)
	require.NoError(t, err)
	require.Equal(t, "defaulted", loan.Status.String())
	loan, err = h.node.Loan(late)
	require.NoError(t, err)
	require.Equal(t, "funded", loan.Status.String())

	score, err := h.node.Reputation(h.borrowerAddress(t))
	require.NoError(t, err)
	require.Equal(t, int64(-30), score.Score)

	entries, err = k.Scan(context.Background())
	require.NoError(t, err)
	require.Empty(t, entries)

	recorded, err := journal.Entries()
	require.NoError(t, err)
	require.Len(t, recorded, 1)
}

func (h *harness) borrowerAddress(t *testing.T) crypto.Address {
	t.Helper()
	addr, ok := h.borrower.Signer()
	require.True(t, ok)
	return addr
}

func TestRunOnceHonoursJournalAcrossRestarts(t *testing.T) {
	h := newHarness(t)
	id := h.fundInvoice(t, day)
	h.advance(2 * day)
	path := filepath.Join(t.TempDir(), "keeper.db")

	journal, err := OpenJournal(path)
	require.NoError(t, err)
	first := New(client.New(h.url, client.WithSigner(h.oracle)), h.oracle.Address(), journal, WithClock(h.now))
	entry, err := first.RunOnce(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, OutcomeSubmitted, entry.Outcome)
	require.NoError(t, journal.Close())

	rpcClient := &countingRPC{RPC: client.New(h.url, client.WithSigner(h.oracle))}
	second := New(rpcClient, h.oracle.Address(), openJournal(t, path), WithClock(h.now))
	entry, err = second.RunOnce(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, OutcomeSubmitted, entry.Outcome)
	require.Zero(t, rpcClient.marks.Load())
}

func TestRunOnceNotDue(t *testing.T) {
	h := newHarness(t)
	id := h.fundInvoice(t, 5*day)
	journal := openJournal(t, filepath.Join(t.TempDir(), "keeper.db"))
	k := New(client.New(h.url, client.WithSigner(h.oracle)), h.oracle.Address(), journal, WithClock(h.now))

	entry, err := k.RunOnce(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, OutcomeNotDue, entry.Outcome)
	_, ok, err := journal.Lookup(id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStateConflictIsSkipped(t *testing.T) {
	h := newHarness(t)
	id := h.fundInvoice(t, 5*day)
	journal := openJournal(t, filepath.Join(t.TempDir(), "keeper.db"))

	// The keeper's clock runs ahead of the node, so the node rejects the
	// call as too early.
	ahead := func() time.Time { return h.now().Add(10 * 24 * time.Hour) }
	k := New(client.New(h.url, client.WithSigner(h.oracle)), h.oracle.Address(), journal, WithClock(ahead))

	entry, err := k.RunOnce(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, entry.Outcome)
	require.False(t, entry.Final())

	h.advance(5 * day)
	entry, err = k.RunOnce(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, OutcomeSubmitted, entry.Outcome)
}

type fakeRPC struct {
	oracle crypto.Address
	loans  []api.LoanResult
	err    error
}

func (f *fakeRPC) Oracle(context.Context) (crypto.Address, bool, error) {
	return f.oracle, true, nil
}

func (f *fakeRPC) Loan(_ context.Context, id uint64) (*api.LoanResult, error) {
	for i := range f.loans {
		if f.loans[i].InvoiceID == id {
			return &f.loans[i], nil
		}
	}
	return nil, &api.Error{Code: api.CodeNotFound, Message: "not found"}
}

func (f *fakeRPC) Loans(context.Context, api.LoanFilter) ([]api.LoanResult, error) {
	return f.loans, nil
}

func (f *fakeRPC) MarkDefault(context.Context, uint64) (*api.LoanResult, error) {
	return nil, f.err
}

func TestFatalRPCErrorStopsScan(t *testing.T) {
	self := crypto.ModuleAddress("keeper")
	fake := &fakeRPC{
		oracle: self,
		loans: []api.LoanResult{
			{InvoiceID: 1, Status: "funded", DueDate: startUnix - 1},
			{InvoiceID: 2, Status: "funded", DueDate: startUnix - 1},
		},
		err: &api.Error{Code: api.CodeAuthorization, Message: "not authorized"},
	}
	k := New(fake, self, openJournal(t, filepath.Join(t.TempDir(), "keeper.db")), WithClock(func() time.Time { return time.Unix(startUnix, 0) }))

	_, err := k.Scan(context.Background())
	require.Error(t, err)
	require.True(t, IsFatal(err))

	err = k.Run(context.Background(), time.Second)
	require.True(t, IsFatal(err))
}

func TestTransientErrorContinuesScan(t *testing.T) {
	self := crypto.ModuleAddress("keeper")
	fake := &fakeRPC{
		oracle: self,
		loans:  []api.LoanResult{{InvoiceID: 1, Status: "funded", DueDate: startUnix - 1}},
		err:    &api.Error{Code: api.CodeServerError, Message: "internal error"},
	}
	k := New(fake, self, openJournal(t, filepath.Join(t.TempDir(), "keeper.db")), WithClock(func() time.Time { return time.Unix(startUnix, 0) }))

	entries, err := k.Scan(context.Background())
	require.NoError(t, err)
	require.Empty(t, entries)
}
