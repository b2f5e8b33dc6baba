package indexer

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"factorchain/core"
	"factorchain/crypto"
	"factorchain/native/factoring"
	"factorchain/native/invoice"
	"factorchain/native/reputation"
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

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db
}

type fixture struct {
	node      *core.Node
	indexer   *Indexer
	authority crypto.Address
	lender    crypto.Address
	borrower  crypto.Address
	oracle    crypto.Address
	now       int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		authority: crypto.ModuleAddress("authority"),
		lender:    crypto.ModuleAddress("lender"),
		borrower:  crypto.ModuleAddress("borrower"),
		oracle:    crypto.ModuleAddress("oracle"),
		now:       testNow,
	}
	node, err := core.NewNode(storage.NewMemDB(), core.Options{
		Authority: f.authority,
		Now:       func() int64 { return f.now },
	})
	require.NoError(t, err)
	t.Cleanup(node.Close)
	require.NoError(t, node.Wire(f.authority, f.oracle))
	require.NoError(t, node.Deposit(f.authority, f.lender, units(100)))
	require.NoError(t, node.Deposit(f.authority, f.borrower, units(10)))
	f.node = node

	ix, err := New(setupTestDB(t), nil)
	require.NoError(t, err)
	f.indexer = ix
	return f
}

func (f *fixture) fundedInvoice(t *testing.T) uint64 {
	t.Helper()
	id, err := f.node.MintInvoice(f.borrower, invoice.MintParams{
		MetadataURI:     "ipfs://invoice",
		Amount:          units(5),
		Debtor:          crypto.ModuleAddress("debtor"),
		DueDate:         f.now + 5*day,
		InterestRateBps: 1500,
	})
	require.NoError(t, err)
	require.NoError(t, f.node.ApproveInvoice(f.borrower, id, f.node.EscrowAddress()))
	_, err = f.node.FundInvoice(f.lender, id, units(5))
	require.NoError(t, err)
	return id
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	_, cancel, backlog := f.node.Events().Subscribe(context.Background(), "0")
	defer cancel()
	for _, record := range backlog {
		require.NoError(t, f.indexer.Apply(record))
	}
}

func lower(addr crypto.Address) string {
	return formatAddress(addr.Hex())
}

func TestProjectsRepaidLoan(t *testing.T) {
	f := newFixture(t)
	id := f.fundedInvoice(t)
	due, err := f.node.RepaymentDue(id)
	require.NoError(t, err)
	_, err = f.node.Repay(f.borrower, id, due)
	require.NoError(t, err)
	f.drain(t)

	inv, err := f.indexer.Invoice(id)
	require.NoError(t, err)
	require.True(t, inv.Paid)
	require.Equal(t, lower(f.lender), inv.Owner)
	require.Equal(t, lower(f.borrower), inv.Issuer)
	require.Empty(t, inv.Spender)
	require.Equal(t, uint32(1500), inv.InterestRateBps)

	loans, err := f.indexer.Loans(factoring.StatusRepaid.String())
	require.NoError(t, err)
	require.Len(t, loans, 1)
	require.Equal(t, "5750000000000000000", loans[0].Repaid)
	require.NotZero(t, loans[0].ResolvedAt)

	score, err := f.indexer.Score(lower(f.borrower))
	require.NoError(t, err)
	require.Equal(t, int64(15), score.Score)
	require.Equal(t, uint64(1), score.Credits)

	history, err := f.indexer.InvoiceHistory(id)
	require.NoError(t, err)
	types := make([]string, 0, len(history))
	for _, row := range history {
		types = append(types, row.Type)
	}
	require.Equal(t, []string{
		invoice.EventTypeMinted,
		invoice.EventTypeTransfer,
		invoice.EventTypeApproval,
		invoice.EventTypeTransfer,
		factoring.EventTypeLoanFunded,
		invoice.EventTypePaid,
		invoice.EventTypeTransfer,
		factoring.EventTypeLoanRepaid,
	}, types)
}

func TestProjectsDefault(t *testing.T) {
	f := newFixture(t)
	id := f.fundedInvoice(t)
	f.now += 6 * day
	_, err := f.node.MarkDefault(f.oracle, id)
	require.NoError(t, err)
	f.drain(t)

	loans, err := f.indexer.Loans(factoring.StatusDefaulted.String())
	require.NoError(t, err)
	require.Len(t, loans, 1)
	require.Equal(t, lower(f.lender), loans[0].Lender)

	inv, err := f.indexer.Invoice(id)
	require.NoError(t, err)
	require.False(t, inv.Paid)
	require.Equal(t, lower(f.lender), inv.Owner)

	score, err := f.indexer.Score(lower(f.borrower))
	require.NoError(t, err)
	require.Equal(t, int64(-30), score.Score)
	require.Equal(t, uint64(1), score.Penalties)

	penalties, err := f.indexer.Events(reputation.EventTypePenalized, 0)
	require.NoError(t, err)
	require.Len(t, penalties, 1)
}

func TestApplyIgnoresReplayedSequence(t *testing.T) {
	f := newFixture(t)
	f.fundedInvoice(t)
	f.drain(t)
	before, err := f.indexer.Events("", 0)
	require.NoError(t, err)
	f.drain(t)
	after, err := f.indexer.Events("", 0)
	require.NoError(t, err)
	require.Equal(t, len(before), len(after))
}

func TestRunFollowsStream(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.indexer.Run(ctx, f.node.Events()) }()

	id := f.fundedInvoice(t)
	require.Eventually(t, func() bool {
		loans, err := f.indexer.Loans(factoring.StatusFunded.String())
		return err == nil && len(loans) == 1 && loans[0].InvoiceID == id
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSnapshotSeedsReadModel(t *testing.T) {
	f := newFixture(t)
	id := f.fundedInvoice(t)

	invoices, err := f.node.Invoices(0, 0)
	require.NoError(t, err)
	loans, err := f.node.Loans(factoring.Filter{})
	require.NoError(t, err)
	require.NoError(t, f.indexer.Snapshot(invoices, loans))

	inv, err := f.indexer.Invoice(id)
	require.NoError(t, err)
	require.Equal(t, lower(f.node.EscrowAddress()), inv.Owner)

	rows, err := f.indexer.Loans("")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, factoring.StatusFunded.String(), rows[0].Status)

	_, err = f.indexer.Invoice(42)
	require.ErrorIs(t, err, ErrNotIndexed)
}

func TestOpenSelectsDriver(t *testing.T) {
	require.True(t, isPostgres("postgres://user:pw@localhost/db"))
	require.True(t, isPostgres("host=localhost user=factoring dbname=read"))
	require.False(t, isPostgres("file:indexer.db"))
	_, err := Open("  ")
	require.Error(t, err)

	db, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	_, err = New(db, nil)
	require.NoError(t, err)
}
