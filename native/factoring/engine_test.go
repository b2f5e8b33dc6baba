package factoring

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	coreerrors "factorchain/core/errors"
	"factorchain/core/events"
	"factorchain/core/state"
	"factorchain/crypto"
	"factorchain/native/bank"
	nativecommon "factorchain/native/common"
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

type harness struct {
	t         *testing.T
	now       int64
	engine    *Engine
	registry  *invoice.Registry
	ledger    *reputation.Ledger
	bank      *bank.Ledger
	events    *events.Buffer
	authority crypto.Address
	oracle    crypto.Address
	borrower  crypto.Address
	lender    crypto.Address
	debtor    crypto.Address
	stranger  crypto.Address
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		now:       testNow,
		events:    &events.Buffer{},
		authority: crypto.ModuleAddress("authority"),
		oracle:    crypto.ModuleAddress("oracle"),
		borrower:  crypto.ModuleAddress("borrower"),
		lender:    crypto.ModuleAddress("lender"),
		debtor:    crypto.ModuleAddress("debtor"),
		stranger:  crypto.ModuleAddress("stranger"),
	}
	clock := func() int64 { return h.now }
	st := state.NewManager(storage.NewMemDB())

	h.registry = invoice.NewRegistry(st)
	h.registry.SetAuthority(h.authority)
	h.registry.SetNowFunc(clock)
	h.registry.SetEmitter(h.events)

	h.ledger = reputation.NewLedger(st)
	h.ledger.SetAuthority(h.authority)
	h.ledger.SetEmitter(h.events)

	h.bank = bank.NewLedger(st)
	h.bank.SetAuthority(h.authority)

	h.engine = NewEngine()
	h.engine.SetState(st)
	h.engine.SetRegistry(h.registry)
	h.engine.SetReputation(h.ledger)
	h.engine.SetBank(h.bank)
	h.engine.SetAuthority(h.authority)
	h.engine.SetNowFunc(clock)
	h.engine.SetEmitter(h.events)

	require.NoError(t, h.registry.SetLoanEngine(h.authority, h.engine.Address()))
	require.NoError(t, h.ledger.SetLoanEngine(h.authority, h.engine.Address()))
	require.NoError(t, h.engine.SetOracle(h.authority, h.oracle))

	require.NoError(t, h.bank.Deposit(h.authority, h.lender, units(100)))
	require.NoError(t, h.bank.Deposit(h.authority, h.borrower, units(10)))
	return h
}

func (h *harness) mint(amount *big.Int, rate uint32) uint64 {
	h.t.Helper()
	id, err := h.registry.Mint(h.borrower, invoice.MintParams{
		MetadataURI:     "ipfs://invoice",
		Amount:          amount,
		Debtor:          h.debtor,
		DueDate:         h.now + 5*day,
		InterestRateBps: rate,
	})
	require.NoError(h.t, err)
	return id
}

func (h *harness) mintApproved(amount *big.Int, rate uint32) uint64 {
	h.t.Helper()
	id := h.mint(amount, rate)
	require.NoError(h.t, h.registry.Approve(h.borrower, id, h.engine.Address()))
	return id
}

func (h *harness) fund(id uint64) *Loan {
	h.t.Helper()
	inv, err := h.registry.Get(id)
	require.NoError(h.t, err)
	loan, err := h.engine.FundInvoice(h.lender, id, inv.Amount)
	require.NoError(h.t, err)
	return loan
}

func (h *harness) balance(addr crypto.Address) *big.Int {
	h.t.Helper()
	bal, err := h.bank.BalanceOf(addr)
	require.NoError(h.t, err)
	return bal
}

func (h *harness) owner(id uint64) crypto.Address {
	h.t.Helper()
	inv, err := h.registry.Get(id)
	require.NoError(h.t, err)
	return inv.Owner
}

func TestFundInvoiceRecordsLoan(t *testing.T) {
	h := newHarness(t)
	id := h.mintApproved(units(5), 1500)

	_, err := h.engine.FundInvoice(h.lender, id, units(4))
	require.ErrorIs(t, err, coreerrors.ErrWrongAmount)
	require.ErrorIs(t, err, coreerrors.KindAmountMismatch)

	h.fund(id)
	loan, err := h.engine.Loan(id)
	require.NoError(t, err)
	require.Equal(t, 0, loan.Amount.Cmp(units(5)))
	require.Equal(t, h.lender, loan.Lender)
	require.Equal(t, h.borrower, loan.Borrower)
	require.Equal(t, StatusFunded, loan.Status)
	require.Equal(t, testNow, loan.FundedAt)
	require.Equal(t, uint32(1500), loan.InterestRateBps)
	require.Equal(t, testNow+5*day, loan.DueDate)

	require.Equal(t, h.engine.Address(), h.owner(id))
	_, approved, err := h.registry.Approved(id)
	require.NoError(t, err)
	require.False(t, approved)
}

func TestFundTwiceFails(t *testing.T) {
	h := newHarness(t)
	id := h.mintApproved(units(5), 0)
	h.fund(id)

	_, err := h.engine.FundInvoice(h.stranger, id, units(5))
	require.ErrorIs(t, err, coreerrors.ErrAlreadyFunded)
	require.ErrorIs(t, err, coreerrors.KindState)
}

func TestFundCheckOrder(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.FundInvoice(h.lender, 42, units(5))
	require.ErrorIs(t, err, coreerrors.ErrNotFound)

	paid := h.mintApproved(units(5), 0)
	require.NoError(t, h.registry.MarkPaid(h.borrower, paid))
	_, err = h.engine.FundInvoice(h.lender, paid, big.NewInt(1))
	require.ErrorIs(t, err, coreerrors.ErrAlreadyPaid)

	id := h.mint(units(5), 0)
	_, err = h.engine.FundInvoice(h.borrower, id, big.NewInt(1))
	require.ErrorIs(t, err, coreerrors.ErrSelfFunding)

	_, err = h.engine.FundInvoice(h.lender, id, nil)
	require.ErrorIs(t, err, coreerrors.ErrWrongAmount)

	_, err = h.engine.FundInvoice(h.lender, id, units(5))
	require.ErrorIs(t, err, coreerrors.ErrEscrowTransferFailed)

	require.NoError(t, h.registry.Approve(h.borrower, id, h.stranger))
	_, err = h.engine.FundInvoice(h.lender, id, units(5))
	require.ErrorIs(t, err, coreerrors.ErrEscrowTransferFailed)
	require.Equal(t, 0, h.balance(h.lender).Cmp(units(100)))
}

func TestFundInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	id := h.mintApproved(units(5), 0)
	_, err := h.engine.FundInvoice(h.stranger, id, units(5))
	require.ErrorIs(t, err, coreerrors.ErrInsufficientBalance)
	require.ErrorIs(t, err, coreerrors.KindState)
}

func TestSelfFundingPolicy(t *testing.T) {
	t.Run("prohibited", func(t *testing.T) {
		h := newHarness(t)
		id := h.mintApproved(units(5), 0)
		_, err := h.engine.FundInvoice(h.borrower, id, units(5))
		require.ErrorIs(t, err, coreerrors.ErrSelfFunding)
		require.ErrorIs(t, err, coreerrors.KindAuthorization)
	})
	t.Run("allowed", func(t *testing.T) {
		h := newHarness(t)
		h.engine.SetAllowSelfFunding(true)
		id := h.mintApproved(units(5), 0)
		loan, err := h.engine.FundInvoice(h.borrower, id, units(5))
		require.NoError(t, err)
		require.Equal(t, h.borrower, loan.Lender)
		require.Equal(t, h.borrower, loan.Borrower)
		require.Equal(t, 0, h.balance(h.borrower).Cmp(units(10)))
	})
}

func TestRepayOnlyByBorrower(t *testing.T) {
	h := newHarness(t)
	id := h.mintApproved(units(5), 1000)
	h.fund(id)
	due, err := h.engine.RepaymentDue(id)
	require.NoError(t, err)

	for _, caller := range []crypto.Address{h.lender, h.stranger, h.oracle, h.authority, h.engine.Address()} {
		_, err := h.engine.Repay(caller, id, due)
		require.ErrorIs(t, err, coreerrors.ErrNotAuthorized)
		require.ErrorIs(t, err, coreerrors.KindAuthorization)
	}
}

func TestRepaySettlesLoan(t *testing.T) {
	h := newHarness(t)
	id := h.mintApproved(units(5), 1500)
	h.fund(id)

	due, err := h.engine.RepaymentDue(id)
	require.NoError(t, err)
	require.Equal(t, "5750000000000000000", due.String())

	_, err = h.engine.Repay(h.borrower, id, units(5))
	require.ErrorIs(t, err, coreerrors.ErrWrongAmount)
	_, err = h.engine.Repay(h.borrower, id, new(big.Int).Add(due, big.NewInt(1)))
	require.ErrorIs(t, err, coreerrors.ErrWrongAmount)

	h.now += day
	loan, err := h.engine.Repay(h.borrower, id, due)
	require.NoError(t, err)
	require.Equal(t, StatusRepaid, loan.Status)
	require.Equal(t, testNow+day, loan.ResolvedAt)

	inv, err := h.registry.Get(id)
	require.NoError(t, err)
	require.True(t, inv.Paid)
	require.Equal(t, h.lender, inv.Owner)

	score, err := h.ledger.ScoreOf(h.borrower)
	require.NoError(t, err)
	require.Equal(t, int64(15), score)

	_, err = h.engine.Repay(h.borrower, id, due)
	require.ErrorIs(t, err, coreerrors.ErrAlreadyResolved)
}

func TestIssuerCannotFlagEscrowedInvoicePaid(t *testing.T) {
	h := newHarness(t)
	id := h.mint(units(5), 1500)
	require.NoError(t, h.registry.TransferOwnership(h.borrower, id, h.stranger))
	require.NoError(t, h.registry.Approve(h.stranger, id, h.engine.Address()))
	loan := h.fund(id)
	require.Equal(t, h.stranger, loan.Borrower)

	err := h.registry.MarkPaid(h.borrower, id)
	require.ErrorIs(t, err, coreerrors.ErrInvoiceEscrowed)

	due, err := h.engine.RepaymentDue(id)
	require.NoError(t, err)
	require.NoError(t, h.bank.Deposit(h.authority, h.stranger, units(1)))
	loan, err = h.engine.Repay(h.stranger, id, due)
	require.NoError(t, err)
	require.Equal(t, StatusRepaid, loan.Status)

	inv, err := h.registry.Get(id)
	require.NoError(t, err)
	require.True(t, inv.Paid)
	require.Equal(t, h.lender, inv.Owner)
}

func TestRepayRoundsInterestDown(t *testing.T) {
	h := newHarness(t)
	id := h.mintApproved(big.NewInt(333), 1)
	h.fund(id)
	due, err := h.engine.RepaymentDue(id)
	require.NoError(t, err)
	require.Equal(t, int64(333), due.Int64())
	_, err = h.engine.Repay(h.borrower, id, big.NewInt(333))
	require.NoError(t, err)
}

func TestMoneyConservation(t *testing.T) {
	h := newHarness(t)
	id := h.mintApproved(units(5), 1500)
	escrow := h.engine.Address()

	lenderBefore := h.balance(h.lender)
	borrowerBefore := h.balance(h.borrower)
	supplyBefore, err := h.bank.Supply()
	require.NoError(t, err)

	h.fund(id)
	require.Equal(t, 0, h.balance(escrow).Sign())
	require.Equal(t, 0, new(big.Int).Sub(lenderBefore, h.balance(h.lender)).Cmp(units(5)))
	require.Equal(t, 0, new(big.Int).Sub(h.balance(h.borrower), borrowerBefore).Cmp(units(5)))

	due, err := h.engine.RepaymentDue(id)
	require.NoError(t, err)
	lenderMid := h.balance(h.lender)
	borrowerMid := h.balance(h.borrower)
	_, err = h.engine.Repay(h.borrower, id, due)
	require.NoError(t, err)

	require.Equal(t, 0, h.balance(escrow).Sign())
	require.Equal(t, 0, new(big.Int).Sub(h.balance(h.lender), lenderMid).Cmp(due))
	require.Equal(t, 0, new(big.Int).Sub(borrowerMid, h.balance(h.borrower)).Cmp(due))

	supplyAfter, err := h.bank.Supply()
	require.NoError(t, err)
	require.Equal(t, 0, supplyBefore.Cmp(supplyAfter))
}

func TestMarkDefaultRequiresOracle(t *testing.T) {
	h := newHarness(t)
	funded := h.mintApproved(units(5), 0)
	h.fund(funded)
	unfunded := h.mint(units(5), 0)
	h.now += 10 * day

	for _, id := range []uint64{funded, unfunded, 999} {
		for _, caller := range []crypto.Address{h.lender, h.borrower, h.authority, h.stranger} {
			_, err := h.engine.MarkDefault(caller, id)
			require.ErrorIs(t, err, coreerrors.ErrNotAuthorized)
		}
	}
}

func TestMarkDefaultUnfunded(t *testing.T) {
	h := newHarness(t)
	id := h.mint(units(5), 0)
	_, err := h.engine.MarkDefault(h.oracle, id)
	require.ErrorIs(t, err, coreerrors.ErrNotFound)
	require.ErrorIs(t, err, coreerrors.KindNotFound)
}

func TestMarkDefaultTransfersAssetToLender(t *testing.T) {
	h := newHarness(t)
	id := h.mintApproved(units(5), 1500)
	h.fund(id)

	h.now = testNow + 5*day - 1
	_, err := h.engine.MarkDefault(h.oracle, id)
	require.ErrorIs(t, err, coreerrors.ErrTooEarly)

	h.now = testNow + 5*day
	loan, err := h.engine.MarkDefault(h.oracle, id)
	require.NoError(t, err)
	require.Equal(t, StatusDefaulted, loan.Status)

	inv, err := h.registry.Get(id)
	require.NoError(t, err)
	require.False(t, inv.Paid)
	require.Equal(t, h.lender, inv.Owner)

	score, err := h.ledger.ScoreOf(h.borrower)
	require.NoError(t, err)
	require.Equal(t, int64(-30), score)

	_, err = h.engine.MarkDefault(h.oracle, id)
	require.ErrorIs(t, err, coreerrors.ErrAlreadyResolved)
	_, err = h.engine.Repay(h.borrower, id, loan.RepaymentDue())
	require.ErrorIs(t, err, coreerrors.ErrAlreadyResolved)
}

func TestSetOracleOnce(t *testing.T) {
	h := newHarness(t)
	err := h.engine.SetOracle(h.authority, h.stranger)
	require.ErrorIs(t, err, coreerrors.ErrAlreadySet)
	require.ErrorIs(t, err, coreerrors.KindConfiguration)

	fresh := NewEngine()
	fresh.SetState(state.NewManager(storage.NewMemDB()))
	fresh.SetAuthority(h.authority)
	require.ErrorIs(t, fresh.SetOracle(h.stranger, h.oracle), coreerrors.ErrNotAuthorized)
	require.ErrorIs(t, fresh.SetOracle(h.authority, crypto.ZeroAddress), coreerrors.ErrInvalidAddress)
	require.NoError(t, fresh.SetOracle(h.authority, h.oracle))
	oracle, ok, err := fresh.Oracle()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, h.oracle, oracle)
}

func TestUnsetOracleRejectsDefault(t *testing.T) {
	h := newHarness(t)
	fresh := NewEngine()
	fresh.SetState(state.NewManager(storage.NewMemDB()))
	fresh.SetRegistry(h.registry)
	fresh.SetReputation(h.ledger)
	fresh.SetBank(h.bank)
	_, err := fresh.MarkDefault(crypto.ZeroAddress, 0)
	require.ErrorIs(t, err, coreerrors.ErrNotAuthorized)
}

func TestLoansListingAndDueScan(t *testing.T) {
	h := newHarness(t)
	first := h.mintApproved(units(1), 0)
	second := h.mintApproved(units(2), 0)
	third := h.mintApproved(units(3), 0)
	h.fund(third)
	h.fund(first)
	h.fund(second)
	h.now += day
	_, err := h.engine.Repay(h.borrower, second, units(2))
	require.NoError(t, err)

	all, err := h.engine.Loans(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []uint64{first, second, third}, []uint64{all[0].InvoiceID, all[1].InvoiceID, all[2].InvoiceID})

	funded, err := h.engine.Loans(Filter{Status: StatusFunded})
	require.NoError(t, err)
	require.Len(t, funded, 2)

	page, err := h.engine.Loans(Filter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, second, page[0].InvoiceID)

	none, err := h.engine.Loans(Filter{Lender: h.stranger})
	require.NoError(t, err)
	require.Empty(t, none)

	due, err := h.engine.DueForDefault(h.now)
	require.NoError(t, err)
	require.Empty(t, due)
	due, err = h.engine.DueForDefault(testNow + 5*day)
	require.NoError(t, err)
	require.Len(t, due, 2)
}

func TestPausedEngineRejectsMutations(t *testing.T) {
	h := newHarness(t)
	id := h.mintApproved(units(5), 0)
	h.engine.SetPauses(nativecommon.NewStaticPauses("factoring"))
	_, err := h.engine.FundInvoice(h.lender, id, units(5))
	require.True(t, errors.Is(err, nativecommon.ErrModulePaused))
	_, err = h.engine.Loans(Filter{})
	require.NoError(t, err)
}

func TestEventsEmittedInOrder(t *testing.T) {
	h := newHarness(t)
	id := h.mintApproved(units(5), 0)
	h.events.Reset()
	h.fund(id)

	var kinds []string
	for _, evt := range h.events.Events() {
		kinds = append(kinds, evt.EventType())
	}
	require.Equal(t, []string{invoice.EventTypeTransfer, EventTypeLoanFunded}, kinds)
}

func TestParseStatus(t *testing.T) {
	for _, status := range []Status{StatusFunded, StatusRepaid, StatusDefaulted} {
		parsed, err := ParseStatus(status.String())
		require.NoError(t, err)
		require.Equal(t, status, parsed)
	}
	_, err := ParseStatus("pending")
	require.Error(t, err)
	require.True(t, StatusRepaid.Terminal())
	require.False(t, StatusFunded.Terminal())
}
