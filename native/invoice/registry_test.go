package invoice

import (
	"errors"
	"math/big"
	"testing"

	coreerrors "factorchain/core/errors"
	"factorchain/core/events"
	"factorchain/core/state"
	"factorchain/crypto"
	nativecommon "factorchain/native/common"
	kvstore "factorchain/storage"
)

const (
	testNow = int64(1_700_000_000)
	day     = int64(24 * 60 * 60)
)

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), unit)
}

type fixture struct {
	registry  *Registry
	events    *events.Buffer
	authority crypto.Address
	issuer    crypto.Address
	debtor    crypto.Address
	engine    crypto.Address
	stranger  crypto.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		events:    &events.Buffer{},
		authority: crypto.ModuleAddress("authority"),
		issuer:    crypto.ModuleAddress("issuer"),
		debtor:    crypto.ModuleAddress("debtor"),
		engine:    crypto.ModuleAddress("factoring"),
		stranger:  crypto.ModuleAddress("stranger"),
	}
	f.registry = NewRegistry(state.NewManager(kvstore.NewMemDB()))
	f.registry.SetAuthority(f.authority)
	f.registry.SetNowFunc(func() int64 { return testNow })
	f.registry.SetEmitter(f.events)
	return f
}

func (f *fixture) mint(t *testing.T) uint64 {
	t.Helper()
	id, err := f.registry.Mint(f.issuer, MintParams{
		MetadataURI:     "ipfs://invoice",
		Amount:          units(5),
		Debtor:          f.debtor,
		DueDate:         testNow + 5*day,
		InterestRateBps: 1500,
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return id
}

func TestMintStoresTerms(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t)
	if id != 0 {
		t.Fatalf("expected first id 0, got %d", id)
	}
	inv, err := f.registry.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if inv.Amount.Cmp(units(5)) != 0 {
		t.Fatalf("unexpected amount %s", inv.Amount)
	}
	if inv.Debtor != f.debtor {
		t.Fatalf("unexpected debtor %s", inv.Debtor.Hex())
	}
	if inv.InterestRateBps != 1500 {
		t.Fatalf("unexpected rate %d", inv.InterestRateBps)
	}
	if inv.Paid {
		t.Fatalf("fresh invoice must not be paid")
	}
	if inv.Owner != f.issuer || inv.Issuer != f.issuer {
		t.Fatalf("issuer must own the fresh invoice")
	}

	emitted := f.events.Events()
	if len(emitted) != 2 {
		t.Fatalf("expected mint and transfer events, got %d", len(emitted))
	}
	if emitted[1].EventType() != EventTypeTransfer {
		t.Fatalf("expected ownership-creation transfer event, got %s", emitted[1].EventType())
	}
}

func TestMintIDsAreSequential(t *testing.T) {
	f := newFixture(t)
	for want := uint64(0); want < 5; want++ {
		if got := f.mint(t); got != want {
			t.Fatalf("expected id %d, got %d", want, got)
		}
	}
	next, err := f.registry.NextID()
	if err != nil || next != 5 {
		t.Fatalf("expected next id 5, got %d (%v)", next, err)
	}
}

func TestMintValidation(t *testing.T) {
	f := newFixture(t)
	tooLarge := new(big.Int).Lsh(big.NewInt(1), 256)
	cases := []struct {
		name   string
		params MintParams
		want   error
	}{
		{"zero amount", MintParams{Amount: big.NewInt(0), DueDate: testNow + day}, coreerrors.ErrInvalidAmount},
		{"negative amount", MintParams{Amount: big.NewInt(-1), DueDate: testNow + day}, coreerrors.ErrInvalidAmount},
		{"nil amount", MintParams{DueDate: testNow + day}, coreerrors.ErrInvalidAmount},
		{"overflow amount", MintParams{Amount: tooLarge, DueDate: testNow + day}, coreerrors.ErrInvalidAmount},
		{"due now", MintParams{Amount: big.NewInt(1), DueDate: testNow}, coreerrors.ErrInvalidDueDate},
		{"due past", MintParams{Amount: big.NewInt(1), DueDate: testNow - 1}, coreerrors.ErrInvalidDueDate},
		{"rate too high", MintParams{Amount: big.NewInt(1), DueDate: testNow + day, InterestRateBps: 10_001}, coreerrors.ErrInvalidRate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.registry.Mint(f.issuer, tc.params)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, coreerrors.KindValidation) {
				t.Fatalf("expected validation kind, got %v", err)
			}
		})
	}
	if _, err := f.registry.Mint(f.issuer, MintParams{Amount: big.NewInt(1), DueDate: testNow + day, InterestRateBps: 10_000}); err != nil {
		t.Fatalf("max rate should be accepted: %v", err)
	}
}

func TestMarkPaidAuthorization(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t)

	if err := f.registry.MarkPaid(f.stranger, id); !errors.Is(err, coreerrors.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := f.registry.SetLoanEngine(f.authority, f.engine); err != nil {
		t.Fatalf("set loan engine: %v", err)
	}
	if err := f.registry.MarkPaid(f.engine, id); err != nil {
		t.Fatalf("engine mark paid: %v", err)
	}
	inv, _ := f.registry.Get(id)
	if !inv.Paid {
		t.Fatalf("expected invoice to be paid")
	}
	if err := f.registry.MarkPaid(f.issuer, id); !errors.Is(err, coreerrors.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
}

func TestMarkPaidByIssuer(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t)
	if err := f.registry.MarkPaid(f.issuer, id); err != nil {
		t.Fatalf("issuer mark paid: %v", err)
	}
	if err := f.registry.MarkPaid(f.issuer, 99); !errors.Is(err, coreerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkPaidRejectsIssuerWhileEscrowed(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t)
	if err := f.registry.SetLoanEngine(f.authority, f.engine); err != nil {
		t.Fatalf("set loan engine: %v", err)
	}
	if err := f.registry.Approve(f.issuer, id, f.engine); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.registry.TransferOwnership(f.engine, id, f.engine); err != nil {
		t.Fatalf("escrow transfer: %v", err)
	}

	err := f.registry.MarkPaid(f.issuer, id)
	if !errors.Is(err, coreerrors.ErrInvoiceEscrowed) || !errors.Is(err, coreerrors.KindState) {
		t.Fatalf("expected ErrInvoiceEscrowed, got %v", err)
	}
	inv, _ := f.registry.Get(id)
	if inv.Paid {
		t.Fatalf("escrowed invoice must stay unpaid")
	}
	if err := f.registry.MarkPaid(f.engine, id); err != nil {
		t.Fatalf("engine mark paid: %v", err)
	}
}

func TestSetLoanEngineOnce(t *testing.T) {
	f := newFixture(t)
	if err := f.registry.SetLoanEngine(f.stranger, f.engine); !errors.Is(err, coreerrors.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := f.registry.SetLoanEngine(f.authority, crypto.ZeroAddress); !errors.Is(err, coreerrors.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if err := f.registry.SetLoanEngine(f.authority, f.engine); err != nil {
		t.Fatalf("set loan engine: %v", err)
	}
	err := f.registry.SetLoanEngine(f.authority, f.stranger)
	if !errors.Is(err, coreerrors.ErrAlreadySet) || !errors.Is(err, coreerrors.KindConfiguration) {
		t.Fatalf("expected ErrAlreadySet, got %v", err)
	}
	engine, ok, err := f.registry.LoanEngine()
	if err != nil || !ok || engine != f.engine {
		t.Fatalf("loan engine must stay at first value, got %s ok=%v err=%v", engine.Hex(), ok, err)
	}
}

func TestApprovalIsSingleUse(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t)

	if err := f.registry.Approve(f.stranger, id, f.engine); !errors.Is(err, coreerrors.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for non-owner approve, got %v", err)
	}
	if err := f.registry.TransferOwnership(f.engine, id, f.engine); !errors.Is(err, coreerrors.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized without approval, got %v", err)
	}
	if err := f.registry.Approve(f.issuer, id, f.engine); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.registry.TransferOwnership(f.engine, id, f.engine); err != nil {
		t.Fatalf("approved transfer: %v", err)
	}
	if _, ok, _ := f.registry.Approved(id); ok {
		t.Fatalf("approval must be consumed by the transfer")
	}
	inv, _ := f.registry.Get(id)
	if inv.Owner != f.engine {
		t.Fatalf("expected engine ownership, got %s", inv.Owner.Hex())
	}
	if err := f.registry.TransferOwnership(f.issuer, id, f.issuer); !errors.Is(err, coreerrors.ErrNotAuthorized) {
		t.Fatalf("previous owner must lose transfer rights, got %v", err)
	}
}

func TestOwnerTransferClearsApproval(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t)
	if err := f.registry.Approve(f.issuer, id, f.engine); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.registry.TransferOwnership(f.issuer, id, f.stranger); err != nil {
		t.Fatalf("owner transfer: %v", err)
	}
	if _, ok, _ := f.registry.Approved(id); ok {
		t.Fatalf("approval must be cleared on transfer")
	}
	if err := f.registry.TransferOwnership(f.engine, id, f.engine); !errors.Is(err, coreerrors.ErrNotAuthorized) {
		t.Fatalf("stale approval must not authorize, got %v", err)
	}
	if err := f.registry.TransferOwnership(f.stranger, 42, f.issuer); !errors.Is(err, coreerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPausedRegistryRejectsMutations(t *testing.T) {
	f := newFixture(t)
	id := f.mint(t)
	f.registry.SetPauses(nativecommon.NewStaticPauses("invoice"))
	if _, err := f.registry.Mint(f.issuer, MintParams{Amount: big.NewInt(1), DueDate: testNow + day}); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := f.registry.Approve(f.issuer, id, f.engine); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := f.registry.Get(id); err != nil {
		t.Fatalf("reads must not be paused: %v", err)
	}
}
