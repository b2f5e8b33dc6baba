package api

import (
	"strconv"
	"strings"

	"factorchain/crypto"
	"factorchain/native/factoring"
	"factorchain/native/invoice"
)

// Read methods.
const (
	MethodInvoiceGet             = "invoice_get"
	MethodInvoiceList            = "invoice_list"
	MethodInvoiceApproved        = "invoice_approved"
	MethodInvoiceLoanEngine      = "invoice_loanEngine"
	MethodInvoiceNextID          = "invoice_nextId"
	MethodFactoringGetLoan       = "factoring_getLoan"
	MethodFactoringListLoans     = "factoring_listLoans"
	MethodFactoringRepaymentDue  = "factoring_repaymentDue"
	MethodFactoringOracle        = "factoring_oracle"
	MethodFactoringEscrowAddress = "factoring_escrowAddress"
	MethodReputationScoreOf      = "reputation_scoreOf"
	MethodBankBalance            = "bank_balance"
)

// Mutating methods. Each takes a single signed Envelope parameter.
const (
	MethodInvoiceMint             = "invoice_mint"
	MethodInvoiceApprove          = "invoice_approve"
	MethodInvoiceTransfer         = "invoice_transfer"
	MethodInvoiceMarkPaid         = "invoice_markPaid"
	MethodInvoiceSetLoanEngine    = "invoice_setLoanEngine"
	MethodFactoringFund           = "factoring_fund"
	MethodFactoringRepay          = "factoring_repay"
	MethodFactoringMarkDefault    = "factoring_markDefault"
	MethodFactoringSetOracle      = "factoring_setOracle"
	MethodReputationSetLoanEngine = "reputation_setLoanEngine"
	MethodBankDeposit             = "bank_deposit"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
	CodeUnauthorized   = -32001
	CodeReplay         = -32010
	CodeRateLimited    = -32020
	CodeValidation     = -32041
	CodeAuthorization  = -32042
	CodeState          = -32043
	CodeAmountMismatch = -32044
	CodeNotFound       = -32045
	CodeConfiguration  = -32046
)

// MintArgs are the arguments of invoice_mint.
type MintArgs struct {
	MetadataURI     string `json:"metadataURI"`
	Amount          string `json:"amount"`
	Debtor          string `json:"debtor"`
	DueDate         int64  `json:"dueDate"`
	InterestRateBps uint32 `json:"interestRateBps"`
}

// InvoiceArgs address a single invoice.
type InvoiceArgs struct {
	InvoiceID uint64 `json:"invoiceId"`
}

// ApproveArgs are the arguments of invoice_approve.
type ApproveArgs struct {
	InvoiceID uint64 `json:"invoiceId"`
	Spender   string `json:"spender"`
}

// TransferArgs are the arguments of invoice_transfer.
type TransferArgs struct {
	InvoiceID uint64 `json:"invoiceId"`
	To        string `json:"to"`
}

// EngineArgs register a loan engine address.
type EngineArgs struct {
	Engine string `json:"engine"`
}

// OracleArgs register the default oracle.
type OracleArgs struct {
	Oracle string `json:"oracle"`
}

// DepositArgs are the arguments of bank_deposit.
type DepositArgs struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// LoanFilter is the parameter of factoring_listLoans.
type LoanFilter struct {
	Status   string `json:"status,omitempty"`
	Lender   string `json:"lender,omitempty"`
	Borrower string `json:"borrower,omitempty"`
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// PageArgs is the parameter of invoice_list. The server clamps Limit to
// its page size when it is zero or larger.
type PageArgs struct {
	Offset uint64 `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// InvoiceResult is the JSON form of an invoice.
type InvoiceResult struct {
	ID              uint64 `json:"id"`
	MetadataURI     string `json:"metadataURI"`
	Amount          string `json:"amount"`
	Debtor          string `json:"debtor"`
	DueDate         int64  `json:"dueDate"`
	InterestRateBps uint32 `json:"interestRateBps"`
	Paid            bool   `json:"paid"`
	Owner           string `json:"owner"`
	Issuer          string `json:"issuer"`
	CreatedAt       int64  `json:"createdAt"`
}

// LoanResult is the JSON form of a loan.
type LoanResult struct {
	InvoiceID       uint64 `json:"invoiceId"`
	Amount          string `json:"amount"`
	Lender          string `json:"lender"`
	Borrower        string `json:"borrower"`
	Status          string `json:"status"`
	FundedAt        int64  `json:"fundedAt"`
	InterestRateBps uint32 `json:"interestRateBps"`
	DueDate         int64  `json:"dueDate"`
	ResolvedAt      int64  `json:"resolvedAt,omitempty"`
	RepaymentDue    string `json:"repaymentDue"`
}

// MintResult is returned by invoice_mint.
type MintResult struct {
	InvoiceID uint64 `json:"invoiceId"`
}

// AddressResult carries an optional address.
type AddressResult struct {
	Address string `json:"address,omitempty"`
	Set     bool   `json:"set"`
}

// ScoreResult is returned by reputation_scoreOf.
type ScoreResult struct {
	Address     string `json:"address"`
	Score       int64  `json:"score"`
	Credits     uint64 `json:"credits"`
	Penalties   uint64 `json:"penalties"`
	RepaidRatio uint64 `json:"repaidRatioBps"`
}

// BalanceResult is returned by bank_balance.
type BalanceResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// FormatAddress renders an address the way every result does.
func FormatAddress(addr crypto.Address) string {
	return strings.ToLower(addr.Hex())
}

// NewInvoiceResult converts an invoice.
func NewInvoiceResult(inv *invoice.Invoice) InvoiceResult {
	return InvoiceResult{
		ID:              inv.ID,
		MetadataURI:     inv.MetadataURI,
		Amount:          inv.Amount.String(),
		Debtor:          FormatAddress(inv.Debtor),
		DueDate:         inv.DueDate,
		InterestRateBps: inv.InterestRateBps,
		Paid:            inv.Paid,
		Owner:           FormatAddress(inv.Owner),
		Issuer:          FormatAddress(inv.Issuer),
		CreatedAt:       inv.CreatedAt,
	}
}

// NewLoanResult converts a loan.
func NewLoanResult(loan *factoring.Loan) LoanResult {
	return LoanResult{
		InvoiceID:       loan.InvoiceID,
		Amount:          loan.Amount.String(),
		Lender:          FormatAddress(loan.Lender),
		Borrower:        FormatAddress(loan.Borrower),
		Status:          loan.Status.String(),
		FundedAt:        loan.FundedAt,
		InterestRateBps: loan.InterestRateBps,
		DueDate:         loan.DueDate,
		ResolvedAt:      loan.ResolvedAt,
		RepaymentDue:    loan.RepaymentDue().String(),
	}
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return "rpc error " + strconv.Itoa(e.Code) + ": " + e.Message
}

// Fatal reports whether retrying the same call cannot succeed without an
// operator changing configuration or keys.
func (e *Error) Fatal() bool {
	switch e.Code {
	case CodeAuthorization, CodeConfiguration, CodeUnauthorized:
		return true
	default:
		return false
	}
}
