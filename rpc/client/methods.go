package client

import (
	"context"
	"math/big"

	"factorchain/crypto"
	"factorchain/rpc/api"
)

// Invoice fetches one invoice.
func (c *Client) Invoice(ctx context.Context, id uint64) (*api.InvoiceResult, error) {
	var out api.InvoiceResult
	if err := c.Call(ctx, api.MethodInvoiceGet, &out, api.InvoiceArgs{InvoiceID: id}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Invoices pages through invoices by id.
func (c *Client) Invoices(ctx context.Context, offset uint64, limit int) ([]api.InvoiceResult, error) {
	var out []api.InvoiceResult
	if err := c.Call(ctx, api.MethodInvoiceList, &out, api.PageArgs{Offset: offset, Limit: limit}); err != nil {
		return nil, err
	}
	return out, nil
}

// Loan fetches the loan recorded for an invoice.
func (c *Client) Loan(ctx context.Context, id uint64) (*api.LoanResult, error) {
	var out api.LoanResult
	if err := c.Call(ctx, api.MethodFactoringGetLoan, &out, api.InvoiceArgs{InvoiceID: id}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Loans lists loans matching filter.
func (c *Client) Loans(ctx context.Context, filter api.LoanFilter) ([]api.LoanResult, error) {
	var out []api.LoanResult
	if err := c.Call(ctx, api.MethodFactoringListLoans, &out, filter); err != nil {
		return nil, err
	}
	return out, nil
}

// Oracle returns the registered default oracle.
func (c *Client) Oracle(ctx context.Context) (crypto.Address, bool, error) {
	var out api.AddressResult
	if err := c.Call(ctx, api.MethodFactoringOracle, &out); err != nil {
		return crypto.Address{}, false, err
	}
	if !out.Set {
		return crypto.Address{}, false, nil
	}
	addr, err := crypto.ParseAddress(out.Address)
	if err != nil {
		return crypto.Address{}, false, err
	}
	return addr, true, nil
}

// EscrowAddress returns the loan engine's escrow account.
func (c *Client) EscrowAddress(ctx context.Context) (crypto.Address, error) {
	var out api.AddressResult
	if err := c.Call(ctx, api.MethodFactoringEscrowAddress, &out); err != nil {
		return crypto.Address{}, err
	}
	return crypto.ParseAddress(out.Address)
}

// RepaymentDue returns principal plus interest for a loan.
func (c *Client) RepaymentDue(ctx context.Context, id uint64) (*big.Int, error) {
	var raw string
	if err := c.Call(ctx, api.MethodFactoringRepaymentDue, &raw, api.InvoiceArgs{InvoiceID: id}); err != nil {
		return nil, err
	}
	return api.ParseAmount(raw)
}

// Score returns the reputation record of addr.
func (c *Client) Score(ctx context.Context, addr crypto.Address) (*api.ScoreResult, error) {
	var out api.ScoreResult
	if err := c.Call(ctx, api.MethodReputationScoreOf, &out, map[string]string{"address": api.FormatAddress(addr)}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balance returns the settlement balance of addr.
func (c *Client) Balance(ctx context.Context, addr crypto.Address) (*big.Int, error) {
	var out api.BalanceResult
	if err := c.Call(ctx, api.MethodBankBalance, &out, map[string]string{"address": api.FormatAddress(addr)}); err != nil {
		return nil, err
	}
	return api.ParseAmount(out.Balance)
}

// Mint creates an invoice owned by the signer.
func (c *Client) Mint(ctx context.Context, args api.MintArgs) (uint64, error) {
	var out api.MintResult
	if err := c.Send(ctx, api.MethodInvoiceMint, args, nil, &out); err != nil {
		return 0, err
	}
	return out.InvoiceID, nil
}

// Approve grants spender a single-use transfer right.
func (c *Client) Approve(ctx context.Context, id uint64, spender crypto.Address) error {
	return c.Send(ctx, api.MethodInvoiceApprove, api.ApproveArgs{InvoiceID: id, Spender: api.FormatAddress(spender)}, nil, nil)
}

// Transfer moves an invoice to a new owner.
func (c *Client) Transfer(ctx context.Context, id uint64, to crypto.Address) error {
	return c.Send(ctx, api.MethodInvoiceTransfer, api.TransferArgs{InvoiceID: id, To: api.FormatAddress(to)}, nil, nil)
}

// MarkPaid flags an invoice as settled off-ledger.
func (c *Client) MarkPaid(ctx context.Context, id uint64) error {
	return c.Send(ctx, api.MethodInvoiceMarkPaid, api.InvoiceArgs{InvoiceID: id}, nil, nil)
}

// Fund finances an invoice with value.
func (c *Client) Fund(ctx context.Context, id uint64, value *big.Int) (*api.LoanResult, error) {
	var out api.LoanResult
	if err := c.Send(ctx, api.MethodFactoringFund, api.InvoiceArgs{InvoiceID: id}, value, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Repay settles a loan with value.
func (c *Client) Repay(ctx context.Context, id uint64, value *big.Int) (*api.LoanResult, error) {
	var out api.LoanResult
	if err := c.Send(ctx, api.MethodFactoringRepay, api.InvoiceArgs{InvoiceID: id}, value, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkDefault records non-payment of a due loan.
func (c *Client) MarkDefault(ctx context.Context, id uint64) (*api.LoanResult, error) {
	var out api.LoanResult
	if err := c.Send(ctx, api.MethodFactoringMarkDefault, api.InvoiceArgs{InvoiceID: id}, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Wire registers the escrow account with both modules and sets the oracle.
// Each step is a separate signed call; already configured steps are skipped.
func (c *Client) Wire(ctx context.Context, oracle crypto.Address) error {
	escrow, err := c.EscrowAddress(ctx)
	if err != nil {
		return err
	}
	engine := api.EngineArgs{Engine: api.FormatAddress(escrow)}
	steps := []struct {
		method string
		args   interface{}
	}{
		{api.MethodInvoiceSetLoanEngine, engine},
		{api.MethodReputationSetLoanEngine, engine},
		{api.MethodFactoringSetOracle, api.OracleArgs{Oracle: api.FormatAddress(oracle)}},
	}
	for _, step := range steps {
		err := c.Send(ctx, step.method, step.args, nil, nil)
		if rpcErr, ok := AsRPCError(err); ok && rpcErr.Code == api.CodeConfiguration {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Deposit credits settlement funds. Only the authority may deposit.
func (c *Client) Deposit(ctx context.Context, to crypto.Address, amount *big.Int) error {
	return c.Send(ctx, api.MethodBankDeposit, api.DepositArgs{To: api.FormatAddress(to), Amount: amount.String()}, nil, nil)
}
