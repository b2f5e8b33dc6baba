package core

import (
	"math/big"

	"factorchain/crypto"
	"factorchain/native/factoring"
	"factorchain/native/invoice"
	"factorchain/native/reputation"
)

// Invoice returns the invoice with the given id.
func (n *Node) Invoice(id uint64) (*invoice.Invoice, error) {
	var inv *invoice.Invoice
	err := n.View(func(m *Modules) error {
		var err error
		inv, err = m.Invoices.Get(id)
		return err
	})
	return inv, err
}

// InvoiceApproval returns the pending spender approval of an invoice.
func (n *Node) InvoiceApproval(id uint64) (crypto.Address, bool, error) {
	var (
		spender crypto.Address
		ok      bool
	)
	err := n.View(func(m *Modules) error {
		if _, err := m.Invoices.Get(id); err != nil {
			return err
		}
		var err error
		spender, ok, err = m.Invoices.Approved(id)
		return err
	})
	return spender, ok, err
}

// InvoiceLoanEngine returns the loan engine registered with the registry.
func (n *Node) InvoiceLoanEngine() (crypto.Address, bool, error) {
	var (
		engine crypto.Address
		ok     bool
	)
	err := n.View(func(m *Modules) error {
		var err error
		engine, ok, err = m.Invoices.LoanEngine()
		return err
	})
	return engine, ok, err
}

// NextInvoiceID returns the identifier the next mint will receive.
func (n *Node) NextInvoiceID() (uint64, error) {
	var next uint64
	err := n.View(func(m *Modules) error {
		var err error
		next, err = m.Invoices.NextID()
		return err
	})
	return next, err
}

// Invoices returns invoices in id order starting at offset. A non-positive
// limit returns every remaining invoice.
func (n *Node) Invoices(offset uint64, limit int) ([]*invoice.Invoice, error) {
	var out []*invoice.Invoice
	err := n.View(func(m *Modules) error {
		next, err := m.Invoices.NextID()
		if err != nil {
			return err
		}
		for id := offset; id < next; id++ {
			if limit > 0 && len(out) >= limit {
				break
			}
			inv, err := m.Invoices.Get(id)
			if err != nil {
				return err
			}
			out = append(out, inv)
		}
		return nil
	})
	return out, err
}

// Loan returns the loan recorded for an invoice.
func (n *Node) Loan(id uint64) (*factoring.Loan, error) {
	var loan *factoring.Loan
	err := n.View(func(m *Modules) error {
		var err error
		loan, err = m.Factoring.Loan(id)
		return err
	})
	return loan, err
}

// Loans lists loans matching filter.
func (n *Node) Loans(filter factoring.Filter) ([]*factoring.Loan, error) {
	var loans []*factoring.Loan
	err := n.View(func(m *Modules) error {
		var err error
		loans, err = m.Factoring.Loans(filter)
		return err
	})
	return loans, err
}

// RepaymentDue returns the exact amount that settles a loan.
func (n *Node) RepaymentDue(id uint64) (*big.Int, error) {
	var due *big.Int
	err := n.View(func(m *Modules) error {
		var err error
		due, err = m.Factoring.RepaymentDue(id)
		return err
	})
	return due, err
}

// DueForDefault returns funded loans whose due date has passed at now.
func (n *Node) DueForDefault(now int64) ([]*factoring.Loan, error) {
	var loans []*factoring.Loan
	err := n.View(func(m *Modules) error {
		var err error
		loans, err = m.Factoring.DueForDefault(now)
		return err
	})
	return loans, err
}

// Oracle returns the registered default oracle.
func (n *Node) Oracle() (crypto.Address, bool, error) {
	var (
		oracle crypto.Address
		ok     bool
	)
	err := n.View(func(m *Modules) error {
		var err error
		oracle, ok, err = m.Factoring.Oracle()
		return err
	})
	return oracle, ok, err
}

// EscrowAddress returns the account holding assets and value in transit.
func (n *Node) EscrowAddress() crypto.Address {
	return factoring.EscrowAddress()
}

// Reputation returns the full reputation record of identity.
func (n *Node) Reputation(identity crypto.Address) (reputation.Record, error) {
	var record reputation.Record
	err := n.View(func(m *Modules) error {
		var err error
		record, err = m.Reputation.RecordOf(identity)
		return err
	})
	return record, err
}

// Balance returns the settlement balance of an account.
func (n *Node) Balance(addr crypto.Address) (*big.Int, error) {
	var balance *big.Int
	err := n.View(func(m *Modules) error {
		var err error
		balance, err = m.Bank.BalanceOf(addr)
		return err
	})
	return balance, err
}

// Supply returns the total deposited settlement supply.
func (n *Node) Supply() (*big.Int, error) {
	var supply *big.Int
	err := n.View(func(m *Modules) error {
		var err error
		supply, err = m.Bank.Supply()
		return err
	})
	return supply, err
}
