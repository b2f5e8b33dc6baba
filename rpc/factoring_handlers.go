package rpc

import (
	"net/http"

	"factorchain/crypto"
	"factorchain/native/factoring"
	"factorchain/rpc/api"
)

const (
	maxLoanPage    = 500
	maxInvoicePage = 500
)

func addressResult(addr crypto.Address, ok bool) api.AddressResult {
	if !ok {
		return api.AddressResult{}
	}
	return api.AddressResult{Address: api.FormatAddress(addr), Set: true}
}

func (s *Server) handleFactoringGetLoan(w http.ResponseWriter, req *RPCRequest) {
	var args api.InvoiceArgs
	if err := decodeParam(req, &args); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid parameters", err.Error())
		return
	}
	loan, err := s.node.Loan(args.InvoiceID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, api.NewLoanResult(loan))
}

func (s *Server) handleFactoringListLoans(w http.ResponseWriter, req *RPCRequest) {
	var args api.LoanFilter
	if len(req.Params) > 0 {
		if err := decodeParam(req, &args); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid parameters", err.Error())
			return
		}
	}
	filter, err := loanFilterFrom(args)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid filter", err.Error())
		return
	}
	loans, err := s.node.Loans(filter)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	out := make([]api.LoanResult, 0, len(loans))
	for _, loan := range loans {
		out = append(out, api.NewLoanResult(loan))
	}
	writeResult(w, req.ID, out)
}

func loanFilterFrom(args api.LoanFilter) (factoring.Filter, error) {
	filter := factoring.Filter{Offset: args.Offset, Limit: args.Limit}
	if filter.Offset < 0 || filter.Limit < 0 {
		return factoring.Filter{}, errNegativePage
	}
	if filter.Limit == 0 || filter.Limit > maxLoanPage {
		filter.Limit = maxLoanPage
	}
	if args.Status != "" {
		status, err := factoring.ParseStatus(args.Status)
		if err != nil {
			return factoring.Filter{}, err
		}
		filter.Status = status
	}
	if args.Lender != "" {
		lender, err := crypto.ParseAddress(args.Lender)
		if err != nil {
			return factoring.Filter{}, err
		}
		filter.Lender = lender
	}
	if args.Borrower != "" {
		borrower, err := crypto.ParseAddress(args.Borrower)
		if err != nil {
			return factoring.Filter{}, err
		}
		filter.Borrower = borrower
	}
	return filter, nil
}

func (s *Server) handleFactoringRepaymentDue(w http.ResponseWriter, req *RPCRequest) {
	var args api.InvoiceArgs
	if err := decodeParam(req, &args); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid parameters", err.Error())
		return
	}
	due, err := s.node.RepaymentDue(args.InvoiceID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, due.String())
}

func (s *Server) handleFactoringOracle(w http.ResponseWriter, req *RPCRequest) {
	oracle, ok, err := s.node.Oracle()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, addressResult(oracle, ok))
}

func (s *Server) handleFactoringEscrowAddress(w http.ResponseWriter, req *RPCRequest) {
	writeResult(w, req.ID, addressResult(s.node.EscrowAddress(), true))
}

func (s *Server) handleFactoringFund(w http.ResponseWriter, req *RPCRequest, call *signedCall) {
	var args api.InvoiceArgs
	if err := decodeArgs(call.args, &args); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid arguments", err.Error())
		return
	}
	loan, err := s.node.FundInvoice(call.caller, args.InvoiceID, call.value)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, api.NewLoanResult(loan))
}

func (s *Server) handleFactoringRepay(w http.ResponseWriter, req *RPCRequest, call *signedCall) {
	var args api.InvoiceArgs
	if err := decodeArgs(call.args, &args); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid arguments", err.Error())
		return
	}
	loan, err := s.node.Repay(call.caller, args.InvoiceID, call.value)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, api.NewLoanResult(loan))
}

func (s *Server) handleFactoringMarkDefault(w http.ResponseWriter, req *RPCRequest, call *signedCall) {
	var args api.InvoiceArgs
	if err := decodeArgs(call.args, &args); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid arguments", err.Error())
		return
	}
	loan, err := s.node.MarkDefault(call.caller, args.InvoiceID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, api.NewLoanResult(loan))
}

func (s *Server) handleFactoringSetOracle(w http.ResponseWriter, req *RPCRequest, call *signedCall) {
	var args api.OracleArgs
	if err := decodeArgs(call.args, &args); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid arguments", err.Error())
		return
	}
	oracle, err := parseAddressParam(args.Oracle, "oracle")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid oracle", err.Error())
		return
	}
	if err := s.node.SetOracle(call.caller, oracle); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}
