package rpc

import (
	"net/http"

	"factorchain/rpc/api"
)

func (s *Server) registerHandlers() {
	s.reads = map[string]readHandler{
		api.MethodInvoiceGet:             s.handleInvoiceGet,
		api.MethodInvoiceList:            s.handleInvoiceList,
		api.MethodInvoiceApproved:        s.handleInvoiceApproved,
		api.MethodInvoiceLoanEngine:      s.handleInvoiceLoanEngine,
		api.MethodInvoiceNextID:          s.handleInvoiceNextID,
		api.MethodFactoringGetLoan:       s.handleFactoringGetLoan,
		api.MethodFactoringListLoans:     s.handleFactoringListLoans,
		api.MethodFactoringRepaymentDue:  s.handleFactoringRepaymentDue,
		api.MethodFactoringOracle:        s.handleFactoringOracle,
		api.MethodFactoringEscrowAddress: s.handleFactoringEscrowAddress,
		api.MethodReputationScoreOf:      s.handleReputationScoreOf,
		api.MethodBankBalance:            s.handleBankBalance,
	}
	s.writes = map[string]writeHandler{
		api.MethodInvoiceMint:             withoutValue(s.handleInvoiceMint),
		api.MethodInvoiceApprove:          withoutValue(s.handleInvoiceApprove),
		api.MethodInvoiceTransfer:         withoutValue(s.handleInvoiceTransfer),
		api.MethodInvoiceMarkPaid:         withoutValue(s.handleInvoiceMarkPaid),
		api.MethodInvoiceSetLoanEngine:    withoutValue(s.handleInvoiceSetLoanEngine),
		api.MethodFactoringFund:           s.handleFactoringFund,
		api.MethodFactoringRepay:          s.handleFactoringRepay,
		api.MethodFactoringMarkDefault:    withoutValue(s.handleFactoringMarkDefault),
		api.MethodFactoringSetOracle:      withoutValue(s.handleFactoringSetOracle),
		api.MethodReputationSetLoanEngine: withoutValue(s.handleReputationSetLoanEngine),
		api.MethodBankDeposit:             withoutValue(s.handleBankDeposit),
	}
}

// withoutValue rejects envelopes that attach a payment to a method which
// does not accept one.
func withoutValue(next writeHandler) writeHandler {
	return func(w http.ResponseWriter, req *RPCRequest, call *signedCall) {
		if call.value != nil && call.value.Sign() != 0 {
			writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "method does not accept a value", nil)
			return
		}
		next(w, req, call)
	}
}
