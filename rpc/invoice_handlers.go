package rpc

import (
	"net/http"

	"factorchain/native/invoice"
	"factorchain/rpc/api"
)

func (s *Server) handleInvoiceGet(w http.ResponseWriter, req *RPCRequest) {
	var args api.InvoiceArgs
	if err := decodeParam(req, &args); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid parameters", err.Error())
		return
	}
	inv, err := s.node.Invoice(args.InvoiceID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, api.NewInvoiceResult(inv))
}

func (s *Server) handleInvoiceList(w http.ResponseWriter, req *RPCRequest) {
	var args api.PageArgs
	if len(req.Params) > 0 {
		if err := decodeParam(req, &args); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid parameters", err.Error())
			return
		}
	}
	if args.Limit < 0 {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "limit must not be negative", nil)
		return
	}
	if args.Limit == 0 || args.Limit > maxInvoicePage {
		args.Limit = maxInvoicePage
	}
	invoices, err := s.node.Invoices(args.Offset, args.Limit)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	out := make([]api.InvoiceResult, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, api.NewInvoiceResult(inv))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleInvoiceApproved(w http.ResponseWriter, req *RPCRequest) {
	var args api.InvoiceArgs
	if err := decodeParam(req, &args); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid parameters", err.Error())
		return
	}
	spender, ok, err := s.node.InvoiceApproval(args.InvoiceID)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, addressResult(spender, ok))
}

func (s *Server) handleInvoiceLoanEngine(w http.ResponseWriter, req *RPCRequest) {
	engine, ok, err := s.node.InvoiceLoanEngine()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, addressResult(engine, ok))
}

func (s *Server) handleInvoiceNextID(w http.ResponseWriter, req *RPCRequest) {
	next, err := s.node.NextInvoiceID()
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, next)
}

func (s *Server) handleInvoiceMint(w http.ResponseWriter, req *RPCRequest, call *signedCall) {
	var args api.MintArgs
	if err := decodeArgs(call.args, &args); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid arguments", err.Error())
		return
	}
	amount, err := api.ParseAmount(args.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid amount", err.Error())
		return
	}
	debtor, err := parseAddressParam(args.Debtor, "debtor")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid debtor", err.Error())
		return
	}
	id, err := s.node.MintInvoice(call.caller, invoice.MintParams{
		MetadataURI:     args.MetadataURI,
		Amount:          amount,
		Debtor:          debtor,
		DueDate:         args.DueDate,
		InterestRateBps: args.InterestRateBps,
	})
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, api.MintResult{InvoiceID: id})
}

func (s *Server) handleInvoiceApprove(w http.ResponseWriter, req *RPCRequest, call *signedCall) {
	var args api.ApproveArgs
	if err := decodeArgs(call.args, &args); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid arguments", err.Error())
		return
	}
	spender, err := parseAddressParam(args.Spender, "spender")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid spender", err.Error())
		return
	}
	if err := s.node.ApproveInvoice(call.caller, args.InvoiceID, spender); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleInvoiceTransfer(w http.ResponseWriter, req *RPCRequest, call *signedCall) {
	var args api.TransferArgs
	if err := decodeArgs(call.args, &args); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid arguments", err.Error())
		return
	}
	to, err := parseAddressParam(args.To, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid recipient", err.Error())
		return
	}
	if err := s.node.TransferInvoice(call.caller, args.InvoiceID, to); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleInvoiceMarkPaid(w http.ResponseWriter, req *RPCRequest, call *signedCall) {
	var args api.InvoiceArgs
	if err := decodeArgs(call.args, &args); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid arguments", err.Error())
		return
	}
	if err := s.node.MarkInvoicePaid(call.caller, args.InvoiceID); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleInvoiceSetLoanEngine(w http.ResponseWriter, req *RPCRequest, call *signedCall) {
	var args api.EngineArgs
	if err := decodeArgs(call.args, &args); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid arguments", err.Error())
		return
	}
	engine, err := parseAddressParam(args.Engine, "engine")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid engine", err.Error())
		return
	}
	if err := s.node.SetInvoiceLoanEngine(call.caller, engine); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}
