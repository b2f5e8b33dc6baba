package rpc

import (
	"errors"
	"net/http"

	"factorchain/crypto"
	"factorchain/rpc/api"
)

var errNegativePage = errors.New("offset and limit must not be negative")

type addressParam struct {
	Address string `json:"address"`
}

func (s *Server) decodeAddress(w http.ResponseWriter, req *RPCRequest) (crypto.Address, bool) {
	var args addressParam
	if err := decodeParam(req, &args); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid parameters", err.Error())
		return crypto.Address{}, false
	}
	addr, err := crypto.ParseAddress(args.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid address", err.Error())
		return crypto.Address{}, false
	}
	return addr, true
}

func (s *Server) handleReputationScoreOf(w http.ResponseWriter, req *RPCRequest) {
	addr, ok := s.decodeAddress(w, req)
	if !ok {
		return
	}
	record, err := s.node.Reputation(addr)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, api.ScoreResult{
		Address:     api.FormatAddress(addr),
		Score:       record.Score,
		Credits:     record.Credits,
		Penalties:   record.Penalties,
		RepaidRatio: record.RepaidRatio(),
	})
}

func (s *Server) handleBankBalance(w http.ResponseWriter, req *RPCRequest) {
	addr, ok := s.decodeAddress(w, req)
	if !ok {
		return
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, api.BalanceResult{Address: api.FormatAddress(addr), Balance: balance.String()})
}

func (s *Server) handleReputationSetLoanEngine(w http.ResponseWriter, req *RPCRequest, call *signedCall) {
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
	if err := s.node.SetReputationLoanEngine(call.caller, engine); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleBankDeposit(w http.ResponseWriter, req *RPCRequest, call *signedCall) {
	var args api.DepositArgs
	if err := decodeArgs(call.args, &args); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid arguments", err.Error())
		return
	}
	to, err := crypto.ParseAddress(args.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid recipient", err.Error())
		return
	}
	amount, err := api.ParseAmount(args.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, api.CodeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.node.Deposit(call.caller, to, amount); err != nil {
		writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}
