package rpc

import (
	"errors"
	"net/http"

	coreerrors "factorchain/core/errors"
	"factorchain/core"
	"factorchain/rpc/api"
)

type errorData struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// ledgerErrorStatus maps a ledger failure to its HTTP status and JSON-RPC
// code. Unclassified failures are internal errors.
func ledgerErrorStatus(err error) (int, int) {
	switch coreerrors.KindOf(err) {
	case coreerrors.KindValidation:
		return http.StatusBadRequest, api.CodeValidation
	case coreerrors.KindAuthorization:
		return http.StatusForbidden, api.CodeAuthorization
	case coreerrors.KindState:
		return http.StatusConflict, api.CodeState
	case coreerrors.KindAmountMismatch:
		return http.StatusConflict, api.CodeAmountMismatch
	case coreerrors.KindNotFound:
		return http.StatusNotFound, api.CodeNotFound
	case coreerrors.KindConfiguration:
		return http.StatusConflict, api.CodeConfiguration
	}
	if errors.Is(err, core.ErrClosed) {
		return http.StatusServiceUnavailable, api.CodeServerError
	}
	return http.StatusInternalServerError, api.CodeServerError
}

func writeLedgerError(w http.ResponseWriter, id interface{}, err error) {
	status, code := ledgerErrorStatus(err)
	if code == api.CodeServerError {
		writeError(w, status, id, code, "internal error", nil)
		return
	}
	writeError(w, status, id, code, err.Error(), errorData{
		Kind:   coreerrors.KindOf(err).String(),
		Reason: coreerrors.CodeOf(err),
	})
}
