package server

import (
	"errors"

	"github.com/defistate/defistate-mutator/access"
	"github.com/defistate/defistate-mutator/ledger"
	"github.com/defistate/defistate-mutator/mutator"
	collectionregistry "github.com/defistate/defistate-mutator/protocols/collectionregistry"
	"github.com/defistate/defistate-mutator/streams/jsonrpc/wire"
)

// JSON-RPC error codes returned by the mutator and ledger namespaces.
const (
	codeInvalidRequest = -32600
	codeInvalidParams  = -32602
	codeRejected       = -32000
	codeUnauthorized   = -32001
	codeBadSignature   = -32002
	codeBadNonce       = -32003
	codeNotFound       = -32004
)

// requestError carries a JSON-RPC error code; the rpc package reports it to the caller.
type requestError struct {
	code int
	err  error
}

func (e *requestError) Error() string  { return e.err.Error() }
func (e *requestError) ErrorCode() int { return e.code }
func (e *requestError) Unwrap() error  { return e.err }

// rpcError attaches an error code to a domain error.
func rpcError(err error) error {
	if err == nil {
		return nil
	}
	var re *requestError
	if errors.As(err, &re) {
		return err
	}
	code := codeRejected
	switch {
	case errors.Is(err, access.ErrUnauthorized):
		code = codeUnauthorized
	case errors.Is(err, wire.ErrInvalidSignature):
		code = codeBadSignature
	case errors.Is(err, wire.ErrValueOutOfRange), errors.Is(err, collectionregistry.ErrValueOutOfRange):
		code = codeInvalidParams
	case errors.Is(err, ledger.ErrNonexistentToken), errors.Is(err, mutator.ErrNonexistentToken):
		code = codeNotFound
	}
	return &requestError{code: code, err: err}
}
