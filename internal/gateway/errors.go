package gateway

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse marks a transport failure where no HTTP status was
// available at all, as opposed to a reachable server answering badly.
var ErrEmptyResponse = errors.New("empty response from remote")

// PayloadError marks a reachable server whose response body was not the
// expected structure. The HTTP status is kept for diagnostics.
type PayloadError struct {
	Status int
	Reason string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid remote payload (http %d): %s", e.Status, e.Reason)
}

// RPCError is a well-formed JSON-RPC error answer from the wallet daemon.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
