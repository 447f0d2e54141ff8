package chain

import (
	"errors"
	"fmt"
	"strings"
)

// Lifecycle violations.
var (
	ErrClosed    = errors.New("node is closed")
	ErrPaused    = errors.New("node is paused")
	ErrNotPaused = errors.New("node is not paused")
)

// ErrMissingRole is returned when the caller lacks the capability an operation requires.
var ErrMissingRole = errors.New("caller is missing required role")

// Policy violations.
var (
	ErrCeilingExceeded   = errors.New("ceiling exceeded")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNotStarted        = errors.New("minting window has not started")
	ErrExpired           = errors.New("minting window has expired")
	ErrRequestNotReady   = errors.New("mint request delay has not elapsed")
	ErrRequestExecuted   = errors.New("mint request already executed")
	ErrRequestVetoed     = errors.New("mint request vetoed")
	ErrUnknownRequest    = errors.New("unknown mint request")
	ErrZeroWindowLength  = errors.New("window length must be non-zero")
	ErrZeroDelay         = errors.New("delay must be non-zero")
	ErrSupplyOverflow    = errors.New("supply would overflow")
	ErrInvalidRecipient  = errors.New("invalid recipient")
)

// Topology and construction violations.
var (
	ErrUnknownNode       = errors.New("unknown node")
	ErrDuplicateNode     = errors.New("node already exists")
	ErrChainTooDeep      = errors.New("forwarding depth exceeded")
	ErrUnsupported       = errors.New("operation not supported by node kind")
	ErrInvalidAdmin      = errors.New("invalid admin")
	ErrInvalidDownstream = errors.New("invalid downstream target")
	ErrInvalidTimeWindow = errors.New("invalid validity window")
	ErrInvalidRole       = errors.New("invalid role")
	ErrInvalidPrincipal  = errors.New("invalid principal")
)

// reasons maps each condition to the label used in metrics and logs.
var reasons = []struct {
	err  error
	name string
}{
	{ErrClosed, "closed"},
	{ErrPaused, "paused"},
	{ErrNotPaused, "not_paused"},
	{ErrMissingRole, "missing_role"},
	{ErrCeilingExceeded, "ceiling_exceeded"},
	{ErrRateLimitExceeded, "rate_limit_exceeded"},
	{ErrNotStarted, "not_started"},
	{ErrExpired, "expired"},
	{ErrRequestNotReady, "request_not_ready"},
	{ErrRequestExecuted, "request_executed"},
	{ErrRequestVetoed, "request_vetoed"},
	{ErrUnknownRequest, "unknown_request"},
	{ErrZeroWindowLength, "zero_window_length"},
	{ErrZeroDelay, "zero_delay"},
	{ErrSupplyOverflow, "supply_overflow"},
	{ErrInvalidRecipient, "invalid_recipient"},
	{ErrUnknownNode, "unknown_node"},
	{ErrDuplicateNode, "duplicate_node"},
	{ErrChainTooDeep, "chain_too_deep"},
	{ErrUnsupported, "unsupported"},
	{ErrInvalidAdmin, "invalid_admin"},
	{ErrInvalidDownstream, "invalid_downstream"},
	{ErrInvalidTimeWindow, "invalid_time_window"},
	{ErrInvalidRole, "invalid_role"},
	{ErrInvalidPrincipal, "invalid_principal"},
}

// Reason returns a stable snake_case label for err, or "internal" for
// conditions outside the chain taxonomy.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.name
		}
	}
	return "internal"
}

// Error describes a rejected call on one node. Err is one of the sentinel
// conditions above and can be matched with errors.Is.
type Error struct {
	Node      string
	Op        string
	Caller    string
	Amount    uint64
	RequestID uint64
	Role      Role
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %v", e.Node, e.Op, e.Err)
	if e.Caller != "" {
		fmt.Fprintf(&b, " caller=%s", e.Caller)
	}
	if e.Role != "" {
		fmt.Fprintf(&b, " role=%s", e.Role)
	}
	if e.Amount != 0 {
		fmt.Fprintf(&b, " amount=%d", e.Amount)
	}
	if e.RequestID != 0 {
		fmt.Fprintf(&b, " request=%d", e.RequestID)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}
