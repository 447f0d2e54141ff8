package models

// NodeKind names the policy a node enforces.
type NodeKind string

const (
	KindLedger  NodeKind = "ledger"
	KindCeiling NodeKind = "ceiling"
	KindWindow  NodeKind = "window"
	KindDelay   NodeKind = "delay"
)

// NodeRecord is the persisted snapshot of one node in the chain.
// Only the fields that belong to Kind are populated.
type NodeRecord struct {
	ID         string              `json:"id"`                   // unique id, also the principal the node forwards as
	Kind       NodeKind            `json:"kind"`                 // policy implemented by the node
	Downstream string              `json:"downstream,omitempty"` // next node id, empty for the ledger
	Roles      map[string][]string `json:"roles"`                // role -> principals
	Paused     bool                `json:"paused"`
	Closed     bool                `json:"closed"`

	// ceiling
	Ceiling    uint64 `json:"ceiling,omitempty"`
	Minted     uint64 `json:"minted,omitempty"`
	ValidFrom  int64  `json:"valid_from,omitempty"`
	ValidUntil int64  `json:"valid_until,omitempty"`

	// window
	Limit        uint64 `json:"limit,omitempty"`
	WindowLength int64  `json:"window_length,omitempty"`
	WindowStart  int64  `json:"window_start,omitempty"`
	WindowMinted uint64 `json:"window_minted,omitempty"`

	// delay
	Delay         int64          `json:"delay,omitempty"`
	NextRequestID uint64         `json:"next_request_id,omitempty"`
	Requests      []*MintRequest `json:"requests,omitempty"`

	// ledger
	TotalSupply uint64            `json:"total_supply,omitempty"`
	Balances    map[string]uint64 `json:"balances,omitempty"`
}
