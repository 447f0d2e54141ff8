package models

// EventKind identifies a notification emitted by a node.
type EventKind string

const (
	EventCreated           EventKind = "created"
	EventMinted            EventKind = "minted"
	EventPaused            EventKind = "paused"
	EventUnpaused          EventKind = "unpaused"
	EventClosed            EventKind = "closed"
	EventDownstreamUpdated EventKind = "downstream_updated"
	EventRoleGranted       EventKind = "role_granted"
	EventRoleRevoked       EventKind = "role_revoked"
	EventLimitUpdated      EventKind = "limit_updated"
	EventWindowUpdated     EventKind = "window_length_updated"
	EventDelayUpdated      EventKind = "delay_updated"
	EventMintRequested     EventKind = "mint_requested"
	EventMintExecuted      EventKind = "mint_executed"
	EventMintVetoed        EventKind = "mint_vetoed"
)

// Event is one entry of a node's notification history.
type Event struct {
	Seq       uint64    `json:"seq"`
	Node      string    `json:"node"`
	Kind      EventKind `json:"kind"`
	Caller    string    `json:"caller"`
	Recipient string    `json:"recipient,omitempty"`
	Amount    uint64    `json:"amount,omitempty"`
	RequestID uint64    `json:"request_id,omitempty"`
	Detail    string    `json:"detail,omitempty"` // role, new downstream or new setting
	Time      int64     `json:"time"`             // logical time, unix seconds
}
