package models

// RequestStatus is the derived state of a delayed mint request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestExecuted RequestStatus = "EXECUTED"
	RequestVetoed   RequestStatus = "VETOED"
)

// MintRequest is a queued increase held by a delay node.
type MintRequest struct {
	ID        uint64 `json:"id"`
	Requester string `json:"requester"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	CreatedAt int64  `json:"created_at"` // logical time, unix seconds
	Executed  bool   `json:"executed"`
	Vetoed    bool   `json:"vetoed"`
}

// Status reports where the request sits in its pending -> executed|vetoed lifecycle.
func (r *MintRequest) Status() RequestStatus {
	switch {
	case r.Executed:
		return RequestExecuted
	case r.Vetoed:
		return RequestVetoed
	default:
		return RequestPending
	}
}
