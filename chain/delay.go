package chain

import (
	"context"
	"sort"

	"mintgate/logger"
	"mintgate/models"

	"go.uber.org/zap"
)

// DelayConfig configures a delay node.
type DelayConfig struct {
	NodeConfig `mapstructure:",squash"`
	Delay      int64    `json:"delay" mapstructure:"delay"`
	Vetoers    []string `json:"vetoers" mapstructure:"vetoers"`
}

// DelayNode queues increases instead of forwarding them. A queued request
// becomes executable by anyone once the configured delay has elapsed since
// it was created, unless a VETO holder rejects it first.
//
// The wait is computed at execution time from the delay in force then, so
// UpdateDelay applies to every request still pending.
type DelayNode struct {
	base
	delay         int64
	nextRequestID uint64
	requests      map[uint64]*models.MintRequest
}

func newDelayNode(e env, cfg DelayConfig) (*DelayNode, error) {
	if err := validateNodeConfig(cfg.NodeConfig, true); err != nil {
		return nil, err
	}
	if cfg.Delay <= 0 {
		return nil, ErrZeroDelay
	}
	n := &DelayNode{
		base:     newBase(e, models.KindDelay, cfg.NodeConfig),
		delay:    cfg.Delay,
		requests: make(map[uint64]*models.MintRequest),
	}
	for _, p := range cfg.Vetoers {
		n.roles.grant(RoleVeto, p)
	}
	return n, nil
}

func delayFromRecord(e env, rec *models.NodeRecord) *DelayNode {
	n := &DelayNode{
		base:          baseFromRecord(e, rec),
		delay:         rec.Delay,
		nextRequestID: rec.NextRequestID,
		requests:      make(map[uint64]*models.MintRequest, len(rec.Requests)),
	}
	for _, req := range rec.Requests {
		r := *req
		n.requests[r.ID] = &r
	}
	n.updatePendingGauge()
	return n
}

func (n *DelayNode) Record() *models.NodeRecord {
	rec := n.record()
	rec.Delay = n.delay
	rec.NextRequestID = n.nextRequestID
	rec.Requests = n.Requests()
	return rec
}

// GetRequest returns a copy of the request with the given id.
func (n *DelayNode) GetRequest(id uint64) (*models.MintRequest, error) {
	req, ok := n.requests[id]
	if !ok {
		e := n.reject("get_request", "", ErrUnknownRequest)
		e.RequestID = id
		return nil, e
	}
	r := *req
	return &r, nil
}

// Requests returns copies of every request in id order.
func (n *DelayNode) Requests() []*models.MintRequest {
	out := make([]*models.MintRequest, 0, len(n.requests))
	for _, req := range n.requests {
		r := *req
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PendingRequests returns copies of the requests neither executed nor vetoed.
func (n *DelayNode) PendingRequests() []*models.MintRequest {
	var out []*models.MintRequest
	for _, req := range n.Requests() {
		if req.Status() == models.RequestPending {
			out = append(out, req)
		}
	}
	return out
}

// Mint queues the increase; it satisfies Minter so a delay node can sit
// anywhere in a chain. The request id is reported to the chain, which hands
// it back to the caller of the outermost Mint.
func (n *DelayNode) Mint(ctx context.Context, caller, recipient string, amount uint64) error {
	_, err := n.RequestMint(ctx, caller, recipient, amount)
	return err
}

// RequestMint creates a pending request stamped with the current logical
// time and returns its id. Ids start at 1.
func (n *DelayNode) RequestMint(_ context.Context, caller, recipient string, amount uint64) (id uint64, err error) {
	defer func() { observeMint(n.kind, amount, err) }()

	if e := n.checkActive("mint", caller); e != nil {
		return 0, e
	}
	if e := n.requireRole("mint", caller, RoleMinter); e != nil {
		return 0, e
	}

	n.nextRequestID++
	id = n.nextRequestID
	n.requests[id] = &models.MintRequest{
		ID:        id,
		Requester: caller,
		Recipient: recipient,
		Amount:    amount,
		CreatedAt: n.env.Now(),
	}
	n.emit(models.EventMintRequested, caller, func(ev *models.Event) {
		ev.Recipient = recipient
		ev.Amount = amount
		ev.RequestID = id
	})
	n.env.queued(n.id, id)
	n.updatePendingGauge()
	logger.Logger.Info("Mint request queued",
		zap.String("node_id", n.id), zap.Uint64("request_id", id),
		zap.String("requester", caller), zap.Uint64("amount", amount))
	return id, nil
}

// ExecuteMint forwards a pending request once now >= createdAt + delay.
// Any principal may call it.
func (n *DelayNode) ExecuteMint(ctx context.Context, caller string, id uint64) error {
	if e := n.checkActive("execute_mint", caller); e != nil {
		e.RequestID = id
		return e
	}
	req, e := n.pendingRequest("execute_mint", caller, id)
	if e != nil {
		return e
	}
	if n.env.Now()-req.CreatedAt < n.delay {
		e := n.reject("execute_mint", caller, ErrRequestNotReady)
		e.RequestID = id
		e.Amount = req.Amount
		return e
	}

	req.Executed = true
	if err := n.forwardMint(ctx, req.Recipient, req.Amount); err != nil {
		req.Executed = false
		return err
	}
	n.emit(models.EventMintExecuted, caller, func(ev *models.Event) {
		ev.Recipient = req.Recipient
		ev.Amount = req.Amount
		ev.RequestID = id
	})
	// attributed to the principal whose request was admitted
	n.emitMinted(req.Requester, req.Recipient, req.Amount)
	n.updatePendingGauge()
	return nil
}

// VetoMintRequest permanently rejects a pending request. Vetoing an already
// vetoed request is an error, not a no-op.
func (n *DelayNode) VetoMintRequest(caller string, id uint64) error {
	if e := n.checkRole("veto", caller, RoleVeto); e != nil {
		e.RequestID = id
		return e
	}
	req, e := n.pendingRequest("veto", caller, id)
	if e != nil {
		return e
	}
	req.Vetoed = true
	n.emit(models.EventMintVetoed, caller, func(ev *models.Event) {
		ev.Recipient = req.Recipient
		ev.Amount = req.Amount
		ev.RequestID = id
	})
	n.updatePendingGauge()
	logger.Logger.Info("Mint request vetoed",
		zap.String("node_id", n.id), zap.Uint64("request_id", id), zap.String("caller", caller))
	return nil
}

// UpdateDelay changes the delay for all pending and future requests.
func (n *DelayNode) UpdateDelay(caller string, delay int64) error {
	if err := n.checkRole("update_delay", caller, RoleAdmin); err != nil {
		return err
	}
	if delay <= 0 {
		return n.reject("update_delay", caller, ErrZeroDelay)
	}
	n.delay = delay
	n.emit(models.EventDelayUpdated, caller, func(ev *models.Event) {
		ev.Amount = uint64(delay)
	})
	return nil
}

func (n *DelayNode) pendingRequest(op, caller string, id uint64) (*models.MintRequest, *Error) {
	req, ok := n.requests[id]
	var cond error
	switch {
	case !ok:
		cond = ErrUnknownRequest
	case req.Executed:
		cond = ErrRequestExecuted
	case req.Vetoed:
		cond = ErrRequestVetoed
	default:
		return req, nil
	}
	e := n.reject(op, caller, cond)
	e.RequestID = id
	return nil, e
}

func (n *DelayNode) updatePendingGauge() {
	var pending int
	for _, req := range n.requests {
		if req.Status() == models.RequestPending {
			pending++
		}
	}
	pendingRequestsGauge.WithLabelValues(n.id).Set(float64(pending))
}
