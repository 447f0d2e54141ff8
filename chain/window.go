package chain

import (
	"context"

	"mintgate/logger"
	"mintgate/models"

	"go.uber.org/zap"
)

// WindowConfig configures a rate-limiting node.
type WindowConfig struct {
	NodeConfig   `mapstructure:",squash"`
	Limit        uint64 `json:"limit" mapstructure:"limit"`
	WindowLength int64  `json:"window_length" mapstructure:"window_length"`
}

// WindowNode bounds the amount admitted per fixed-length window. Windows are
// aligned to the start time recorded when the node was built or when the
// window length last changed.
type WindowNode struct {
	base
	limit        uint64
	windowLength int64
	windowStart  int64
	windowMinted uint64
}

func newWindowNode(e env, cfg WindowConfig) (*WindowNode, error) {
	if err := validateNodeConfig(cfg.NodeConfig, true); err != nil {
		return nil, err
	}
	if cfg.WindowLength <= 0 {
		return nil, ErrZeroWindowLength
	}
	return &WindowNode{
		base:         newBase(e, models.KindWindow, cfg.NodeConfig),
		limit:        cfg.Limit,
		windowLength: cfg.WindowLength,
		windowStart:  e.Now(),
	}, nil
}

func windowFromRecord(e env, rec *models.NodeRecord) *WindowNode {
	return &WindowNode{
		base:         baseFromRecord(e, rec),
		limit:        rec.Limit,
		windowLength: rec.WindowLength,
		windowStart:  rec.WindowStart,
		windowMinted: rec.WindowMinted,
	}
}

// current returns the window start and minted amount in effect at now,
// without mutating the node. Rollover is a single floor division so the
// cost does not depend on how many windows elapsed.
func (n *WindowNode) current(now int64) (int64, uint64) {
	elapsed := now - n.windowStart
	if elapsed < n.windowLength {
		return n.windowStart, n.windowMinted
	}
	passed := elapsed / n.windowLength
	return n.windowStart + passed*n.windowLength, 0
}

// Available is the allowance left at the current logical time.
func (n *WindowNode) Available() uint64 {
	_, minted := n.current(n.env.Now())
	if minted >= n.limit {
		return 0
	}
	return n.limit - minted
}

func (n *WindowNode) Record() *models.NodeRecord {
	rec := n.record()
	rec.Limit = n.limit
	rec.WindowLength = n.windowLength
	rec.WindowStart = n.windowStart
	rec.WindowMinted = n.windowMinted
	return rec
}

func (n *WindowNode) Mint(ctx context.Context, caller, recipient string, amount uint64) (err error) {
	defer func() { observeMint(n.kind, amount, err) }()

	if e := n.checkActive("mint", caller); e != nil {
		return e
	}
	if e := n.requireRole("mint", caller, RoleMinter); e != nil {
		return e
	}

	prevStart, prevMinted := n.windowStart, n.windowMinted
	n.windowStart, n.windowMinted = n.current(n.env.Now())

	// the limit may have been lowered below what this window already used
	if n.windowMinted > n.limit || amount > n.limit-n.windowMinted {
		logger.Logger.Info("Rate limit exceeded",
			zap.String("node_id", n.id), zap.String("caller", caller),
			zap.Uint64("amount", amount), zap.Uint64("window_minted", n.windowMinted), zap.Uint64("limit", n.limit))
		n.windowStart, n.windowMinted = prevStart, prevMinted
		return n.rejectAmount("mint", caller, amount, ErrRateLimitExceeded)
	}

	n.windowMinted += amount
	if err := n.forwardMint(ctx, recipient, amount); err != nil {
		n.windowStart, n.windowMinted = prevStart, prevMinted
		return err
	}
	n.emitMinted(caller, recipient, amount)
	return nil
}

// UpdateLimit changes the per-window limit without touching the current window.
func (n *WindowNode) UpdateLimit(caller string, limit uint64) error {
	if err := n.checkRole("update_limit", caller, RoleAdmin); err != nil {
		return err
	}
	n.limit = limit
	n.emit(models.EventLimitUpdated, caller, func(ev *models.Event) {
		ev.Amount = limit
	})
	return nil
}

// UpdateWindowLength changes the window length and restarts the window at
// the current logical time with nothing minted.
func (n *WindowNode) UpdateWindowLength(caller string, length int64) error {
	if err := n.checkRole("update_window_length", caller, RoleAdmin); err != nil {
		return err
	}
	if length <= 0 {
		return n.reject("update_window_length", caller, ErrZeroWindowLength)
	}
	n.windowLength = length
	n.windowStart = n.env.Now()
	n.windowMinted = 0
	n.emit(models.EventWindowUpdated, caller, func(ev *models.Event) {
		ev.Amount = uint64(length)
	})
	return nil
}
