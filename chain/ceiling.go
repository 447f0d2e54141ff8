package chain

import (
	"context"

	"mintgate/logger"
	"mintgate/models"

	"go.uber.org/zap"
)

// CeilingConfig configures a ceiling node. Ceiling and the validity window
// are fixed for the node's lifetime.
type CeilingConfig struct {
	NodeConfig `mapstructure:",squash"`
	Ceiling    uint64 `json:"ceiling" mapstructure:"ceiling"`
	ValidFrom  int64  `json:"valid_from" mapstructure:"valid_from"`
	ValidUntil int64  `json:"valid_until" mapstructure:"valid_until"`
}

// CeilingNode caps the cumulative amount it ever forwards and only admits
// increases inside [validFrom, validUntil].
type CeilingNode struct {
	base
	ceiling    uint64
	minted     uint64
	validFrom  int64
	validUntil int64
}

func newCeilingNode(e env, cfg CeilingConfig) (*CeilingNode, error) {
	if err := validateNodeConfig(cfg.NodeConfig, true); err != nil {
		return nil, err
	}
	if cfg.ValidFrom > cfg.ValidUntil || cfg.ValidFrom < e.Now() {
		return nil, ErrInvalidTimeWindow
	}
	return &CeilingNode{
		base:       newBase(e, models.KindCeiling, cfg.NodeConfig),
		ceiling:    cfg.Ceiling,
		validFrom:  cfg.ValidFrom,
		validUntil: cfg.ValidUntil,
	}, nil
}

func ceilingFromRecord(e env, rec *models.NodeRecord) *CeilingNode {
	return &CeilingNode{
		base:       baseFromRecord(e, rec),
		ceiling:    rec.Ceiling,
		minted:     rec.Minted,
		validFrom:  rec.ValidFrom,
		validUntil: rec.ValidUntil,
	}
}

// Remaining is the amount the node can still admit over its lifetime.
func (n *CeilingNode) Remaining() uint64 {
	return n.ceiling - n.minted
}

func (n *CeilingNode) Record() *models.NodeRecord {
	rec := n.record()
	rec.Ceiling = n.ceiling
	rec.Minted = n.minted
	rec.ValidFrom = n.validFrom
	rec.ValidUntil = n.validUntil
	return rec
}

func (n *CeilingNode) Mint(ctx context.Context, caller, recipient string, amount uint64) (err error) {
	defer func() { observeMint(n.kind, amount, err) }()

	if e := n.checkActive("mint", caller); e != nil {
		return e
	}
	if e := n.requireRole("mint", caller, RoleMinter); e != nil {
		return e
	}

	now := n.env.Now()
	if now < n.validFrom {
		return n.rejectAmount("mint", caller, amount, ErrNotStarted)
	}
	if now > n.validUntil {
		return n.rejectAmount("mint", caller, amount, ErrExpired)
	}
	// minted <= ceiling always holds, so the subtraction cannot wrap
	if amount > n.ceiling-n.minted {
		logger.Logger.Info("Ceiling exceeded",
			zap.String("node_id", n.id), zap.String("caller", caller),
			zap.Uint64("amount", amount), zap.Uint64("minted", n.minted), zap.Uint64("ceiling", n.ceiling))
		return n.rejectAmount("mint", caller, amount, ErrCeilingExceeded)
	}

	n.minted += amount
	if err := n.forwardMint(ctx, recipient, amount); err != nil {
		n.minted -= amount
		return err
	}
	n.emitMinted(caller, recipient, amount)
	return nil
}
