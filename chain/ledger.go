package chain

import (
	"context"

	"mintgate/models"
)

// LedgerConfig configures the terminal counter. It has no downstream.
type LedgerConfig struct {
	NodeConfig `mapstructure:",squash"`
}

// LedgerNode is the terminal counter every chain ends in: a total supply and
// the balances it is split into.
type LedgerNode struct {
	base
	totalSupply uint64
	balances    map[string]uint64
}

func newLedgerNode(e env, cfg LedgerConfig) (*LedgerNode, error) {
	if err := validateNodeConfig(cfg.NodeConfig, false); err != nil {
		return nil, err
	}
	cfg.Downstream = ""
	return &LedgerNode{
		base:     newBase(e, models.KindLedger, cfg.NodeConfig),
		balances: make(map[string]uint64),
	}, nil
}

func ledgerFromRecord(e env, rec *models.NodeRecord) *LedgerNode {
	n := &LedgerNode{
		base:        baseFromRecord(e, rec),
		totalSupply: rec.TotalSupply,
		balances:    make(map[string]uint64, len(rec.Balances)),
	}
	for who, amount := range rec.Balances {
		n.balances[who] = amount
	}
	return n
}

func (n *LedgerNode) TotalSupply() uint64 { return n.totalSupply }

func (n *LedgerNode) BalanceOf(who string) uint64 {
	return n.balances[who]
}

func (n *LedgerNode) Record() *models.NodeRecord {
	rec := n.record()
	rec.TotalSupply = n.totalSupply
	rec.Balances = make(map[string]uint64, len(n.balances))
	for who, amount := range n.balances {
		rec.Balances[who] = amount
	}
	return rec
}

func (n *LedgerNode) Mint(_ context.Context, caller, recipient string, amount uint64) (err error) {
	defer func() { observeMint(n.kind, amount, err) }()

	if e := n.checkActive("mint", caller); e != nil {
		return e
	}
	if e := n.requireRole("mint", caller, RoleMinter); e != nil {
		return e
	}
	if recipient == "" {
		return n.rejectAmount("mint", caller, amount, ErrInvalidRecipient)
	}
	// balances never exceed the total, so checking the total is enough
	if amount > ^uint64(0)-n.totalSupply {
		return n.rejectAmount("mint", caller, amount, ErrSupplyOverflow)
	}

	n.totalSupply += amount
	n.balances[recipient] += amount
	n.emitMinted(caller, recipient, amount)
	return nil
}

// UpdateDownstream is rejected: the ledger is always the end of a chain.
func (n *LedgerNode) UpdateDownstream(caller, _ string) error {
	if err := n.checkRole("update_downstream", caller, RoleAdmin); err != nil {
		return err
	}
	return n.reject("update_downstream", caller, ErrUnsupported)
}
