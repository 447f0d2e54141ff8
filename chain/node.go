package chain

import (
	"context"

	"mintgate/logger"
	"mintgate/models"

	"go.uber.org/zap"
)

// Minter is the uniform forwarding entry point every node implements.
// caller is the principal invoking the node; a node forwarding an admitted
// increase passes its own ID as caller.
type Minter interface {
	Mint(ctx context.Context, caller, recipient string, amount uint64) error
}

// Node is a member of the chain arena.
type Node interface {
	Minter
	ID() string
	Kind() models.NodeKind
	Downstream() string
	Paused() bool
	Closed() bool
	HasRole(role Role, principal string) bool
	Record() *models.NodeRecord

	Pause(caller string) error
	Unpause(caller string) error
	Close(caller string) error
	UpdateDownstream(caller, downstream string) error
	GrantRole(caller string, role Role, principal string) error
	RevokeRole(caller string, role Role, principal string) error
}

// env is what a node needs from the arena it lives in.
type env interface {
	Now() int64
	emit(ev models.Event)
	queued(node string, requestID uint64)
	forward(ctx context.Context, from, to, recipient string, amount uint64) error
}

// NodeConfig carries the construction parameters shared by all node kinds.
type NodeConfig struct {
	ID         string   `json:"id" mapstructure:"id"`
	Admin      string   `json:"admin" mapstructure:"admin"`
	Downstream string   `json:"downstream" mapstructure:"downstream"`
	Minters    []string `json:"minters" mapstructure:"minters"`
	Pausers    []string `json:"pausers" mapstructure:"pausers"`
}

// base implements the lifecycle shared by every node: roles, pause, close
// and the downstream pointer.
type base struct {
	id         string
	kind       models.NodeKind
	env        env
	downstream string
	roles      roleTable
	paused     bool
	closed     bool
}

func newBase(e env, kind models.NodeKind, cfg NodeConfig) base {
	b := base{
		id:         cfg.ID,
		kind:       kind,
		env:        e,
		downstream: cfg.Downstream,
		roles:      make(roleTable),
	}
	b.roles.grant(RoleAdmin, cfg.Admin)
	for _, p := range cfg.Minters {
		b.roles.grant(RoleMinter, p)
	}
	for _, p := range cfg.Pausers {
		b.roles.grant(RolePauser, p)
	}
	return b
}

func baseFromRecord(e env, rec *models.NodeRecord) base {
	return base{
		id:         rec.ID,
		kind:       rec.Kind,
		env:        e,
		downstream: rec.Downstream,
		roles:      roleTableFromRecord(rec.Roles),
		paused:     rec.Paused,
		closed:     rec.Closed,
	}
}

func (b *base) ID() string            { return b.id }
func (b *base) Kind() models.NodeKind { return b.kind }
func (b *base) Downstream() string    { return b.downstream }
func (b *base) Paused() bool          { return b.paused }
func (b *base) Closed() bool          { return b.closed }

func (b *base) HasRole(role Role, principal string) bool {
	return b.roles.has(role, principal)
}

func (b *base) record() *models.NodeRecord {
	return &models.NodeRecord{
		ID:         b.id,
		Kind:       b.kind,
		Downstream: b.downstream,
		Roles:      b.roles.record(),
		Paused:     b.paused,
		Closed:     b.closed,
	}
}

func (b *base) reject(op, caller string, err error) *Error {
	return &Error{Node: b.id, Op: op, Caller: caller, Err: err}
}

func (b *base) rejectAmount(op, caller string, amount uint64, err error) *Error {
	e := b.reject(op, caller, err)
	e.Amount = amount
	return e
}

// checkActive enforces the lifecycle order: closed first, then paused.
func (b *base) checkActive(op, caller string) *Error {
	if b.closed {
		return b.reject(op, caller, ErrClosed)
	}
	if b.paused {
		return b.reject(op, caller, ErrPaused)
	}
	return nil
}

// checkRole enforces closed first, then the capability.
func (b *base) checkRole(op, caller string, role Role) *Error {
	if b.closed {
		return b.reject(op, caller, ErrClosed)
	}
	return b.requireRole(op, caller, role)
}

func (b *base) requireRole(op, caller string, role Role) *Error {
	if !b.roles.has(role, caller) {
		e := b.reject(op, caller, ErrMissingRole)
		e.Role = role
		return e
	}
	return nil
}

func (b *base) emit(kind models.EventKind, caller string, fill func(ev *models.Event)) {
	ev := models.Event{
		Node:   b.id,
		Kind:   kind,
		Caller: caller,
		Time:   b.env.Now(),
	}
	if fill != nil {
		fill(&ev)
	}
	b.env.emit(ev)
}

func (b *base) emitMinted(caller, recipient string, amount uint64) {
	b.emit(models.EventMinted, caller, func(ev *models.Event) {
		ev.Recipient = recipient
		ev.Amount = amount
	})
}

// forwardMint hands an admitted increase to the downstream target. The
// pointer is read exactly once per call.
func (b *base) forwardMint(ctx context.Context, recipient string, amount uint64) error {
	target := b.downstream
	return b.env.forward(ctx, b.id, target, recipient, amount)
}

func (b *base) Pause(caller string) error {
	if err := b.checkRole("pause", caller, RolePauser); err != nil {
		return err
	}
	if b.paused {
		return b.reject("pause", caller, ErrPaused)
	}
	b.paused = true
	b.emit(models.EventPaused, caller, nil)
	logger.Logger.Info("Node paused", zap.String("node_id", b.id), zap.String("caller", caller))
	return nil
}

func (b *base) Unpause(caller string) error {
	if err := b.checkRole("unpause", caller, RolePauser); err != nil {
		return err
	}
	if !b.paused {
		return b.reject("unpause", caller, ErrNotPaused)
	}
	b.paused = false
	b.emit(models.EventUnpaused, caller, nil)
	logger.Logger.Info("Node unpaused", zap.String("node_id", b.id), zap.String("caller", caller))
	return nil
}

// Close is one-way: every later mutating call fails with ErrClosed.
func (b *base) Close(caller string) error {
	if err := b.checkRole("close", caller, RoleAdmin); err != nil {
		return err
	}
	b.closed = true
	b.emit(models.EventClosed, caller, nil)
	logger.Logger.Info("Node closed", zap.String("node_id", b.id), zap.String("caller", caller))
	return nil
}

func (b *base) UpdateDownstream(caller, downstream string) error {
	if err := b.checkRole("update_downstream", caller, RoleAdmin); err != nil {
		return err
	}
	if downstream == "" {
		return b.reject("update_downstream", caller, ErrInvalidDownstream)
	}
	b.downstream = downstream
	b.emit(models.EventDownstreamUpdated, caller, func(ev *models.Event) {
		ev.Detail = downstream
	})
	return nil
}

func (b *base) GrantRole(caller string, role Role, principal string) error {
	if err := b.checkRole("grant_role", caller, RoleAdmin); err != nil {
		return err
	}
	if _, err := ParseRole(string(role)); err != nil {
		return b.reject("grant_role", caller, err)
	}
	if principal == "" {
		return b.reject("grant_role", caller, ErrInvalidPrincipal)
	}
	if b.roles.grant(role, principal) {
		b.emit(models.EventRoleGranted, caller, func(ev *models.Event) {
			ev.Recipient = principal
			ev.Detail = string(role)
		})
	}
	return nil
}

func (b *base) RevokeRole(caller string, role Role, principal string) error {
	if err := b.checkRole("revoke_role", caller, RoleAdmin); err != nil {
		return err
	}
	if _, err := ParseRole(string(role)); err != nil {
		return b.reject("revoke_role", caller, err)
	}
	if b.roles.revoke(role, principal) {
		b.emit(models.EventRoleRevoked, caller, func(ev *models.Event) {
			ev.Recipient = principal
			ev.Detail = string(role)
		})
	}
	return nil
}

func validateNodeConfig(cfg NodeConfig, needDownstream bool) error {
	if cfg.Admin == "" {
		return ErrInvalidAdmin
	}
	if needDownstream && cfg.Downstream == "" {
		return ErrInvalidDownstream
	}
	return nil
}
