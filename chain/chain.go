package chain

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mintgate/logger"
	"mintgate/models"
	"mintgate/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxDepth bounds how many forwarding hops one call may take.
const DefaultMaxDepth = 32

type hopsKey struct{}

// Chain is the arena every node lives in. It resolves downstream ids,
// serializes all operations behind one mutex and persists the outcome of
// each successful operation as a single atomic commit.
type Chain struct {
	mux      sync.Mutex
	repo     repository.NodeRepositoryInterface
	clock    Clock
	maxDepth int
	nodes    map[string]Node
	seq      uint64
	pending  []models.Event // events emitted by the operation in progress
	receipt  Receipt        // set when the operation in progress queued a request
}

// Receipt tells a caller of Mint where its increase was queued. It is zero
// when the increase reached the terminal counter directly.
type Receipt struct {
	Queue     string `json:"queue,omitempty"`
	RequestID uint64 `json:"request_id,omitempty"`
}

// Queued reports whether a delay node on the path held the increase back.
func (r Receipt) Queued() bool {
	return r.RequestID != 0
}

func NewChain(repo repository.NodeRepositoryInterface, clock Clock, maxDepth int) *Chain {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Chain{
		repo:     repo,
		clock:    clock,
		maxDepth: maxDepth,
		nodes:    make(map[string]Node),
	}
}

// Load rebuilds the arena from the repository. It replaces any node already
// held in memory with the same id.
func (c *Chain) Load() error {
	c.mux.Lock()
	defer c.mux.Unlock()

	records, err := c.repo.GetAllNodes()
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}
	for _, rec := range records {
		n, err := fromRecord(c, rec)
		if err != nil {
			return err
		}
		c.nodes[rec.ID] = n
	}
	seq, err := c.repo.LastEventSeq()
	if err != nil {
		return fmt.Errorf("load event sequence: %w", err)
	}
	c.seq = seq
	logger.Logger.Info("Chain loaded", zap.Int("nodes", len(records)), zap.Uint64("last_event_seq", seq))
	return nil
}

func fromRecord(e env, rec *models.NodeRecord) (Node, error) {
	switch rec.Kind {
	case models.KindLedger:
		return ledgerFromRecord(e, rec), nil
	case models.KindCeiling:
		return ceilingFromRecord(e, rec), nil
	case models.KindWindow:
		return windowFromRecord(e, rec), nil
	case models.KindDelay:
		return delayFromRecord(e, rec), nil
	}
	return nil, fmt.Errorf("node %s: unknown kind %q", rec.ID, rec.Kind)
}

// Now is the logical time shared by every node in the chain.
func (c *Chain) Now() int64 {
	return c.clock.Now()
}

func (c *Chain) emit(ev models.Event) {
	c.pending = append(c.pending, ev)
}

func (c *Chain) queued(node string, requestID uint64) {
	c.receipt = Receipt{Queue: node, RequestID: requestID}
}

func (c *Chain) forward(ctx context.Context, from, to, recipient string, amount uint64) error {
	hops, _ := ctx.Value(hopsKey{}).(int)
	if hops >= c.maxDepth {
		return &Error{Node: from, Op: "forward", Amount: amount, Err: ErrChainTooDeep}
	}
	next, ok := c.nodes[to]
	if !ok {
		return &Error{Node: to, Op: "mint", Caller: from, Amount: amount, Err: ErrUnknownNode}
	}
	return next.Mint(context.WithValue(ctx, hopsKey{}, hops+1), from, recipient, amount)
}

func (c *Chain) node(id string) (Node, error) {
	n, ok := c.nodes[id]
	if !ok {
		return nil, &Error{Node: id, Op: "lookup", Err: ErrUnknownNode}
	}
	return n, nil
}

func nodeAs[T Node](n Node, op, caller string) (T, error) {
	t, ok := n.(T)
	if !ok {
		var zero T
		return zero, &Error{Node: n.ID(), Op: op, Caller: caller, Err: ErrUnsupported}
	}
	return t, nil
}

// snapshotPath records the entry node and everything downstream of it as
// they are before an operation runs. A nil record marks an id with no node.
func (c *Chain) snapshotPath(entry string) map[string]*models.NodeRecord {
	snap := make(map[string]*models.NodeRecord)
	id := entry
	for i := 0; i <= c.maxDepth && id != ""; i++ {
		if _, seen := snap[id]; seen {
			break
		}
		n, ok := c.nodes[id]
		if !ok {
			snap[id] = nil
			break
		}
		snap[id] = n.Record()
		id = n.Downstream()
	}
	return snap
}

func (c *Chain) restore(snap map[string]*models.NodeRecord) {
	for id, rec := range snap {
		if rec == nil {
			delete(c.nodes, id)
			continue
		}
		n, err := fromRecord(c, rec)
		if err != nil {
			logger.Logger.Error("Failed to restore node", zap.String("node_id", id), zap.Error(err))
			continue
		}
		c.nodes[id] = n
	}
}

// run executes fn as one atomic unit: either every node change it made is
// committed together with its events, or none of them survive. The caller
// must hold c.mux.
func (c *Chain) run(op, entry string, fn func() error) error {
	snap := c.snapshotPath(entry)
	c.pending = nil

	if err := fn(); err != nil {
		c.pending = nil
		logger.Logger.Info("Operation rejected",
			zap.String("op", op), zap.String("node_id", entry),
			zap.String("reason", Reason(err)), zap.Error(err))
		return err
	}
	if len(c.pending) == 0 {
		return nil
	}

	seq := c.seq
	events := make([]*models.Event, 0, len(c.pending))
	var touched []string
	seen := make(map[string]bool)
	for _, ev := range c.pending {
		seq++
		ev.Seq = seq
		events = append(events, &ev)
		if !seen[ev.Node] {
			seen[ev.Node] = true
			touched = append(touched, ev.Node)
		}
	}
	records := make([]*models.NodeRecord, 0, len(touched))
	for _, id := range touched {
		if n, ok := c.nodes[id]; ok {
			records = append(records, n.Record())
		}
	}
	c.pending = nil

	if err := c.repo.Commit(records, events); err != nil {
		logger.Logger.Error("Failed to commit operation",
			zap.String("op", op), zap.String("node_id", entry), zap.Error(err))
		c.restore(snap)
		return fmt.Errorf("commit %s on %s: %w", op, entry, err)
	}
	c.seq = seq
	return nil
}

func (c *Chain) do(op, nodeID string, fn func(n Node) error) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.run(op, nodeID, func() error {
		n, err := c.node(nodeID)
		if err != nil {
			return err
		}
		return fn(n)
	})
}

func (c *Chain) add(cfg *NodeConfig, build func() (Node, error)) (string, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	id := cfg.ID
	if _, exists := c.nodes[id]; exists {
		return "", &Error{Node: id, Op: "create", Caller: cfg.Admin, Err: ErrDuplicateNode}
	}
	err := c.run("create", id, func() error {
		n, err := build()
		if err != nil {
			return &Error{Node: id, Op: "create", Caller: cfg.Admin, Err: err}
		}
		c.nodes[id] = n
		c.emit(models.Event{
			Node:   id,
			Kind:   models.EventCreated,
			Caller: cfg.Admin,
			Detail: string(n.Kind()),
			Time:   c.Now(),
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	logger.Logger.Info("Node created", zap.String("node_id", id), zap.String("admin", cfg.Admin))
	return id, nil
}

// AddLedger creates a terminal counter and returns its id.
func (c *Chain) AddLedger(cfg LedgerConfig) (string, error) {
	return c.add(&cfg.NodeConfig, func() (Node, error) { return newLedgerNode(c, cfg) })
}

// AddCeiling creates a ceiling node and returns its id.
func (c *Chain) AddCeiling(cfg CeilingConfig) (string, error) {
	return c.add(&cfg.NodeConfig, func() (Node, error) { return newCeilingNode(c, cfg) })
}

// AddWindow creates a rate-limiting node and returns its id.
func (c *Chain) AddWindow(cfg WindowConfig) (string, error) {
	return c.add(&cfg.NodeConfig, func() (Node, error) { return newWindowNode(c, cfg) })
}

// AddDelay creates a delay node and returns its id.
func (c *Chain) AddDelay(cfg DelayConfig) (string, error) {
	return c.add(&cfg.NodeConfig, func() (Node, error) { return newDelayNode(c, cfg) })
}

// Mint submits an increase to the given node. When a delay node on the path
// queues the increase, the receipt names that node and the request id.
func (c *Chain) Mint(ctx context.Context, nodeID, caller, recipient string, amount uint64) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	c.mux.Lock()
	defer c.mux.Unlock()

	c.receipt = Receipt{}
	err := c.run("mint", nodeID, func() error {
		n, err := c.node(nodeID)
		if err != nil {
			return err
		}
		return n.Mint(ctx, caller, recipient, amount)
	})
	if err != nil {
		return Receipt{}, err
	}
	return c.receipt, nil
}

// ExecuteMint forwards a matured request held by a delay node.
func (c *Chain) ExecuteMint(ctx context.Context, nodeID, caller string, requestID uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.do("execute_mint", nodeID, func(n Node) error {
		d, err := nodeAs[*DelayNode](n, "execute_mint", caller)
		if err != nil {
			return err
		}
		return d.ExecuteMint(ctx, caller, requestID)
	})
}

// VetoMintRequest rejects a pending request for good.
func (c *Chain) VetoMintRequest(nodeID, caller string, requestID uint64) error {
	return c.do("veto", nodeID, func(n Node) error {
		d, err := nodeAs[*DelayNode](n, "veto", caller)
		if err != nil {
			return err
		}
		return d.VetoMintRequest(caller, requestID)
	})
}

// UpdateDelay changes a delay node's delay, including for pending requests.
func (c *Chain) UpdateDelay(nodeID, caller string, delay int64) error {
	return c.do("update_delay", nodeID, func(n Node) error {
		d, err := nodeAs[*DelayNode](n, "update_delay", caller)
		if err != nil {
			return err
		}
		return d.UpdateDelay(caller, delay)
	})
}

// UpdateLimit changes a window node's per-window limit.
func (c *Chain) UpdateLimit(nodeID, caller string, limit uint64) error {
	return c.do("update_limit", nodeID, func(n Node) error {
		w, err := nodeAs[*WindowNode](n, "update_limit", caller)
		if err != nil {
			return err
		}
		return w.UpdateLimit(caller, limit)
	})
}

// UpdateWindowLength changes a window node's length and restarts its window.
func (c *Chain) UpdateWindowLength(nodeID, caller string, length int64) error {
	return c.do("update_window_length", nodeID, func(n Node) error {
		w, err := nodeAs[*WindowNode](n, "update_window_length", caller)
		if err != nil {
			return err
		}
		return w.UpdateWindowLength(caller, length)
	})
}

// Pause stops a node from admitting or executing increases.
func (c *Chain) Pause(nodeID, caller string) error {
	return c.do("pause", nodeID, func(n Node) error { return n.Pause(caller) })
}

// Unpause resumes a paused node.
func (c *Chain) Unpause(nodeID, caller string) error {
	return c.do("unpause", nodeID, func(n Node) error { return n.Unpause(caller) })
}

// Close permanently disables every mutating operation on a node.
func (c *Chain) Close(nodeID, caller string) error {
	return c.do("close", nodeID, func(n Node) error { return n.Close(caller) })
}

// UpdateDownstream repoints a node; the new target is resolved on the next forward.
func (c *Chain) UpdateDownstream(nodeID, caller, downstream string) error {
	return c.do("update_downstream", nodeID, func(n Node) error { return n.UpdateDownstream(caller, downstream) })
}

// GrantRole gives principal a role on a node. Granting an existing role is a no-op.
func (c *Chain) GrantRole(nodeID, caller string, role Role, principal string) error {
	return c.do("grant_role", nodeID, func(n Node) error { return n.GrantRole(caller, role, principal) })
}

// RevokeRole removes a role from principal. Revoking a missing grant is a no-op.
func (c *Chain) RevokeRole(nodeID, caller string, role Role, principal string) error {
	return c.do("revoke_role", nodeID, func(n Node) error { return n.RevokeRole(caller, role, principal) })
}

// Read-only queries below never mutate state and ignore paused/closed.

// Len is the number of nodes in the arena.
func (c *Chain) Len() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return len(c.nodes)
}

// Node returns a snapshot of one node.
func (c *Chain) Node(id string) (*models.NodeRecord, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	n, err := c.node(id)
	if err != nil {
		return nil, err
	}
	return n.Record(), nil
}

// Nodes returns a snapshot of every node ordered by id.
func (c *Chain) Nodes() []*models.NodeRecord {
	c.mux.Lock()
	defer c.mux.Unlock()
	out := make([]*models.NodeRecord, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n.Record())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasRole reports whether principal holds role on a node.
func (c *Chain) HasRole(nodeID string, role Role, principal string) (bool, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	n, err := c.node(nodeID)
	if err != nil {
		return false, err
	}
	return n.HasRole(role, principal), nil
}

// Request returns one request of a delay node.
func (c *Chain) Request(nodeID string, requestID uint64) (*models.MintRequest, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	n, err := c.node(nodeID)
	if err != nil {
		return nil, err
	}
	d, err := nodeAs[*DelayNode](n, "get_request", "")
	if err != nil {
		return nil, err
	}
	return d.GetRequest(requestID)
}

// Requests returns every request of a delay node in id order.
func (c *Chain) Requests(nodeID string) ([]*models.MintRequest, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	n, err := c.node(nodeID)
	if err != nil {
		return nil, err
	}
	d, err := nodeAs[*DelayNode](n, "list_requests", "")
	if err != nil {
		return nil, err
	}
	return d.Requests(), nil
}

// PendingRequests returns the requests of a delay node neither executed nor vetoed.
func (c *Chain) PendingRequests(nodeID string) ([]*models.MintRequest, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	n, err := c.node(nodeID)
	if err != nil {
		return nil, err
	}
	d, err := nodeAs[*DelayNode](n, "list_requests", "")
	if err != nil {
		return nil, err
	}
	return d.PendingRequests(), nil
}

// Remaining reports what a ceiling node can still admit over its lifetime.
func (c *Chain) Remaining(nodeID string) (uint64, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	n, err := c.node(nodeID)
	if err != nil {
		return 0, err
	}
	cn, err := nodeAs[*CeilingNode](n, "remaining", "")
	if err != nil {
		return 0, err
	}
	return cn.Remaining(), nil
}

// Available reports the allowance left in a window node's current window.
func (c *Chain) Available(nodeID string) (uint64, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	n, err := c.node(nodeID)
	if err != nil {
		return 0, err
	}
	w, err := nodeAs[*WindowNode](n, "available", "")
	if err != nil {
		return 0, err
	}
	return w.Available(), nil
}

// BalanceOf reports the balance of who on a ledger node.
func (c *Chain) BalanceOf(nodeID, who string) (uint64, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	n, err := c.node(nodeID)
	if err != nil {
		return 0, err
	}
	l, err := nodeAs[*LedgerNode](n, "balance_of", "")
	if err != nil {
		return 0, err
	}
	return l.BalanceOf(who), nil
}

// TotalSupply reports the terminal counter of a ledger node.
func (c *Chain) TotalSupply(nodeID string) (uint64, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	n, err := c.node(nodeID)
	if err != nil {
		return 0, err
	}
	l, err := nodeAs[*LedgerNode](n, "total_supply", "")
	if err != nil {
		return 0, err
	}
	return l.TotalSupply(), nil
}

// Events returns the persisted notification history of a node.
func (c *Chain) Events(nodeID string) ([]*models.Event, error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	if _, err := c.node(nodeID); err != nil {
		return nil, err
	}
	return c.repo.GetEvents(nodeID)
}
