package repository

import (
	"encoding/json"
	"fmt"

	"mintgate/db"
	"mintgate/models"

	"github.com/syndtr/goleveldb/leveldb"
)

const (
	nodePrefix  = "node:"
	eventPrefix = "event:"
)

// It abstracts the storage layer from the chain logic
type NodeRepositoryInterface interface {
	GetAllNodes() ([]*models.NodeRecord, error)
	GetEvents(nodeID string) ([]*models.Event, error)
	LastEventSeq() (uint64, error)
	// Commit stores node snapshots and appends events as one atomic write
	Commit(nodes []*models.NodeRecord, events []*models.Event) error
}

// NodeRepository implements the NodeRepositoryInterface using LevelDB as the storage backend
type NodeRepository struct {
	db *db.LevelDB
}

// NewNodeRepository creates and returns a new NodeRepository instance
func NewNodeRepository(db *db.LevelDB) *NodeRepository {
	return &NodeRepository{db: db}
}

func nodeKey(id string) []byte {
	return []byte(nodePrefix + id)
}

// zero-padded so that lexical key order matches emission order
func eventKey(ev *models.Event) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", eventPrefix, ev.Node, ev.Seq))
}

// GetAllNodes retrieves all node snapshots from the LevelDB storage
func (r *NodeRepository) GetAllNodes() ([]*models.NodeRecord, error) {
	iter := r.db.NewPrefixIterator([]byte(nodePrefix))
	defer iter.Release()

	var nodes []*models.NodeRecord
	for iter.Next() {
		var node models.NodeRecord
		if err := json.Unmarshal(iter.Value(), &node); err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}
	return nodes, iter.Error()
}

// GetEvents returns the notification history of one node in emission order
func (r *NodeRepository) GetEvents(nodeID string) ([]*models.Event, error) {
	iter := r.db.NewPrefixIterator([]byte(eventPrefix + nodeID + ":"))
	defer iter.Release()

	var events []*models.Event
	for iter.Next() {
		var ev models.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return nil, err
		}
		// ids that share a prefix, e.g. "a" and "a:b"
		if ev.Node != nodeID {
			continue
		}
		events = append(events, &ev)
	}
	return events, iter.Error()
}

// LastEventSeq returns the highest event sequence number stored, or 0
func (r *NodeRepository) LastEventSeq() (uint64, error) {
	iter := r.db.NewPrefixIterator([]byte(eventPrefix))
	defer iter.Release()

	var last uint64
	for iter.Next() {
		var ev models.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			return 0, err
		}
		if ev.Seq > last {
			last = ev.Seq
		}
	}
	return last, iter.Error()
}

// Commit writes all snapshots and events in a single LevelDB batch
func (r *NodeRepository) Commit(nodes []*models.NodeRecord, events []*models.Event) error {
	batch := new(leveldb.Batch)
	for _, node := range nodes {
		data, err := json.Marshal(node)
		if err != nil {
			return fmt.Errorf("encode node %s: %w", node.ID, err)
		}
		batch.Put(nodeKey(node.ID), data)
	}
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", ev.Seq, err)
		}
		batch.Put(eventKey(ev), data)
	}
	return r.db.Write(batch)
}
