package core

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"streambadge/core/events"
	"streambadge/core/state"
	"streambadge/native/badge"
	"streambadge/native/soulbound"
	"streambadge/storage"
	"streambadge/storage/trie"
)

// Node owns the committed badge state and provides the host guarantees the
// engine relies on: all state-mutating calls are serialized by one mutex and
// each call executes against a speculative copy of the state trie. A call
// that succeeds commits the copy, flushes the flat journal atomically and
// publishes its events; a call that fails discards the copy, so no partial
// state is ever observable.
//
// Readers never touch the canonical trie: they resolve against the flat
// journal, which only ever contains committed data.
type Node struct {
	db     storage.Database
	logger *slog.Logger

	mu   sync.Mutex
	trie *trie.Trie
	seq  uint64

	driver uint32
	nowFn  func() int64

	statusStreamMu      sync.Mutex
	statusStreamSubs    map[uint64]chan BadgeStatusUpdate
	statusStreamHistory []BadgeStatusUpdate
	statusStreamSeq     uint64
	statusStreamNextID  uint64
}

// NewNode opens the badge state stored in db, replaying the flat journal into
// a fresh trie.
func NewNode(db storage.Database) (*Node, error) {
	tr, seq, err := state.LoadState(db)
	if err != nil {
		return nil, err
	}
	return &Node{
		db:     db,
		logger: slog.Default(),
		trie:   tr,
		seq:    seq,
		driver: badge.DefaultDriver,
		nowFn: func() int64 {
			return time.Now().Unix()
		},
	}, nil
}

// SetLogger overrides the node logger.
func (n *Node) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	n.logger = logger
}

// SetDriver overrides the identifier namespace used for derived ids.
func (n *Node) SetDriver(driver uint32) { n.driver = driver }

// Driver returns the identifier namespace in use.
func (n *Node) Driver() uint32 { return n.driver }

// SetNowFunc overrides the node clock for deterministic testing.
func (n *Node) SetNowFunc(now func() int64) {
	if now == nil {
		n.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	n.nowFn = now
}

// StateRoot returns the last committed trie root.
func (n *Node) StateRoot() common.Hash {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.trie.Root()
}

// CommitSequence returns the number of committed state transitions.
func (n *Node) CommitSequence() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq
}

// newEngine wires a badge engine against the supplied manager. Every call
// gets a fresh engine so speculative state never leaks between calls.
func (n *Node) newEngine(manager *state.Manager, capture events.Emitter) *badge.Engine {
	registry := soulbound.NewRegistry()
	registry.SetState(manager)
	engine := badge.NewEngine()
	engine.SetState(manager)
	engine.SetTokens(registry)
	engine.SetEmitter(capture)
	engine.SetDriver(n.driver)
	engine.SetNowFunc(n.nowFn)
	return engine
}

// commit lands a speculative trie plus its staged journal writes and returns
// the new root. Callers hold n.mu.
func (n *Node) commit(speculative *trie.Trie, manager *state.Manager) (common.Hash, error) {
	parent := n.trie.Root()
	next := n.seq + 1
	root, err := speculative.Commit(parent, next)
	if err != nil {
		return common.Hash{}, err
	}
	batch := manager.Pending()
	state.StageMeta(batch, root, next)
	if err := n.db.Write(batch); err != nil {
		return common.Hash{}, err
	}
	n.trie = speculative
	n.seq = next
	return root, nil
}

// SyncReceivers reconciles a holder's badge state with a newly declared
// receiver list. See badge.Engine.SyncReceivers for the classification and
// window semantics; the node adds serialization, all-or-nothing persistence
// and event publication.
func (n *Node) SyncReceivers(holder [20]byte, asset [20]byte, previous, next []badge.Receiver, maxEnd uint32) ([]badge.StatusUpdate, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	speculative, err := n.trie.Copy()
	if err != nil {
		return nil, err
	}
	manager := state.NewManager(speculative)
	capture := &events.Capture{}
	engine := n.newEngine(manager, capture)

	updates, err := engine.SyncReceivers(holder, asset, previous, next, maxEnd)
	if err != nil {
		return nil, err
	}

	root, err := n.commit(speculative, manager)
	if err != nil {
		return nil, err
	}

	digest := badge.ReceiversDigest(next)
	n.logger.Info("receivers synchronized",
		slog.String("root", root.Hex()),
		slog.Uint64("sequence", n.seq),
		slog.Int("updates", len(updates)),
		slog.String("digest", hexDigest(digest)),
	)
	n.publishEvents(capture.Events())
	return updates, nil
}

// SetBadgeDisplay updates an account's display configuration, gated by the
// control checker.
func (n *Node) SetBadgeDisplay(caller [20]byte, account badge.AccountID, cfg badge.DisplayConfig) (badge.DisplayConfig, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	speculative, err := n.trie.Copy()
	if err != nil {
		return badge.DisplayConfig{}, err
	}
	manager := state.NewManager(speculative)
	capture := &events.Capture{}
	engine := n.newEngine(manager, capture)

	stored, err := engine.SetDisplay(caller, account, cfg)
	if err != nil {
		return badge.DisplayConfig{}, err
	}
	if _, err := n.commit(speculative, manager); err != nil {
		return badge.DisplayConfig{}, err
	}
	n.publishEvents(capture.Events())
	return stored, nil
}

// AccountIDFor derives the address-controlled account id under the node's
// driver namespace.
func (n *Node) AccountIDFor(addr [20]byte) badge.AccountID {
	return badge.AccountIDFor(n.driver, addr)
}

// BadgeIDFor derives the badge id of a relationship under the node's driver
// namespace.
func (n *Node) BadgeIDFor(holder [20]byte, account badge.AccountID, asset [20]byte) badge.BadgeID {
	return badge.BadgeIDFor(n.driver, holder, account, asset)
}

// BadgeRecord returns the committed record under id, if any.
func (n *Node) BadgeRecord(id badge.BadgeID) (*badge.Record, bool, error) {
	return state.ReadBadgeRecord(n.db, id)
}

// BadgeRecordByRelationship resolves the badge id for (holder, account,
// asset) and returns its committed record, if any.
func (n *Node) BadgeRecordByRelationship(holder [20]byte, account badge.AccountID, asset [20]byte) (badge.BadgeID, *badge.Record, bool, error) {
	id := n.BadgeIDFor(holder, account, asset)
	record, ok, err := state.ReadBadgeRecord(n.db, id)
	return id, record, ok, err
}

// BadgeOwner returns the soulbound token owner for id, if minted.
func (n *Node) BadgeOwner(id badge.BadgeID) ([20]byte, bool, error) {
	return state.ReadTokenOwner(n.db, id)
}

// BadgeDisplay returns the committed display configuration for account.
func (n *Node) BadgeDisplay(account badge.AccountID) (*badge.DisplayConfig, bool, error) {
	return state.ReadBadgeDisplay(n.db, account)
}

// BadgeTokenURI renders the metadata URI for a committed badge.
func (n *Node) BadgeTokenURI(id badge.BadgeID) (string, error) {
	record, ok, err := state.ReadBadgeRecord(n.db, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", badge.ErrRecordNotFound
	}
	display, _, err := state.ReadBadgeDisplay(n.db, record.Account)
	if err != nil {
		return "", err
	}
	return badge.TokenURI(id, record, display, n.nowUnix32())
}

// NowUnix reports the node clock clamped to the 32-bit window domain.
func (n *Node) NowUnix() uint32 {
	return n.nowUnix32()
}

func (n *Node) nowUnix32() uint32 {
	unix := n.nowFn()
	if unix < 0 {
		return 0
	}
	if unix > 1<<32-1 {
		return 1<<32 - 1
	}
	return uint32(unix)
}

func hexDigest(digest [32]byte) string {
	return common.Bytes2Hex(digest[:])
}
