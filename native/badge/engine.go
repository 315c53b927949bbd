package badge

import (
	"fmt"
	"math"
	"time"

	"github.com/holiman/uint256"

	"streambadge/core/events"
)

// UpdateKind classifies what the synchronizer decided about one receiver.
type UpdateKind uint8

const (
	// UpdateContinuing marks a receiver present in both lists.
	UpdateContinuing UpdateKind = iota
	// UpdateRemoved marks a receiver dropped by the new list; its badge
	// expires at the synchronization time.
	UpdateRemoved
	// UpdateAdded marks a receiver the new list introduces.
	UpdateAdded
)

// String implements fmt.Stringer.
func (k UpdateKind) String() string {
	switch k {
	case UpdateContinuing:
		return "continuing"
	case UpdateRemoved:
		return "removed"
	case UpdateAdded:
		return "added"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Effect reports what applying a status update did to the store.
type Effect uint8

const (
	// EffectUpdated means an existing record was overwritten (or left
	// untouched because the new values were byte-identical).
	EffectUpdated Effect = iota
	// EffectMinted means the record was created and the soulbound token
	// minted within the same call.
	EffectMinted
)

// StatusUpdate is one synchronizer instruction: the state the badge for
// Account must display after the call.
type StatusUpdate struct {
	Account AccountID
	Asset   [20]byte
	Rate    *uint256.Int
	Start   uint32
	End     uint32
	Kind    UpdateKind
}

// engineState is the slice of persistent badge state the engine mutates.
type engineState interface {
	BadgeRecord(id BadgeID) (*Record, bool, error)
	PutBadgeRecord(id BadgeID, record *Record) error
	BadgeDisplay(account AccountID) (*DisplayConfig, bool, error)
	PutBadgeDisplay(account AccountID, cfg *DisplayConfig) error
}

// TokenRegistry is the slice of the soulbound token store the engine drives.
// Mint must fail when the identifier already has an owner; the engine never
// requests a second mint because record presence gates the call.
type TokenRegistry interface {
	Mint(owner [20]byte, id [32]byte) error
}

// Engine wires the receiver-list synchronizer with persistence, token minting
// and event emission. It holds no locks: the host serializes all
// state-mutating calls and hands the engine a speculative state, so a call
// either fully commits or leaves nothing behind.
type Engine struct {
	state   engineState
	tokens  TokenRegistry
	emitter events.Emitter
	checker ControlChecker
	driver  uint32
	nowFn   func() int64
}

// NewEngine constructs a badge engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		checker: AddressControl{},
		driver:  DefaultDriver,
		nowFn: func() int64 {
			return time.Now().Unix()
		},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokens configures the soulbound token store the engine mints through.
func (e *Engine) SetTokens(tokens TokenRegistry) { e.tokens = tokens }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetControlChecker overrides the predicate gating display-config edits.
func (e *Engine) SetControlChecker(checker ControlChecker) {
	if checker == nil {
		e.checker = AddressControl{}
		return
	}
	e.checker = checker
}

// SetDriver overrides the identifier namespace tag.
func (e *Engine) SetDriver(driver uint32) { e.driver = driver }

// Driver returns the identifier namespace tag in use.
func (e *Engine) Driver() uint32 {
	if e == nil {
		return DefaultDriver
	}
	return e.driver
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

// now returns the engine clock clamped into the 32-bit window domain.
func (e *Engine) now() uint32 {
	var unix int64
	if e == nil || e.nowFn == nil {
		unix = time.Now().Unix()
	} else {
		unix = e.nowFn()
	}
	if unix < 0 {
		return 0
	}
	if unix > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(unix)
}

// SyncReceivers reconciles badge state with a holder's newly declared
// receiver list. previous must be the list a prior call committed (or empty);
// next is validated against the submission contract before anything else
// happens. maxEnd is the stream-exhaustion time the funding ledger computed
// for the new configuration.
//
// Both lists are walked in lock-step and every distinct account is classified
// exactly once as continuing, removed or added. The resulting updates are
// applied to the store in emission order, minting the soulbound token the
// first time a badge identifier is touched. Any error aborts the call before
// the host commits, so no partial state is ever observable.
func (e *Engine) SyncReceivers(holder [20]byte, asset [20]byte, previous, next []Receiver, maxEnd uint32) ([]StatusUpdate, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.tokens == nil {
		return nil, ErrNilRegistry
	}
	if err := validateReceivers(next); err != nil {
		return nil, err
	}

	now := e.now()
	updates := make([]StatusUpdate, 0, len(previous)+len(next))
	i, j := 0, 0
	for i < len(previous) || j < len(next) {
		var kind UpdateKind
		switch {
		case i >= len(previous):
			kind = UpdateAdded
		case j >= len(next):
			kind = UpdateRemoved
		default:
			switch cmp := previous[i].Account.Compare(next[j].Account); {
			case cmp == 0:
				kind = UpdateContinuing
			case cmp < 0:
				kind = UpdateRemoved
			default:
				kind = UpdateAdded
			}
		}

		switch kind {
		case UpdateRemoved:
			updates = append(updates, removedUpdate(previous[i], asset, now))
			i++
		case UpdateAdded:
			updates = append(updates, liveUpdate(next[j], asset, now, maxEnd, UpdateAdded))
			j++
		default:
			updates = append(updates, liveUpdate(next[j], asset, now, maxEnd, UpdateContinuing))
			i++
			j++
		}
	}

	for idx := range updates {
		effect, id, err := e.apply(holder, &updates[idx])
		if err != nil {
			return nil, err
		}
		if effect == EffectMinted {
			e.emit(mintedEvent(id, holder))
		}
		e.emit(statusChangedEvent(holder, id, &updates[idx]))
	}
	return updates, nil
}

// liveUpdate computes the instruction for a receiver the new list keeps or
// introduces. The window opens no earlier than now and runs to the declared
// end, capped by the funding horizon.
func liveUpdate(r Receiver, asset [20]byte, now, maxEnd uint32, kind UpdateKind) StatusUpdate {
	start, end := streamWindow(r.Config, now, maxEnd, now, maxWindowTime)
	return StatusUpdate{
		Account: r.Account,
		Asset:   asset,
		Rate:    r.Config.Rate(),
		Start:   start,
		End:     end,
		Kind:    kind,
	}
}

// removedUpdate computes the instruction for a receiver the new list drops:
// the window is forced shut at now while the rate keeps its last declared
// value for display purposes.
func removedUpdate(r Receiver, asset [20]byte, now uint32) StatusUpdate {
	start := r.Config.WindowStart()
	if start == 0 || start > now {
		start = now
	}
	return StatusUpdate{
		Account: r.Account,
		Asset:   asset,
		Rate:    r.Config.Rate(),
		Start:   start,
		End:     now,
		Kind:    UpdateRemoved,
	}
}

// apply lands one status update in the store. The first touch of a badge
// identifier creates its record and mints the soulbound token within the same
// call; later touches overwrite rate and window, skipping the physical write
// when the stored record is already byte-identical.
func (e *Engine) apply(holder [20]byte, update *StatusUpdate) (Effect, BadgeID, error) {
	id := BadgeIDFor(e.driver, holder, update.Account, update.Asset)
	record := &Record{
		Account:     update.Account,
		Asset:       update.Asset,
		Rate:        update.Rate,
		ActiveFrom:  update.Start,
		ActiveUntil: update.End,
	}

	existing, exists, err := e.state.BadgeRecord(id)
	if err != nil {
		return EffectUpdated, id, err
	}
	if !exists {
		if err := e.state.PutBadgeRecord(id, record); err != nil {
			return EffectUpdated, id, err
		}
		if err := e.tokens.Mint(holder, id); err != nil {
			return EffectUpdated, id, err
		}
		return EffectMinted, id, nil
	}
	if existing.Equal(record) {
		return EffectUpdated, id, nil
	}
	if err := e.state.PutBadgeRecord(id, record); err != nil {
		return EffectUpdated, id, err
	}
	return EffectUpdated, id, nil
}

// BadgeRecordFor returns the stored record for a relationship, if any.
func (e *Engine) BadgeRecordFor(holder [20]byte, account AccountID, asset [20]byte) (*Record, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, ErrNilState
	}
	return e.state.BadgeRecord(BadgeIDFor(e.driver, holder, account, asset))
}

// BadgeRecordByID returns the stored record under id, if any.
func (e *Engine) BadgeRecordByID(id BadgeID) (*Record, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, ErrNilState
	}
	return e.state.BadgeRecord(id)
}
