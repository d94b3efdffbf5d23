// Package reservations is the application lifecycle engine: the state machine that moves
// matches, slots, and applications through apply, confirm, reject, withdraw, waitlist
// promotion and lock expiry.
//
// Every command runs its entity transitions in one database transaction. Transitions that
// can race are conditional updates whose affected-row count is checked, and commands that
// change how many players a match has first lock the match row. Side effects (notifications,
// chat, broadcasts, cache eviction) are collected while the transaction runs and emitted
// only after it commits; their failures never reach the caller.
package reservations

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/trentd187/match-reservations/internal/conflict"
	"github.com/trentd187/match-reservations/internal/events"
	"github.com/trentd187/match-reservations/internal/lockstore"
	"github.com/trentd187/match-reservations/internal/models"
	"github.com/trentd187/match-reservations/internal/store"
)

// ConflictChecker is the schedule conflict detector.
type ConflictChecker interface {
	HasConfirmedConflict(ctx context.Context, userID uuid.UUID, date string, candidate conflict.TimeRange) (bool, error)
}

// Emitter accepts side effects for asynchronous delivery.
type Emitter interface {
	Emit(evts ...events.Event)
}

// DetailCache stores serialized match views. Fills are guarded by a generation that
// Invalidate bumps, see cache.MatchCache.
type DetailCache interface {
	Get(ctx context.Context, matchID uuid.UUID) ([]byte, bool, error)
	Generation(ctx context.Context, matchID uuid.UUID) (int64, error)
	SetIfCurrent(ctx context.Context, matchID uuid.UUID, data []byte, gen int64) (bool, error)
	Invalidate(ctx context.Context, matchID uuid.UUID) error
}

// Recorder receives command metrics.
type Recorder interface {
	ObserveCommand(operation, result string, d time.Duration)
	LockStoreError()
}

// Deps are the engine's collaborators. Only Store is required.
type Deps struct {
	Store     *store.Store
	Locks     lockstore.Locker
	Conflicts ConflictChecker
	Events    Emitter
	Cache     DetailCache
	Metrics   Recorder
}

// Options tunes the engine.
type Options struct {
	LockTTL       time.Duration    // lifetime of an advisory slot lock
	OverlapBuffer time.Duration    // widening applied before pruning overlapping applications
	Now           func() time.Time // clock; defaults to time.Now
}

type Engine struct {
	store     *store.Store
	locks     lockstore.Locker
	conflicts ConflictChecker
	events    Emitter
	cache     DetailCache
	metrics   Recorder
	log       zerolog.Logger

	lockTTL       time.Duration
	overlapBuffer time.Duration
	clock         func() time.Time
}

func New(deps Deps, opts Options, log zerolog.Logger) *Engine {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Hour
	}
	if opts.OverlapBuffer < 0 {
		opts.OverlapBuffer = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{
		store:         deps.Store,
		locks:         deps.Locks,
		conflicts:     deps.Conflicts,
		events:        deps.Events,
		cache:         deps.Cache,
		metrics:       deps.Metrics,
		log:           log.With().Str("component", "reservations").Logger(),
		lockTTL:       opts.LockTTL,
		overlapBuffer: opts.OverlapBuffer,
		clock:         opts.Now,
	}
	if e.events == nil {
		e.events = discard{}
	}
	return e
}

type discard struct{}

func (discard) Emit(...events.Event) {}

// now is truncated to microseconds, the precision Postgres keeps.
func (e *Engine) now() time.Time {
	return e.clock().UTC().Truncate(time.Microsecond)
}

// observe records a finished command. Use as: defer e.observe("apply", time.Now(), &err).
func (e *Engine) observe(op string, start time.Time, errp *error) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveCommand(op, Kind(*errp), time.Since(start))
}

// requiredConfirmations is how many confirmed applications fill a match. Singles is the
// creator plus one applicant; a doubles applicant brings their partner, so one
// confirmation fills that too.
func requiredConfirmations(models.MatchFormat) int64 {
	return 1
}

// effects accumulates side effects while a transaction runs.
type effects []events.Event

func (fx *effects) add(evts ...events.Event) {
	*fx = append(*fx, evts...)
}

func (fx *effects) notify(userID uuid.UUID, typ events.NotificationType, msg string, md map[string]any) {
	fx.add(events.Notification{UserID: userID, Type: typ, Message: msg, Metadata: md})
}

// changed queues the realtime broadcast and cache eviction every mutation needs.
func (fx *effects) changed(sc StateChange) {
	fx.add(
		events.CacheInvalidation{MatchID: sc.MatchID},
		events.MatchBroadcast{MatchID: sc.MatchID, State: sc},
	)
}

// emit hands committed side effects to the dispatcher. Cache evictions run first and
// inline, so the caller's next read already misses; one that fails is queued for a retry
// with the rest.
func (e *Engine) emit(ctx context.Context, fx effects) {
	if e.cache != nil {
		fx = e.invalidateNow(ctx, fx)
	}
	if len(fx) > 0 {
		e.events.Emit(fx...)
	}
}

func (e *Engine) invalidateNow(ctx context.Context, fx effects) effects {
	// The transaction has committed; a caller hanging up must not skip the eviction.
	ctx = context.WithoutCancel(ctx)

	rest := make(effects, 0, len(fx))
	done := map[uuid.UUID]bool{}
	for _, ev := range fx {
		inv, ok := ev.(events.CacheInvalidation)
		if !ok {
			rest = append(rest, ev)
			continue
		}
		if done[inv.MatchID] {
			continue
		}
		if err := e.cache.Invalidate(ctx, inv.MatchID); err != nil {
			e.log.Warn().Err(err).Str("match_id", inv.MatchID.String()).Msg("match cache invalidation failed, queued for retry")
			rest = append(rest, ev)
			continue
		}
		done[inv.MatchID] = true
	}
	return rest
}

// audit appends a match_events row inside tx.
func (e *Engine) audit(ctx context.Context, tx *store.Store, matchID uuid.UUID, appID, actor *uuid.UUID, typ models.MatchEventType, details map[string]any) error {
	var raw datatypes.JSON
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return err
		}
		raw = datatypes.JSON(b)
	}
	if err := tx.RecordEvent(ctx, &models.MatchEvent{
		MatchID:       matchID,
		ApplicationID: appID,
		ActorUserID:   actor,
		EventType:     typ,
		Details:       raw,
	}); err != nil {
		return fmt.Errorf("record %s: %w", typ, err)
	}
	return nil
}

// releaseKey drops a slot's advisory key after the store already freed the slot.
func (e *Engine) releaseKey(ctx context.Context, slotID uuid.UUID) {
	if e.locks == nil {
		return
	}
	if err := e.locks.Release(ctx, slotID); err != nil {
		e.lockStoreFailed(err, slotID, "release")
	}
}

func (e *Engine) lockStoreFailed(err error, slotID uuid.UUID, op string) {
	if e.metrics != nil {
		e.metrics.LockStoreError()
	}
	e.log.Warn().Err(err).Str("slot_id", slotID.String()).Str("op", op).Msg("lock store unavailable, continuing without advisory lock")
}

func slotDetails(m *models.Match, s *models.MatchSlot) events.SlotDetails {
	return events.SlotDetails{
		SlotID:    s.ID,
		CourtID:   m.CourtID,
		Date:      m.Date,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
	}
}
