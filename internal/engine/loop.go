package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"mmr-engine/internal/rank"
)

// State is the update loop's current phase, exposed for observability
// and tests.
type State int32

const (
	StateResume State = iota
	StateFetch
	StateApply
	StateFlush
	StateIdle
)

func (s State) String() string {
	switch s {
	case StateResume:
		return "RESUME"
	case StateFetch:
		return "FETCH"
	case StateApply:
		return "APPLY"
	case StateFlush:
		return "FLUSH"
	case StateIdle:
		return "IDLE"
	}
	return "UNKNOWN"
}

// PassStats summarizes one completed loop pass.
type PassStats struct {
	Matches    int
	Skipped    int
	MeanError  float64
	Checkpoint uint64
	Duration   time.Duration
}

// NotifyFunc is called after each non-empty pass (e.g. Discord webhook).
type NotifyFunc func(ctx context.Context, stats PassStats) error

// LoopConfig holds the update loop's tunables.
type LoopConfig struct {
	// EpochMatchID is the exclusive lower bound used when the rating
	// history is empty.
	EpochMatchID uint64
	// FlushEvery is how many processed matches accumulate before the
	// pending buffer is written out.
	FlushEvery int
	// IdleInterval is how long to sleep when a fetch returns nothing.
	IdleInterval time.Duration
	// RetryBackoff is how long to sleep after a store/source failure.
	RetryBackoff time.Duration
	// ClampOnLoad clamps snapshot scores into the rank scale's bounds
	// when they are read. The tuned production setup leaves this off.
	ClampOnLoad bool
	// ProgressEvery is how many processed matches between progress log
	// lines.
	ProgressEvery int
}

// DefaultLoopConfig returns the production configuration.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		EpochMatchID:  28626948,
		FlushEvery:    10000,
		IdleInterval:  2 * time.Minute,
		RetryBackoff:  10 * time.Second,
		ProgressEvery: 1000,
	}
}

// UpdateLoop drives the regression over the match feed: Resume -> Fetch
// -> Apply -> Flush, forever. Processing is strictly serialized in
// ascending match-id order; score correctness depends on that causal
// order, so there is deliberately no concurrent apply.
type UpdateLoop struct {
	engine Engine
	source MatchSource
	store  RatingStore
	config LoopConfig
	notify NotifyFunc

	state atomic.Int32
	// loggedSkips holds ids already reported as skipped. A permanently
	// bad match re-enters every fetch (it writes no rows, so the durable
	// checkpoint never passes it); without this it would be re-logged
	// every idle cycle.
	loggedSkips map[uint64]struct{}
}

// NewUpdateLoop wires the loop with its collaborators. notify may be nil.
func NewUpdateLoop(eng Engine, source MatchSource, store RatingStore, notify NotifyFunc, config LoopConfig) (*UpdateLoop, error) {
	if source == nil || store == nil {
		return nil, errors.New("update loop needs both a match source and a rating store")
	}
	if config.FlushEvery <= 0 {
		return nil, fmt.Errorf("flush chunk size %d must be positive", config.FlushEvery)
	}
	return &UpdateLoop{
		engine:      eng,
		source:      source,
		store:       store,
		config:      config,
		notify:      notify,
		loggedSkips: make(map[uint64]struct{}),
	}, nil
}

// State returns the loop's current phase.
func (l *UpdateLoop) State() State {
	return State(l.state.Load())
}

func (l *UpdateLoop) setState(s State) {
	l.state.Store(int32(s))
}

// Run cycles the loop until the context is cancelled. Store and source
// failures abort the current pass and retry after a backoff; they never
// terminate the loop.
func (l *UpdateLoop) Run(ctx context.Context) error {
	log.Println("[UpdateLoop] Starting...")
	for {
		stats, err := l.RunPass(ctx)
		if ctx.Err() != nil {
			log.Println("[UpdateLoop] Context cancelled, stopping")
			return ctx.Err()
		}
		if err != nil {
			log.Printf("[UpdateLoop] Pass failed (retrying in %s): %v", l.config.RetryBackoff, err)
			if !l.sleep(ctx, l.config.RetryBackoff) {
				return ctx.Err()
			}
			continue
		}

		if stats.Matches > 0 {
			log.Printf("[UpdateLoop] Pass complete: %d matches (%d skipped), mean error %.4f, checkpoint %d, took %s",
				stats.Matches, stats.Skipped, stats.MeanError, stats.Checkpoint, stats.Duration.Round(time.Millisecond))
			if l.notify != nil {
				if err := l.notify(ctx, stats); err != nil {
					log.Printf("[UpdateLoop] Failed to send pass notification: %v", err)
				}
			}
			continue
		}

		l.setState(StateIdle)
		if !l.sleep(ctx, l.config.IdleInterval) {
			return ctx.Err()
		}
	}
}

// RunPass executes a single Resume/Fetch/Apply/Flush cycle. Nothing is
// written until a full chunk succeeds, so an aborted pass is safe to
// replay: the computation is deterministic per match id given the same
// snapshot.
func (l *UpdateLoop) RunPass(ctx context.Context) (PassStats, error) {
	start := time.Now()

	l.setState(StateResume)
	since, found, err := l.store.CheckpointMatchID(ctx)
	if err != nil {
		return PassStats{}, fmt.Errorf("resume: %w", err)
	}
	if !found {
		since = l.config.EpochMatchID
		log.Printf("[UpdateLoop] Empty history, starting from epoch match %d", since)
	}

	snapshot, err := l.store.LatestRatings(ctx, since)
	if err != nil {
		return PassStats{}, fmt.Errorf("resume: %w", err)
	}
	if l.config.ClampOnLoad {
		for k, v := range snapshot {
			snapshot[k] = rank.Clamp(v)
		}
	}

	l.setState(StateFetch)
	matches, err := l.source.FetchSince(ctx, since)
	if err != nil {
		return PassStats{}, fmt.Errorf("fetch: %w", err)
	}
	if len(matches) == 0 {
		return PassStats{Checkpoint: since, Duration: time.Since(start)}, nil
	}
	log.Printf("[UpdateLoop] Fetched %d matches after %d, %d entities in snapshot",
		len(matches), since, len(snapshot))

	l.setState(StateApply)
	var (
		pending    []Rating
		processed  int
		skipped    int
		sumError   float64
		checkpoint = since
	)
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			// Complete the current flush on shutdown so no partially
			// applied chunk is left behind.
			break
		}

		updates, matchErr, err := l.engine.Update(m, snapshot)
		if err != nil {
			if _, logged := l.loggedSkips[m.ID]; !logged {
				log.Printf("[UpdateLoop] Skipping match %d: %v", m.ID, err)
				l.loggedSkips[m.ID] = struct{}{}
			}
			skipped++
			// A skipped match writes no rows; still report the pass as
			// having worked through its id.
			checkpoint = m.ID
			continue
		}

		for entity, score := range updates {
			snapshot[entity] = score
			pending = append(pending, Rating{MatchID: m.ID, Entity: entity, Score: score})
		}
		checkpoint = m.ID
		sumError += matchErr
		processed++

		if l.config.ProgressEvery > 0 && processed%l.config.ProgressEvery == 0 {
			log.Printf("[UpdateLoop] Processed %d matches, mean error %.4f",
				processed, sumError/float64(processed))
		}
		if processed%l.config.FlushEvery == 0 {
			if err := l.flush(ctx, &pending); err != nil {
				return PassStats{}, err
			}
		}
	}

	if err := l.flush(ctx, &pending); err != nil {
		return PassStats{}, err
	}

	stats := PassStats{
		Matches:    processed,
		Skipped:    skipped,
		Checkpoint: checkpoint,
		Duration:   time.Since(start),
	}
	if processed > 0 {
		stats.MeanError = sumError / float64(processed)
	}
	return stats, nil
}

func (l *UpdateLoop) flush(ctx context.Context, pending *[]Rating) error {
	if len(*pending) == 0 {
		return nil
	}
	l.setState(StateFlush)
	if err := l.store.Append(ctx, *pending); err != nil {
		return fmt.Errorf("flush %d rows: %w", len(*pending), err)
	}
	log.Printf("[UpdateLoop] Flushed %d rating rows", len(*pending))
	*pending = (*pending)[:0]
	l.setState(StateApply)
	return nil
}

// sleep waits for d or until the context is cancelled; it reports
// whether the full duration elapsed.
func (l *UpdateLoop) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
