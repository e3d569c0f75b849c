/*
scheduler.go - Automated gate-meeting transition scheduler

PURPOSE:
  Periodically fires due auto-transition intents recorded on gate
  meeting states. A meeting whose latest state row carries an
  AutoTransitionAt in the past is transitioned to its AutoTransitionTo
  state by the system actor, through the same coordinator path (and
  therefore the same audit + notification transaction) as a manual
  transition.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Only the latest row per meeting carries a live intent; a manual
    transition before the deadline supersedes it
  - An ErrConcurrencyConflict means someone transitioned the meeting
    mid-check; the intent is simply re-evaluated on the next tick
  - ErrInvalidTransition in strict mode marks the intent dead: it is
    logged and will disappear once the meeting moves on

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewTransitionScheduler(coordinator)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - governance/gatemeeting.go: TransitionInput, adjacency table
  - governance/coordinator.go: TransitionGateMeeting
*/
package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/meridian/governance-engine/governance"
)

// TransitionScheduler fires due gate-meeting auto-transitions.
type TransitionScheduler struct {
	Coordinator   *governance.Coordinator
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewTransitionScheduler creates a new scheduler.
func NewTransitionScheduler(c *governance.Coordinator) *TransitionScheduler {
	return &TransitionScheduler{
		Coordinator:   c,
		CheckInterval: 1 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ts *TransitionScheduler) Start() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ts.ticker = time.NewTicker(ts.CheckInterval)
	ts.wg.Add(1)

	go ts.run()

	log.Printf("[Scheduler] Started with check interval: %v", ts.CheckInterval)
}

// Stop stops the scheduler.
func (ts *TransitionScheduler) Stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.ticker != nil {
		ts.ticker.Stop()
		close(ts.stop)
		ts.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ts *TransitionScheduler) run() {
	defer ts.wg.Done()

	// Run immediately on start
	ts.checkAndFire()

	for {
		select {
		case <-ts.ticker.C:
			ts.checkAndFire()
		case <-ts.stop:
			return
		}
	}
}

func (ts *TransitionScheduler) checkAndFire() {
	ctx := context.Background()
	now := ts.Coordinator.Clock.Now()

	due, err := ts.Coordinator.Store.ListDueAutoTransitions(ctx, now)
	if err != nil {
		log.Printf("[Scheduler] Error listing due transitions: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	firedCount := 0
	deferredCount := 0

	for i := range due {
		state := &due[i]
		in := governance.TransitionInput{
			NewState: state.AutoTransitionTo,
			Notes:    "automatic transition",
		}

		_, err := ts.Coordinator.TransitionGateMeeting(ctx, state.GateMeetingID, in, governance.SystemActor)
		switch {
		case err == nil:
			firedCount++
		case errors.Is(err, governance.ErrConcurrencyConflict):
			// Raced a manual transition; re-evaluate next tick.
			deferredCount++
		default:
			log.Printf("[Scheduler] Error firing transition for meeting %s -> %s: %v",
				state.GateMeetingID, state.AutoTransitionTo, err)
		}
	}

	if firedCount > 0 || deferredCount > 0 {
		log.Printf("[Scheduler] Completed: %d fired, %d deferred (conflict)", firedCount, deferredCount)
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (ts *TransitionScheduler) RunNow() {
	ts.checkAndFire()
}

// NextRunTime returns when the next scheduled check will occur.
func (ts *TransitionScheduler) NextRunTime() time.Time {
	return ts.Coordinator.Clock.Now().Add(ts.CheckInterval)
}
