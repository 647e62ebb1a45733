// Package run drives the game adapter frame by frame: it holds the
// frame-indexed input curves, the sparse snapshot ladder used to seek
// cheaply, and the background worker that keeps that ladder warm.
package run

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/massung/tasreplay/game"
)

// SnapshotInterval is how many simulated frames separate each entry in the
// snapshot ladder. Seeking forward by at most one interval from the current
// frame never needs to touch the ladder at all; any other seek restores from
// the ladder entry at or below the target first.
const SnapshotInterval = 125

// sharedState is everything the foreground Controller and the background
// snapshot worker must agree on, guarded by one mutex: the input curves,
// the snapshot ladder, and both of its progress counters.
type sharedState struct {
	mu sync.Mutex

	inputs    *Inputs
	length    int // highest frame index touched by an edit, plus one
	snapshots []*game.GameSnapshot

	numValidSnapshots    int
	numProcessedUsercmds int
}

func (s *sharedState) hasValidSnapshot(frame int) bool {
	return frame < s.numValidSnapshots*SnapshotInterval
}

// invalidate narrows the ladder's validity and the worker's progress down
// to frame, called with mu held whenever a keyframe at or after frame
// changes.
func (s *sharedState) invalidate(frame int) {
	if v := frame/SnapshotInterval + 1; v < s.numValidSnapshots {
		s.numValidSnapshots = v
	}
	if frame < s.numProcessedUsercmds {
		s.numProcessedUsercmds = frame
	}
}

// growTo extends length and the snapshot ladder slice so frame is covered,
// called with mu held whenever an edit touches a frame past what's been
// seen before.
func (s *sharedState) growTo(frame int) {
	if frame+1 > s.length {
		s.length = frame + 1
	}
	want := s.length/SnapshotInterval + 1
	for len(s.snapshots) < want {
		s.snapshots = append(s.snapshots, nil)
	}
}

// Controller owns one foreground game.Adapter plus a sparse ladder of
// snapshots taken every SnapshotInterval frames, so seeking to an arbitrary
// frame only ever has to replay at most SnapshotInterval frames from the
// nearest valid entry. A background worker keeps the ladder warm as the
// input curves change, working against its own cloned adapter so it never
// blocks foreground playback.
type Controller struct {
	Game *game.Adapter

	shared   *sharedState
	baseline *game.GameSnapshot

	wake          chan struct{}
	workerEnabled bool
	stale         bool
}

// NewController loads a QVM from r, initializes it against world and
// entityTokens (the parsed contents of a .bsp's entity lump), takes the
// baseline snapshot, and starts the background snapshot worker on a cloned
// adapter.
func NewController(r io.ReaderAt, world game.WorldTracer, entityTokens []string) (*Controller, error) {
	a, err := game.NewAdapter(r, world, entityTokens)
	if err != nil {
		return nil, fmt.Errorf("run: new adapter: %w", err)
	}
	a.Cvars.Set("dedicated", "1")
	a.Cvars.Set("df_promode", "1")
	if err := a.Init(0, 0, false); err != nil {
		return nil, fmt.Errorf("run: init: %w", err)
	}
	a.Memory().ClearDirty()

	baseline := a.TakeSnapshot(nil)
	shared := &sharedState{
		inputs:            NewInputs(),
		snapshots:         []*game.GameSnapshot{a.TakeSnapshot(baseline)},
		numValidSnapshots: 1,
	}

	c := &Controller{
		Game:          a,
		shared:        shared,
		baseline:      baseline,
		wake:          make(chan struct{}, 1),
		workerEnabled: true,
	}

	setSnapshotLadderDepth(shared.numValidSnapshots * SnapshotInterval)
	go c.snapshotWorker(a.Clone())
	return c, nil
}

// snapshotWorker runs on worker (an independent clone of the foreground
// adapter made once, at startup) until the process exits. It wakes whenever
// the ladder has an invalid entry, restores the nearest valid snapshot
// below it, replays SnapshotInterval usercmds evaluated from the shared
// input curves, and publishes the result unless the ladder was invalidated
// again while it worked.
func (c *Controller) snapshotWorker(worker *game.Adapter) {
	for {
		for {
			c.shared.mu.Lock()
			hasWork := c.shared.numValidSnapshots < len(c.shared.snapshots)
			c.shared.mu.Unlock()
			if hasWork {
				break
			}
			<-c.wake
		}

		c.shared.mu.Lock()
		c.shared.numProcessedUsercmds = nextMultipleOf(c.shared.numProcessedUsercmds+1, SnapshotInterval)
		numProcessed := c.shared.numProcessedUsercmds
		nextSnapshotNum := numProcessed / SnapshotInterval

		start := (nextSnapshotNum - 1) * SnapshotInterval
		usercmds := make([]game.UserCmd, SnapshotInterval)
		for i := range usercmds {
			usercmds[i] = c.shared.inputs.Usercmd(start + i)
		}

		restoreStart := time.Now()
		worker.RestoreSnapshot(c.shared.snapshots[nextSnapshotNum-1])
		restoreElapsed := time.Since(restoreStart)
		c.shared.mu.Unlock()

		cyclesBefore := worker.VM.Cycles
		simulateStart := time.Now()
		for _, cmd := range usercmds {
			worker.RunFrame(cmd, 0)
		}
		simulateElapsed := time.Since(simulateStart)
		recordVMCycles(cyclesBefore, worker.VM.Cycles)
		snap := worker.TakeSnapshot(c.baseline)

		c.shared.mu.Lock()
		if c.shared.numProcessedUsercmds == numProcessed {
			c.shared.snapshots[nextSnapshotNum] = snap
			c.shared.numValidSnapshots = nextSnapshotNum + 1
			setSnapshotLadderDepth(c.shared.numValidSnapshots * SnapshotInterval)
			recordSnapshotBuilt(restoreElapsed, simulateElapsed)
		}
		c.shared.mu.Unlock()
	}
}

func nextMultipleOf(n, m int) int {
	if n%m == 0 {
		return n
	}
	return (n/m + 1) * m
}

// SetUsercmd inserts one Hold keyframe per input channel at frame, decomposed
// from cmd, and invalidates the ladder from frame onward.
func (c *Controller) SetUsercmd(frame int, cmd game.UserCmd) {
	if frame < c.Game.Frame {
		c.stale = true
	}

	c.shared.mu.Lock()
	c.shared.inputs.SetUsercmd(frame, cmd)
	c.shared.growTo(frame)
	c.shared.invalidate(frame)
	c.shared.mu.Unlock()

	recordInvalidation()
	if c.workerEnabled {
		c.wakeWorker()
	}
}

// SetUsercmds inserts one usercmd per frame starting at startFrame, in one
// critical section, invalidating the ladder once from startFrame onward.
func (c *Controller) SetUsercmds(startFrame int, usercmds []game.UserCmd) {
	if len(usercmds) == 0 {
		return
	}
	if startFrame < c.Game.Frame {
		c.stale = true
	}

	c.shared.mu.Lock()
	for i, cmd := range usercmds {
		c.shared.inputs.SetUsercmd(startFrame+i, cmd)
	}
	c.shared.growTo(startFrame + len(usercmds) - 1)
	c.shared.invalidate(startFrame)
	c.shared.mu.Unlock()

	recordInvalidation()
	if c.workerEnabled {
		c.wakeWorker()
	}
}

// EditCurve exposes one input channel curve for direct keyframe editing (the
// animation-curve scrub/edit surface the GUI's curve editor drives), then
// invalidates the ladder from the curve's own dirty watermark onward.
func (c *Controller) EditCurve(curve *Curve, f func(*Curve)) {
	c.shared.mu.Lock()
	f(curve)
	dirty := curve.Dirty()
	if dirty == noDirtyFrame {
		c.shared.mu.Unlock()
		return
	}
	if dirty < c.Game.Frame {
		c.stale = true
	}
	c.shared.growTo(dirty)
	c.shared.invalidate(dirty)
	curve.ClearDirty()
	c.shared.mu.Unlock()

	recordInvalidation()
	if c.workerEnabled {
		c.wakeWorker()
	}
}

// Usercmd evaluates the input curves at frame read-only.
func (c *Controller) Usercmd(frame int) game.UserCmd {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	return c.shared.inputs.Usercmd(frame)
}

// Inputs exposes the controller's shared input curves read-only, for a
// consumer that wants to draw the curve editor; mutate only through
// SetUsercmd/SetUsercmds/EditCurve so invalidation stays correct.
func (c *Controller) Inputs() *Inputs {
	return c.shared.inputs
}

func (c *Controller) wakeWorker() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Seek advances or rewinds the foreground adapter to frame, restoring from
// the nearest valid snapshot first if the current state can't simply step
// forward to get there.
func (c *Controller) Seek(frame int) {
	if !c.stale && c.Game.Frame == frame+1 {
		return
	}

	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()

	if !c.canStepTo(frame) {
		if !c.shared.hasValidSnapshot(frame) {
			c.stale = true
			return
		}
		snap := c.shared.snapshots[frame/SnapshotInterval]
		c.Game.RestoreSnapshot(snap)
		c.stale = false
	}

	simulated := 0
	cyclesBefore := c.Game.VM.Cycles
	for c.Game.Frame <= frame {
		cmd := c.shared.inputs.Usercmd(c.Game.Frame)
		c.Game.RunFrame(cmd, 0)
		simulated++

		if !c.workerEnabled && c.Game.Frame%SnapshotInterval == 0 {
			snapshotNum := c.Game.Frame / SnapshotInterval
			if c.shared.numValidSnapshots == snapshotNum {
				c.shared.snapshots[snapshotNum] = c.Game.TakeSnapshot(c.baseline)
				c.shared.numValidSnapshots = snapshotNum + 1
				setSnapshotLadderDepth(c.shared.numValidSnapshots * SnapshotInterval)
			}
		}
	}
	recordSeekFrames(simulated)
	recordVMCycles(cyclesBefore, c.Game.VM.Cycles)
}

// canStepTo reports whether the foreground adapter's current state can
// simply simulate forward to frame without restoring a snapshot first.
func (c *Controller) canStepTo(frame int) bool {
	return !c.stale && frame >= c.Game.Frame && frame <= c.Game.Frame+SnapshotInterval
}

// CanSeekTo reports whether Seek(frame) would succeed (as opposed to
// leaving the controller marked stale because no usable state exists yet).
func (c *Controller) CanSeekTo(frame int) bool {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	return c.canStepTo(frame) || c.shared.hasValidSnapshot(frame)
}

// NumFramesWithValidSnapshot reports how far into the track the snapshot
// ladder currently covers.
func (c *Controller) NumFramesWithValidSnapshot() int {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	return c.shared.numValidSnapshots * SnapshotInterval
}

// EnableSnapshotWorker resumes background ladder maintenance.
func (c *Controller) EnableSnapshotWorker() {
	if !c.workerEnabled {
		c.workerEnabled = true
		c.wakeWorker()
	}
}

// DisableSnapshotWorker stops waking the background worker; Seek falls back
// to capturing ladder entries inline as it crosses them.
func (c *Controller) DisableSnapshotWorker() {
	c.workerEnabled = false
}
