package run

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposed by the run controller and the VM it drives. Registered
// once at package init via promauto, same as every other promauto.New*
// call in this codebase — there is exactly one controller per process, so
// package-level collectors need no instance wiring.
var (
	snapshotLadderDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tasreplay_snapshot_ladder_frames",
		Help: "Number of frames covered by valid snapshots in the ladder",
	})

	snapshotsBuiltTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasreplay_snapshots_built_total",
		Help: "Total snapshots built by the background worker",
	})

	snapshotRestoreDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tasreplay_snapshot_restore_seconds",
		Help:    "Time spent restoring a snapshot before replaying frames",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	snapshotSimulateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tasreplay_snapshot_simulate_seconds",
		Help:    "Time the background worker spends simulating one interval",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	invalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasreplay_invalidations_total",
		Help: "Total usercmd edits that invalidated part of the snapshot ladder",
	})

	seekFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasreplay_seek_frames_simulated_total",
		Help: "Total frames simulated by Seek on the foreground adapter",
	})

	vmCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasreplay_vm_cycles_total",
		Help: "Total VM Step calls executed across all adapters",
	})
)

// recordSnapshotBuilt records one worker-produced snapshot along with the
// time spent restoring the base snapshot and simulating forward from it.
func recordSnapshotBuilt(restore, simulate time.Duration) {
	snapshotsBuiltTotal.Inc()
	snapshotRestoreDuration.Observe(restore.Seconds())
	snapshotSimulateDuration.Observe(simulate.Seconds())
}

func recordInvalidation() {
	invalidationsTotal.Inc()
}

func recordSeekFrames(n int) {
	seekFramesTotal.Add(float64(n))
}

func setSnapshotLadderDepth(frames int) {
	snapshotLadderDepth.Set(float64(frames))
}

func recordVMCycles(before, after uint64) {
	vmCyclesTotal.Add(float64(after - before))
}
