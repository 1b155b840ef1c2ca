package gitsync

// Phase is the synchronization state of a service's checkout within a cycle.
type Phase string

const (
	PhaseUninitialized   Phase = "uninitialized"
	PhaseCloning         Phase = "cloning"
	PhaseUpToDate        Phase = "up_to_date"
	PhaseChangesDetected Phase = "changes_detected"
	PhaseSyncing         Phase = "syncing"
	PhaseSynced          Phase = "synced"
	PhaseFailed          Phase = "failed"
)

// Result describes the outcome of one reconciliation pass.
type Result struct {
	Phase    Phase
	Changed  bool   // lifecycle action required (fresh clone or new commit applied)
	Cloned   bool   // checkout was created this pass
	Previous string // commit before the pass (empty on fresh clone)
	Commit   string // commit after the pass
}
