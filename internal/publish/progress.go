package publish

import "sync"

// Stage is a step of the publish state machine.
type Stage string

const (
	StageValidate     Stage = "validate"
	StageNavigate     Stage = "navigate"
	StageSelectMode   Stage = "select_mode"
	StageUpload       Stage = "upload"
	StageAwaitUpload  Stage = "await_upload"
	StageFillMetadata Stage = "fill_metadata"
	StageSubmit       Stage = "submit"
	StageAwaitResult  Stage = "await_result"
	StageDone         Stage = "done"
)

// stageStart is the progress percent reported on entering a stage.
var stageStart = map[Stage]int{
	StageValidate:     0,
	StageNavigate:     5,
	StageSelectMode:   10,
	StageUpload:       15,
	StageAwaitUpload:  20,
	StageFillMetadata: 55,
	StageSubmit:       85,
	StageAwaitResult:  90,
	StageDone:         100,
}

// Progress is one progress update.
type Progress struct {
	Stage   Stage
	Percent int
	Message string
}

// ProgressFunc receives progress updates. It is called synchronously from
// the job's goroutine.
type ProgressFunc func(Progress)

// reporter clamps reported percentages so they never go backwards.
type reporter struct {
	mu   sync.Mutex
	fn   ProgressFunc
	last int
}

func newReporter(fn ProgressFunc) *reporter {
	return &reporter{fn: fn}
}

func (r *reporter) report(stage Stage, percent int, msg string) {
	r.mu.Lock()
	if percent < r.last {
		percent = r.last
	}
	if percent > 100 {
		percent = 100
	}
	r.last = percent
	fn := r.fn
	r.mu.Unlock()

	if fn != nil {
		fn(Progress{Stage: stage, Percent: percent, Message: msg})
	}
}

// within reports a position inside stage, scaled between its start and the
// next stage's start.
func (r *reporter) within(stage, next Stage, done, total int, msg string) {
	start, end := stageStart[stage], stageStart[next]
	pct := start
	if total > 0 {
		pct = start + (end-start)*done/total
	}
	r.report(stage, pct, msg)
}
