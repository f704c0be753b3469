package lib

import "github.com/slok/wxpipe/internal/progress"

// ProgressBar aggregates the progress of script statuses into a single bar.
type ProgressBar struct {
	bar *progress.Bar
}

// NewProgressBar returns a bar without stage.
func NewProgressBar() *ProgressBar {
	return &ProgressBar{bar: progress.NewBar()}
}

// StartStage links the statuses to the bar, their averaged progress fills the bar
// from start to end (0-1).
func (b *ProgressBar) StartStage(start, end float64, statuses ...*ScriptStatus) {
	sources := make([]progress.Source, 0, len(statuses))
	for _, s := range statuses {
		sources = append(sources, s.st)
	}
	b.bar.StartStage(start, end, sources...)
}

// OverrideStatus shows text instead of the statuses message until they report a new one.
func (b *ProgressBar) OverrideStatus(text string, kind ProgressKind) {
	b.bar.OverrideStatus(text, toInternalProgressKind(kind))
}

// Reset removes the stage and any override.
func (b *ProgressBar) Reset() { b.bar.Reset() }

// State returns the current bar state.
func (b *ProgressBar) State() ProgressState { return fromInternalProgressState(b.bar.Snapshot()) }
