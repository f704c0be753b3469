package progress

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// Kind is the kind of a bar status, used to color it.
type Kind int

const (
	// KindInProgress is a bar waiting for its scripts to complete.
	KindInProgress Kind = iota
	// KindSuccess is a bar whose scripts have all completed.
	KindSuccess
	// KindFailure is a bar with a failed script.
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindInProgress:
		return "in_progress"
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Source is a progress source linked to a bar stage, script statuses satisfy it.
type Source interface {
	Progress() float64
	LastProgressMessage() string
}

// State is the computed state of a bar.
type State struct {
	// Started is false until the first stage starts, the rest of the fields are zero.
	Started bool
	// Fraction is the bar fill amount in [0, 1].
	Fraction float64
	// Text is the message to show, empty if none.
	Text string
	Kind Kind
}

// Bar aggregates the progress of the statuses linked to the current stage into a
// single value. A stage maps the averaged progress of its statuses into the
// [start, end] sub-range of the bar.
type Bar struct {
	mu                     sync.Mutex
	started                bool
	start                  float64
	end                    float64
	sources                []Source
	overriding             bool
	textOverride           string
	kindOverride           Kind
	lastTextBeforeOverride string
}

// NewBar returns a new bar without stage.
func NewBar() *Bar {
	return &Bar{}
}

// StartStage begins a stage where all the sources must complete. start and end are
// the bar fill amounts at the beginning and the end of the stage.
func (b *Bar) StartStage(start, end float64, sources ...Source) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.started = true
	b.start = start
	b.end = end
	b.sources = append([]Source(nil), sources...)
}

// OverrideStatus shows text with kind instead of the current status text, until the
// sources report a different text.
func (b *Bar) OverrideStatus(text string, kind Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastTextBeforeOverride = b.progressText()
	b.overriding = true
	b.textOverride = text
	b.kindOverride = kind
}

// Reset removes the stage and any override.
func (b *Bar) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.started = false
	b.start, b.end = 0, 0
	b.sources = nil
	b.overriding = false
	b.textOverride = ""
	b.kindOverride = KindInProgress
	b.lastTextBeforeOverride = ""
}

// Snapshot computes the current bar state.
func (b *Bar) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return State{}
	}

	fraction := b.fraction()
	text := b.progressText()
	kind := KindInProgress
	if fraction >= 1 {
		kind = KindSuccess
	}

	if b.overriding && text == b.lastTextBeforeOverride {
		text = b.textOverride
		kind = b.kindOverride
	} else {
		b.overriding = false
	}

	return State{
		Started:  true,
		Fraction: fraction,
		Text:     text,
		Kind:     kind,
	}
}

// fraction must be called with the lock held.
func (b *Bar) fraction() float64 {
	if len(b.sources) == 0 {
		return b.start
	}

	total := 0.0
	for _, s := range b.sources {
		total += s.Progress()
	}
	avg := total / float64(len(b.sources))

	return lerp(b.start, b.end, avg/100)
}

// progressText returns the message of the lowest progress source that has one. Must
// be called with the lock held.
func (b *Bar) progressText() string {
	text := ""
	minProgress := math.Inf(1)
	for _, s := range b.sources {
		msg := s.LastProgressMessage()
		p := s.Progress()
		if msg != "" && p < minProgress {
			text = msg
			minProgress = p
		}
	}
	return text
}

func lerp(a, b, t float64) float64 {
	t = math.Max(0, math.Min(1, t))
	return a + (b-a)*t
}

// Format renders the state as a fixed width text bar.
func (s State) Format(width int) string {
	if width <= 0 {
		width = 40
	}

	filled := int(s.Fraction * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := strings.Repeat("=", filled) + strings.Repeat(" ", width-filled)
	out := fmt.Sprintf("[%s] %3.0f%%", bar, s.Fraction*100)
	if s.Text != "" {
		out += " " + s.Text
	}
	return out
}
