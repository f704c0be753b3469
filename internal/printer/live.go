package printer

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/progress"
)

// PipelineView is the information the live printer shows for one pipeline.
type PipelineView struct {
	Name  string
	State model.State
	Bar   progress.State
}

// LiveConfig is the configuration of the live printer.
type LiveConfig struct {
	Writer io.Writer
	// BarWidth is the number of cells of each progress bar.
	BarWidth int
	NoColor  bool
	// Interactive redraws the bars in place. When not interactive the bars are appended
	// every time they change.
	// Default: detected from the writer.
	Interactive *bool
}

func (c *LiveConfig) defaults() error {
	if c.Writer == nil {
		return fmt.Errorf("writer is required")
	}
	if c.BarWidth <= 0 {
		c.BarWidth = 30
	}
	if c.Interactive == nil {
		interactive := isTerminal(c.Writer)
		c.Interactive = &interactive
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// LivePrinter redraws the progress bars of the running pipelines in place.
type LivePrinter struct {
	w           io.Writer
	barWidth    int
	interactive bool

	nameStyle     lipgloss.Style
	progressStyle lipgloss.Style
	successStyle  lipgloss.Style
	failureStyle  lipgloss.Style
	mutedStyle    lipgloss.Style

	mu       sync.Mutex
	drawn    int
	lastDraw string
}

// NewLivePrinter returns a new live printer.
func NewLivePrinter(cfg LiveConfig) (*LivePrinter, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	r := lipgloss.NewRenderer(cfg.Writer)
	if cfg.NoColor {
		r.SetColorProfile(termenv.Ascii)
	}

	return &LivePrinter{
		w:             cfg.Writer,
		barWidth:      cfg.BarWidth,
		interactive:   *cfg.Interactive,
		nameStyle:     r.NewStyle().Bold(true),
		progressStyle: r.NewStyle().Foreground(lipgloss.Color("99")),
		successStyle:  r.NewStyle().Foreground(lipgloss.Color("76")),
		failureStyle:  r.NewStyle().Foreground(lipgloss.Color("204")),
		mutedStyle:    r.NewStyle().Foreground(lipgloss.Color("243")),
	}, nil
}

// Render returns one line per pipeline, names are padded so the bars are aligned.
func (l *LivePrinter) Render(views []PipelineView) string {
	nameWidth := 0
	for _, v := range views {
		nameWidth = max(nameWidth, len(v.Name))
	}

	var sb strings.Builder
	for _, v := range views {
		name := l.nameStyle.Render(fmt.Sprintf("%-*s", nameWidth, v.Name))
		sb.WriteString(name + "  " + l.renderBar(v) + "\n")
	}
	return sb.String()
}

func (l *LivePrinter) renderBar(v PipelineView) string {
	if !v.Bar.Started {
		return l.mutedStyle.Render("waiting...")
	}

	line := v.Bar.Format(l.barWidth)
	switch {
	case v.State == model.StateCancelled:
		return l.mutedStyle.Render(line + " (cancelled)")
	case v.Bar.Kind == progress.KindFailure:
		return l.failureStyle.Render(line)
	case v.Bar.Kind == progress.KindSuccess:
		return l.successStyle.Render(line)
	default:
		return l.progressStyle.Render(line)
	}
}

// Draw writes the rendered views. Interactive printers replace the previously drawn
// views, the rest only write the views when they changed since the last draw.
func (l *LivePrinter) Draw(views []PipelineView) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rendered := l.Render(views)
	if !l.interactive && rendered == l.lastDraw {
		return nil
	}

	var sb strings.Builder
	if l.interactive && l.drawn > 0 {
		termenv.NewOutput(&sb).ClearLines(l.drawn)
	}
	sb.WriteString(rendered)

	if _, err := io.WriteString(l.w, sb.String()); err != nil {
		return fmt.Errorf("could not draw progress: %w", err)
	}
	l.drawn = len(views)
	l.lastDraw = rendered

	return nil
}

// Summary returns the final line of a run.
func (l *LivePrinter) Summary(state model.State) string {
	switch state {
	case model.StateSuccess:
		return l.successStyle.Render("✓") + " All pipelines finished successfully"
	case model.StateFailure:
		return l.failureStyle.Render("✗") + " One or more pipelines failed"
	case model.StateCancelled:
		return l.mutedStyle.Render("!") + " Run cancelled"
	default:
		return l.progressStyle.Render("●") + " Run in progress"
	}
}
