package printer_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/printer"
	"github.com/slok/wxpipe/internal/progress"
)

func TestLivePrinterRender(t *testing.T) {
	tests := map[string]struct {
		views  []progress.State
		states []model.State
		exp    string
	}{
		"Not started bars should be shown as waiting.": {
			views:  []progress.State{{}},
			states: []model.State{model.StateInProgress},
			exp:    "radar  waiting...\n",
		},
		"Started bars should be formatted.": {
			views:  []progress.State{{Started: true, Fraction: 0.5, Text: "Downloading"}},
			states: []model.State{model.StateInProgress},
			exp:    "radar  [=====     ]  50% Downloading\n",
		},
		"Cancelled pipelines should be marked.": {
			views:  []progress.State{{Started: true, Fraction: 0.2}},
			states: []model.State{model.StateCancelled},
			exp:    "radar  [==        ]  20% (cancelled)\n",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			var buf bytes.Buffer
			p, err := printer.NewLivePrinter(printer.LiveConfig{Writer: &buf, BarWidth: 10, NoColor: true})
			require.NoError(err)

			views := []printer.PipelineView{}
			for i, v := range test.views {
				views = append(views, printer.PipelineView{Name: "radar", State: test.states[i], Bar: v})
			}
			assert.Equal(t, test.exp, p.Render(views))
		})
	}
}

func TestLivePrinterRenderAlignsNames(t *testing.T) {
	p, err := printer.NewLivePrinter(printer.LiveConfig{Writer: &bytes.Buffer{}, BarWidth: 4, NoColor: true})
	require.NoError(t, err)

	got := p.Render([]printer.PipelineView{
		{Name: "radar", Bar: progress.State{Started: true, Fraction: 1, Kind: progress.KindSuccess}},
		{Name: "clouds", Bar: progress.State{Started: true, Fraction: 0.25, Text: "Failed!", Kind: progress.KindFailure}},
	})

	exp := "radar   [====] 100%\n" +
		"clouds  [=   ]  25% Failed!\n"
	assert.Equal(t, exp, got)
}

func TestLivePrinterDraw(t *testing.T) {
	waiting := []printer.PipelineView{{Name: "a"}, {Name: "b"}}
	running := []printer.PipelineView{
		{Name: "a", Bar: progress.State{Started: true, Fraction: 0.5}},
		{Name: "b"},
	}

	clear2 := func() string {
		var sb strings.Builder
		termenv.NewOutput(&sb).ClearLines(2)
		return sb.String()
	}

	tests := map[string]struct {
		interactive bool
		draws       [][]printer.PipelineView
		expOutputs  []string
	}{
		"Interactive printers should redraw the bars in place.": {
			interactive: true,
			draws:       [][]printer.PipelineView{waiting, waiting, running},
			expOutputs: []string{
				"a  waiting...\nb  waiting...\n",
				clear2() + "a  waiting...\nb  waiting...\n",
				clear2() + "a  [==  ]  50%\nb  waiting...\n",
			},
		},

		"Non interactive printers should only append changed bars without escape codes.": {
			interactive: false,
			draws:       [][]printer.PipelineView{waiting, waiting, running},
			expOutputs: []string{
				"a  waiting...\nb  waiting...\n",
				"",
				"a  [==  ]  50%\nb  waiting...\n",
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)

			var buf bytes.Buffer
			p, err := printer.NewLivePrinter(printer.LiveConfig{Writer: &buf, BarWidth: 4, NoColor: true, Interactive: &test.interactive})
			require.NoError(err)

			for i, views := range test.draws {
				buf.Reset()
				require.NoError(p.Draw(views))
				assert.Equal(test.expOutputs[i], buf.String(), "draw %d", i)
				if !test.interactive {
					assert.NotContains(buf.String(), "\x1b[")
				}
			}
		})
	}
}

func TestLivePrinterDetectsNonTerminalWriter(t *testing.T) {
	require := require.New(t)

	f, err := os.Create(filepath.Join(t.TempDir(), "run.log"))
	require.NoError(err)
	defer f.Close()

	p, err := printer.NewLivePrinter(printer.LiveConfig{Writer: f, BarWidth: 4, NoColor: true})
	require.NoError(err)
	views := []printer.PipelineView{{Name: "a"}}
	require.NoError(p.Draw(views))
	require.NoError(p.Draw(views))

	got, err := os.ReadFile(f.Name())
	require.NoError(err)
	assert.Equal(t, "a  waiting...\n", string(got))
}

func TestNewLivePrinterInvalidConfig(t *testing.T) {
	_, err := printer.NewLivePrinter(printer.LiveConfig{})
	assert.Error(t, err)
}
