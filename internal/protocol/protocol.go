// Package protocol decodes the textual progress protocol that the worker scripts
// write on their standard output.
//
// A progress line starts with the case-sensitive literal `Progress`, followed by one
// or more separators (`:` or whitespace), an optional number (with an optional `%`
// suffix that is ignored), more optional separators and an optional free text message:
//
//	Progress: 45% Downloading radar data
//	Progress 10
//	Progress: Reprojecting raster
//
// Any other line is plain output. Numbers are not clamped, a script can report
// values above 100 or below 0 and they are passed through as they are.
package protocol

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind is the kind of a decoded line.
type Kind int

const (
	// KindOutput is a plain output line.
	KindOutput Kind = iota
	// KindProgress is a progress protocol line.
	KindProgress
)

func (k Kind) String() string {
	switch k {
	case KindProgress:
		return "progress"
	default:
		return "output"
	}
}

// Line is a decoded output line.
type Line struct {
	Kind Kind
	// Raw is the line without the line terminator.
	Raw string
	// HasProgress is true when the progress line carries a number.
	HasProgress bool
	// Progress is the reported number, only valid if HasProgress.
	Progress float64
	// Message is the progress message (empty if none) on progress lines.
	Message string
}

// HasMessage returns true when a progress line carries a message.
func (l Line) HasMessage() bool { return l.Message != "" }

// Parser knows how to decode a single output line.
type Parser func(line string) Line

var progressRegexp = regexp.MustCompile(`^Progress[:\s]+(?:([-+]?(?:\d+(?:\.\d*)?|\.\d+))\s*%?[:\s]*)?(.*)$`)

// ParseLine decodes one line of script output. It never fails, lines that don't
// match the progress grammar are returned as plain output.
func ParseLine(line string) Line {
	line = strings.TrimRight(line, "\r\n")

	m := progressRegexp.FindStringSubmatch(line)
	if m == nil {
		return Line{Kind: KindOutput, Raw: line}
	}

	l := Line{
		Kind:    KindProgress,
		Raw:     line,
		Message: strings.TrimSpace(m[2]),
	}

	if m[1] != "" {
		v, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			l.HasProgress = true
			l.Progress = v
		}
	}

	return l
}

var _ Parser = ParseLine
