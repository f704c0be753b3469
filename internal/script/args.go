package script

import (
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// shellOperators are the characters shellwords stops parsing at when unquoted.
const shellOperators = ";&|<>"

// SplitArgs splits a script arguments string with shell word rules (quotes and
// backslash escapes). Scripts are not run by a shell, so shell operators like `&` or
// `>` are kept as part of the words instead of ending the arguments.
func SplitArgs(args string) ([]string, error) {
	p := shellwords.NewParser()
	argv, err := p.Parse(escapeShellOperators(args))
	if err != nil {
		return nil, err
	}
	if p.Position != -1 {
		return nil, fmt.Errorf("unsupported shell syntax at position %d", p.Position)
	}

	return argv, nil
}

// escapeShellOperators backslash escapes the unquoted shell operators.
func escapeShellOperators(s string) string {
	if !strings.ContainsAny(s, shellOperators) {
		return s
	}

	var b strings.Builder
	var singleQuoted, doubleQuoted, escaped bool
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && !singleQuoted:
			escaped = true
		case r == '\'' && !doubleQuoted:
			singleQuoted = !singleQuoted
		case r == '"' && !singleQuoted:
			doubleQuoted = !doubleQuoted
		case !singleQuoted && !doubleQuoted && strings.ContainsRune(shellOperators, r):
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}

	return b.String()
}
