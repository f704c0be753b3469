package env

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var envKeyRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseSpecs parses `KEY=VALUE` and `KEY` specs into a map, a bare key takes its value
// from the current environment.
func ParseSpecs(specs []string) (map[string]string, error) {
	env := make(map[string]string, len(specs))

	for _, spec := range specs {
		if spec == "" {
			return nil, fmt.Errorf("environment variable spec cannot be empty")
		}

		key, value, hasValue := strings.Cut(spec, "=")
		if !isValidKey(key) {
			return nil, fmt.Errorf("invalid environment variable key %q", key)
		}

		if !hasValue {
			v, ok := os.LookupEnv(key)
			if !ok {
				return nil, fmt.Errorf("environment variable %q is not set", key)
			}
			value = v
		}

		env[key] = value
	}

	return env, nil
}

// MergeMaps returns a new map with the override values set over the base ones.
func MergeMaps(base map[string]string, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}

	return merged
}

// Environ returns base (in `KEY=VALUE` form) with the extra variables set, replacing
// the base ones with the same key. Extra variables are appended sorted by key.
func Environ(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return append([]string(nil), base...)
	}

	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := extra[k]; ok {
			continue
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}

	return env
}

func isValidKey(k string) bool {
	return envKeyRegexp.MatchString(k)
}
