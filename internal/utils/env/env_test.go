package env_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/wxpipe/internal/utils/env"
)

func TestParseSpecs(t *testing.T) {
	t.Setenv("WXPIPE_TEST_FROM_ENV", "from-env")

	tests := map[string]struct {
		specs  []string
		exp    map[string]string
		expErr bool
	}{
		"Key values should be parsed.": {
			specs: []string{"A=1", "B=with=equals", "C="},
			exp:   map[string]string{"A": "1", "B": "with=equals", "C": ""},
		},

		"A bare key should take the value from the environment.": {
			specs: []string{"WXPIPE_TEST_FROM_ENV"},
			exp:   map[string]string{"WXPIPE_TEST_FROM_ENV": "from-env"},
		},

		"A bare key not set should fail.": {
			specs:  []string{"WXPIPE_TEST_MISSING_VAR"},
			expErr: true,
		},

		"Empty specs should fail.": {
			specs:  []string{""},
			expErr: true,
		},

		"Invalid keys should fail.": {
			specs:  []string{"1A=b"},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			got, err := env.ParseSpecs(test.specs)
			if test.expErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(test.exp, got)
		})
	}
}

func TestMergeMaps(t *testing.T) {
	got := env.MergeMaps(map[string]string{"A": "1", "B": "2"}, map[string]string{"B": "3", "C": "4"})
	assert.Equal(t, map[string]string{"A": "1", "B": "3", "C": "4"}, got)
	assert.Equal(t, map[string]string{}, env.MergeMaps(nil, nil))
}

func TestEnviron(t *testing.T) {
	tests := map[string]struct {
		base  []string
		extra map[string]string
		exp   []string
	}{
		"Without extra the base should be returned.": {
			base: []string{"PATH=/bin"},
			exp:  []string{"PATH=/bin"},
		},

		"Extra variables should be appended sorted and replace the base ones.": {
			base:  []string{"PATH=/bin", "HOME=/root", "LANG=C"},
			extra: map[string]string{"LANG": "en_US.UTF-8", "A": "1"},
			exp:   []string{"PATH=/bin", "HOME=/root", "A=1", "LANG=en_US.UTF-8"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, env.Environ(test.base, test.extra))
		})
	}
}
