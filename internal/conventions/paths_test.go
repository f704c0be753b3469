package conventions_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/wxpipe/internal/conventions"
)

func TestDBPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", "wxpipe.db"), conventions.DBPath("/data"))
}

func TestDefaultDBPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := conventions.DefaultDBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".wxpipe", "wxpipe.db"), got)
}
