package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/msgdb/internal/config"
)

func TestPathsLiveUnderProfileDir(t *testing.T) {
	base := t.TempDir()
	t.Setenv("MSGDB_HOME", base)

	dir := Dir("work")
	assert.Equal(t, filepath.Join(base, "profiles", "work"), dir)
	for _, p := range []string{SocketPath("work"), LockPath("work"), DBPath("work"), LogPath("work")} {
		assert.Truef(t, strings.HasPrefix(p, dir), "%s outside %s", p, dir)
	}
	assert.Equal(t, filepath.Join(base, "config.toml"), ConfigPath())
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("MSGDB_HOME", t.TempDir())

	require.NoError(t, EnsureDir("main"))
	info, err := os.Stat(LogDir("main"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
}

func TestResolvePrecedence(t *testing.T) {
	t.Setenv("MSGDB_HOME", t.TempDir())

	assert.Equal(t, DefaultName, Resolve(""))

	cfg := config.Default()
	cfg.DefaultProfile = "configured"
	require.NoError(t, config.Save(ConfigPath(), cfg))
	assert.Equal(t, "configured", Resolve(""))
	assert.Equal(t, "flag", Resolve("flag"))
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "work123", false},
		{"valid with hyphen", "my-profile", false},
		{"valid with underscore", "my_profile", false},
		{"valid max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"dot", "my.profile", true},
		{"too long", strings.Repeat("a", 65), true},
		{"slash", "my/profile", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			assert.Equal(t, tt.wantErr, err != nil, "ValidateName(%q) = %v", tt.input, err)
		})
	}
}
