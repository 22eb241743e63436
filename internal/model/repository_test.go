package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		raw       string
		canonical string
		dir       string
	}{
		{"https://github.com/acme/core.git", "https://github.com/acme/core", "core"},
		{"https://github.com/acme/core/", "https://github.com/acme/core", "core"},
		{"git@github.com:acme/api.git", "git@github.com:acme/api", "api"},
		{"ssh://git@host:2222/acme/tools.git", "ssh://git@host:2222/acme/tools", "tools"},
		{"file:///srv/git/lib.git", "file:///srv/git/lib", "lib"},
		{"/srv/git/local", "/srv/git/local", "local"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			canonical, dir, err := CanonicalURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.canonical, canonical)
			assert.Equal(t, tt.dir, dir)
		})
	}
}

func TestCanonicalURL_Malformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "https:///acme", "https://host"} {
		_, _, err := CanonicalURL(raw)
		var cfgErr *ConfigError
		assert.ErrorAs(t, err, &cfgErr, "input %q", raw)
	}
}

func TestNewDescriptor_DefaultBranch(t *testing.T) {
	d, err := NewDescriptor("https://github.com/acme/core.git", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultBranch, d.Branch)
	assert.Equal(t, IncrementAuto, d.Increment)
	assert.Equal(t, "core", d.ShortName())
	assert.Equal(t, "https://github.com/acme/core", d.String())

	d, err = NewDescriptor("https://github.com/acme/core.git", "release/1.x")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/core#release/1.x", d.String())
}

func TestParseIncrement(t *testing.T) {
	inc, err := ParseIncrement("")
	require.NoError(t, err)
	assert.Equal(t, IncrementAuto, inc)

	inc, err = ParseIncrement(" Minor ")
	require.NoError(t, err)
	assert.Equal(t, IncrementMinor, inc)

	_, err = ParseIncrement("huge")
	assert.Error(t, err)
}
