package editor

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoreinstein/backsnap/internal/errors"
)

func TestDetectEditor(t *testing.T) {
	tests := []struct {
		name   string
		editor string
		visual string
		want   string
	}{
		{"EDITOR wins", "nvim", "code", "nvim"},
		{"VISUAL when EDITOR unset", "", "code", "code"},
		{"EDITOR with arguments", "code --wait", "", "code --wait"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("EDITOR", tt.editor)
			t.Setenv("VISUAL", tt.visual)
			if got := detectEditor(); got != tt.want {
				t.Errorf("detectEditor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectEditor_Fallback(t *testing.T) {
	t.Setenv("EDITOR", "")
	t.Setenv("VISUAL", "")

	got := detectEditor()
	if _, err := exec.LookPath("nano"); err == nil {
		assert.Equal(t, "nano", got)
	} else {
		assert.Equal(t, "vi", got)
	}
}

func TestCommand(t *testing.T) {
	argv, err := command(`code --wait "--user-data-dir=/tmp/a b"`, "/state/config")
	require.NoError(t, err)
	assert.Equal(t, []string{"code", "--wait", "--user-data-dir=/tmp/a b", "/state/config"}, argv)

	_, err = command("   ", "/state/config")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))
}

func TestOpen(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte("MAXBACKUPS=8\n"), 0o644))

	t.Setenv("EDITOR", `sh -c 'echo edited >> "$0"; echo done'`)
	var stdout bytes.Buffer
	require.NoError(t, Open(t.Context(), path, strings.NewReader(""), &stdout, &stdout))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "MAXBACKUPS=8\nedited\n", string(data))
	assert.Equal(t, "done\n", stdout.String())
}

func TestOpen_EditorFails(t *testing.T) {
	t.Setenv("EDITOR", "false")
	err := Open(t.Context(), filepath.Join(t.TempDir(), "config"), nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running editor false")
}
