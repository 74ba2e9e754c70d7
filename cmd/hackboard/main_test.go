package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionShort(t *testing.T) {
	var out bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--short"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestCheckConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hackboard.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage":{"driver":"memory"},"toast":{"max_visible":3}}`), 0o600))

	var out bytes.Buffer
	cmd := checkConfigCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "config ok")
	assert.Contains(t, out.String(), "max_visible=3")

	cmd = checkConfigCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{})
	assert.Error(t, cmd.Execute())
}
