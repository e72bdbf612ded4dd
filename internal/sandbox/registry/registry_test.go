package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-infra/sandboxd/internal/logging"
)

func writeRegistryFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeRegistryFile(t, `
containers:
  python-sandbox:
    description: run python
    image: sandboxd/python-sandbox:latest
    security:
      network_mode: none
      read_only: true
settings:
  default_session_ttl: 900
`)

	reg := New(path, logging.OrNop(nil))
	require.NoError(t, reg.Load())

	profile, ok := reg.Get("python-sandbox")
	require.True(t, ok)
	assert.Equal(t, "python-sandbox", profile.Name)
	assert.Equal(t, "sandboxd/python-sandbox:latest", profile.Image)
	assert.Equal(t, "none", profile.Security.NetworkMode)
	assert.True(t, reg.Allowed("python-sandbox"))
	assert.False(t, reg.Allowed("nonexistent"))
}

func TestLoad_MissingImageSynthesizesFromName(t *testing.T) {
	path := writeRegistryFile(t, `
containers:
  node-sandbox:
    description: run node
`)

	reg := New(path, logging.OrNop(nil))
	require.NoError(t, reg.Load())

	profile, ok := reg.Get("node-sandbox")
	require.True(t, ok)
	assert.Contains(t, profile.Image, "node-sandbox")
	assert.Equal(t, "default", profile.Security.NetworkMode)
}

func TestLoad_MissingFileDegradesToEmptyCatalog(t *testing.T) {
	reg := New(filepath.Join(t.TempDir(), "does-not-exist.yaml"), logging.OrNop(nil))
	err := reg.Load()
	assert.Error(t, err)
	assert.Empty(t, reg.List())
	assert.False(t, reg.Allowed("anything"))
}

func TestLoad_InvalidYAMLDegradesToEmptyCatalog(t *testing.T) {
	path := writeRegistryFile(t, "not: [valid: yaml")
	reg := New(path, logging.OrNop(nil))
	err := reg.Load()
	assert.Error(t, err)
	assert.Empty(t, reg.List())
}

func TestList_SortedByName(t *testing.T) {
	path := writeRegistryFile(t, `
containers:
  zeta:
    image: z:latest
  alpha:
    image: a:latest
`)
	reg := New(path, logging.OrNop(nil))
	require.NoError(t, reg.Load())

	names := []string{}
	for _, p := range reg.List() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"alpha", "zeta"}, names)
}
