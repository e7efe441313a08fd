package workspace_test

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "github.com/statichq/sitesmith/api/v1alpha1"
	"github.com/statichq/sitesmith/internal/workspace"
)

func TestWriteManifestHonorsEncodingAndExecutable(t *testing.T) {
	m, err := workspace.NewManager(t.TempDir(), "job-1")
	require.NoError(t, err)

	manifest := &api.Manifest{
		Files: []api.ManifestFile{
			{Path: "index.html", Content: "<html></html>"},
			{Path: "assets/data.bin", Content: base64.StdEncoding.EncodeToString([]byte{0x01, 0x02}), Encoding: "base64"},
			{Path: "build.sh", Content: "#!/bin/sh\n", Executable: true},
		},
		Readme: "# generated",
	}
	require.NoError(t, m.WriteManifest(manifest))

	html, err := os.ReadFile(filepath.Join(m.Path(), "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(html))

	bin, err := os.ReadFile(filepath.Join(m.Path(), "assets", "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, bin)

	info, err := os.Stat(filepath.Join(m.Path(), "build.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111, "executable bit should be set")

	readme, err := os.ReadFile(filepath.Join(m.Path(), "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "# generated", string(readme))

	assert.True(t, m.HasIndex())
}

func TestWriteManifestRejectsEscapingPath(t *testing.T) {
	m, err := workspace.NewManager(t.TempDir(), "job-2")
	require.NoError(t, err)

	manifest := &api.Manifest{
		Files: []api.ManifestFile{{Path: "../outside.txt", Content: "x"}},
	}
	err = m.WriteManifest(manifest)
	var escape *workspace.EntryEscapesRootError
	require.True(t, errors.As(err, &escape))
}

func TestEnsureReadmeDoesNotOverwrite(t *testing.T) {
	m, err := workspace.NewManager(t.TempDir(), "job-3")
	require.NoError(t, err)

	require.NoError(t, m.WriteManifest(&api.Manifest{Readme: "from manifest"}))
	require.NoError(t, m.EnsureReadme("synthesized default"))

	readme, err := os.ReadFile(filepath.Join(m.Path(), "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "from manifest", string(readme))
}

func TestRunCommandsReportsFailure(t *testing.T) {
	m, err := workspace.NewManager(t.TempDir(), "job-4")
	require.NoError(t, err)

	require.NoError(t, m.RunCommands(context.Background(), []string{"true"}))
	err = m.RunCommands(context.Background(), []string{"exit 3"})
	require.Error(t, err)
}

func TestCleanupIsIdempotent(t *testing.T) {
	m, err := workspace.NewManager(t.TempDir(), "job-5")
	require.NoError(t, err)

	require.NoError(t, m.Cleanup())
	require.NoError(t, m.Cleanup())
	_, statErr := os.Stat(m.Path())
	assert.True(t, os.IsNotExist(statErr))
}
