package staging

import (
	"archive/zip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/cascade/internal/model"
)

type recordingMirror struct {
	mu   sync.Mutex
	keys []string
}

func (m *recordingMirror) Upload(_ context.Context, key, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newDir(t *testing.T, mirror Mirror) *Dir {
	t.Helper()
	d, err := NewDir(filepath.Join(t.TempDir(), "staging"), "https://proxy.golang.org,direct", mirror)
	require.NoError(t, err)
	d.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return d
}

func TestDir_StageModuleWritesProxyLayout(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go.mod"), "module example.com/Core/v2\n\ngo 1.22\n")
	writeFile(t, filepath.Join(root, "core.go"), "package core\n")
	writeFile(t, filepath.Join(root, "tools", "go.mod"), "module example.com/Core/tools\n")
	mirror := &recordingMirror{}
	d := newDir(t, mirror)

	c := model.ModuleCoordinate{Path: "example.com/Core/v2", Ver: "v2.0.0"}
	files, err := d.Stage(context.Background(), root, []model.Coordinate{c})
	require.NoError(t, err)
	require.Len(t, files, 4)

	vdir := filepath.Join(d.Root(), "example.com", "!core", "v2", "@v")
	var info versionInfo
	data, err := os.ReadFile(filepath.Join(vdir, "v2.0.0.info"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, "v2.0.0", info.Version)

	mod, err := os.ReadFile(filepath.Join(vdir, "v2.0.0.mod"))
	require.NoError(t, err)
	assert.Contains(t, string(mod), "module example.com/Core/v2")

	zr, err := zip.OpenReader(filepath.Join(vdir, "v2.0.0.zip"))
	require.NoError(t, err)
	defer zr.Close()
	hasSource := false
	for _, f := range zr.File {
		assert.False(t, strings.Contains(f.Name, "tools/"), "nested modules are excluded: %s", f.Name)
		if strings.HasSuffix(f.Name, "@v2.0.0/core.go") {
			hasSource = true
		}
	}
	assert.True(t, hasSource)

	_, err = d.Stage(context.Background(), root, []model.Coordinate{c})
	require.NoError(t, err)
	list, err := os.ReadFile(filepath.Join(vdir, "list"))
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0\n", string(list), "versions are listed once")

	assert.Contains(t, mirror.keys, "example.com/!core/v2/@v/v2.0.0.zip")
	assert.Contains(t, d.Env(), "GONOSUMDB=example.com/Core/v2")
}

func TestDir_EnvBeforeStaging(t *testing.T) {
	d := newDir(t, nil)
	env := d.Env()
	require.Len(t, env, 1)
	assert.Equal(t, "GOPROXY=file://"+filepath.ToSlash(d.Root())+",https://proxy.golang.org,direct", env[0])
}

func TestDir_StageArtifact(t *testing.T) {
	d := newDir(t, nil)
	c := model.ArtifactCoordinate{Group: "com.acme", Artifact: "web", Ver: "1.3.0"}
	files, err := d.Stage(context.Background(), t.TempDir(), []model.Coordinate{c})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(d.Root(), "artifacts", "com.acme", "web", "1.3.0", "artifact.yaml"), files[0])

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: web")
	assert.Contains(t, string(data), "version: 1.3.0")

	_, err = d.Stage(context.Background(), t.TempDir(), []model.Coordinate{model.ArtifactCoordinate{Artifact: "web"}})
	assert.ErrorContains(t, err, "without a version")
}

func TestDir_StageUnknownModule(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go.mod"), "module example.com/other\n")
	_, err := newDir(t, nil).Stage(context.Background(), root, []model.Coordinate{model.ModuleCoordinate{Path: "example.com/core", Ver: "v1.0.0"}})
	assert.ErrorContains(t, err, "declares example.com/core")
}

func TestNewS3Mirror_Validation(t *testing.T) {
	_, err := NewS3Mirror(model.S3Config{}, "run")
	assert.ErrorContains(t, err, "endpoint is required")

	_, err = NewS3Mirror(model.S3Config{Endpoint: "localhost:9000", Bucket: "b"}, "run")
	assert.ErrorContains(t, err, "access key")

	creds := model.S3Config{Endpoint: "localhost:9000", Bucket: "b", AccessKey: "k", SecretKey: "s"}
	_, err = NewS3Mirror(creds, "run_1")
	assert.ErrorContains(t, err, "invalid run id")

	m, err := NewS3Mirror(creds, "run_0000000001_aaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, "run_0000000001_aaaaaaaa/example.com/core/@v/list", objectKey(m.prefix, "/example.com/core/@v/list"))
}
