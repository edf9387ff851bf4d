package loader

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rzpsarthak13/persistence/internal/core"
	"github.com/rzpsarthak13/persistence/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "User.yaml", `
datastore: default
attributes:
  name:
    type: string
    required: true
  token:
    type: string
    generator: uuid
  uuid: null
`)
	writeFile(t, dir, "pet.json", `{"identity": "pet", "globalId": "Animal", "attributes": {"species": {"type": "string"}}}`)
	writeFile(t, dir, "pet.json~", `not a model`)
	writeFile(t, dir, ".hidden", `ignored`)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	defs, err := LoadDirectory(context.Background(), dir, regexp.MustCompile(DefaultPattern))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	user := defs[0]
	assert.Equal(t, "user", user.Identity)
	assert.Equal(t, "User", user.ExportName)
	assert.Equal(t, "default", user.Datastore)
	assert.Equal(t, filepath.Join(dir, "User.yaml"), user.Source)
	assert.Equal(t, true, user.Attributes["name"]["required"])
	assert.Nil(t, user.Attributes["uuid"])
	assert.Contains(t, user.Attributes, "uuid")
	_, hasGenerator := user.Attributes["token"][generatorKey]
	assert.False(t, hasGenerator)
	assert.IsType(t, model.Generator(nil), user.Attributes["token"]["defaultsTo"])

	want := &model.Definition{
		Identity:   "pet",
		GlobalID:   "Animal",
		Attributes: model.Attributes{"species": {"type": "string"}},
		Source:     filepath.Join(dir, "pet.json"),
	}
	if diff := cmp.Diff(want, defs[1]); diff != "" {
		t.Errorf("pet definition mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDirectoryMissing(t *testing.T) {
	_, err := LoadDirectory(context.Background(), filepath.Join(t.TempDir(), "nope"), nil)
	require.ErrorIs(t, err, core.ErrDirectoryNotFound)
}

func TestLoadDirectoryRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    error
	}{
		{name: "unknown generator", file: "a.yaml", content: "attributes:\n  x:\n    generator: nope\n", want: core.ErrModelValidation},
		{name: "unsupported format", file: "a.txt", content: "identity: a"},
		{name: "broken yaml", file: "a.yml", content: "identity: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, tt.file, tt.content)
			_, err := LoadDirectory(context.Background(), dir, nil)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestSourcePattern(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "user.yaml", "identity: user\n")
	writeFile(t, dir, "notes.txt", "not a model")

	src, err := NewSource(dir, `\.ya?ml$`)
	require.NoError(t, err)
	defs, err := src.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "user", defs[0].Identity)

	_, err = NewSource(dir, "(")
	require.Error(t, err)
}

func TestWatcherDebounces(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	w, err := NewWatcher(dir, regexp.MustCompile(`\.yaml$`), 50*time.Millisecond, nil, func(context.Context) {
		calls.Add(1)
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer func() { require.NoError(t, w.Stop()) }()

	writeFile(t, dir, "a.yaml", "identity: a\n")
	writeFile(t, dir, "b.yaml", "identity: b\n")
	writeFile(t, dir, "ignored.txt", "x")

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}
