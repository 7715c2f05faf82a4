package batch

import (
	"path/filepath"
	"testing"

	"pngoo-go/internal/compressor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestConfigValidate(t *testing.T) {
	existing := t.TempDir()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid in place", Config{Files: []string{"a.png"}, Settings: compressor.DefaultSettings()}, false},
		{"valid output dir", Config{Files: []string{"a.png"}, OutputDirectory: &existing, Settings: compressor.DefaultSettings()}, false},
		{"no files", Config{Settings: compressor.DefaultSettings()}, true},
		{"output dir required", Config{Files: []string{"a.png"}, OutputDirectory: strPtr(""), Settings: compressor.DefaultSettings()}, true},
		{"output dir missing", Config{Files: []string{"a.png"}, OutputDirectory: strPtr(filepath.Join(existing, "nope")), Settings: compressor.DefaultSettings()}, true},
		{"bad settings", Config{Files: []string{"a.png"}, Settings: compressor.Settings{Kind: compressor.KindIndexed, Indexed: &compressor.IndexedSettings{Colours: 1}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrConfiguration)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigWorkerCount(t *testing.T) {
	files := []string{"a", "b", "c"}

	assert.Equal(t, 3, (&Config{Files: files}).workerCount())
	assert.Equal(t, 2, (&Config{Files: files, Workers: 2}).workerCount())
	assert.Equal(t, 3, (&Config{Files: files, Workers: 64}).workerCount())
	assert.Equal(t, 1, (&Config{Files: []string{"a"}, Workers: -1}).workerCount())
}

func TestConfigSnapshotIsIndependent(t *testing.T) {
	dir := "/out"
	cfg := Config{Files: []string{"a", "b"}, OutputDirectory: &dir, Settings: compressor.DefaultSettings()}
	snap := cfg.snapshot()

	cfg.Files[0] = "changed"
	dir = "/elsewhere"
	cfg.Settings.Indexed.Colours = 2

	assert.Equal(t, "a", snap.Files[0])
	assert.Equal(t, "/out", *snap.OutputDirectory)
	assert.Equal(t, compressor.DefaultColours, snap.Settings.Indexed.Colours)
}
