package compressor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedStrategy struct{ name string }

func (s namedStrategy) Name() string                { return s.name }
func (s namedStrategy) Extension() string           { return "png" }
func (s namedStrategy) Recognizes(data []byte) bool { return IsPNG(data) }
func (s namedStrategy) Compress(_ context.Context, input []byte, _ Settings) ([]byte, error) {
	return input, nil
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		wantErr  bool
	}{
		{"default", DefaultSettings(), false},
		{"min colours", Settings{Kind: KindIndexed, Indexed: &IndexedSettings{Colours: 2}}, false},
		{"max colours", Settings{Kind: KindIndexed, Indexed: &IndexedSettings{Colours: 256}}, false},
		{"too few colours", Settings{Kind: KindIndexed, Indexed: &IndexedSettings{Colours: 1}}, true},
		{"too many colours", Settings{Kind: KindIndexed, Indexed: &IndexedSettings{Colours: 257}}, true},
		{"missing payload", Settings{Kind: KindIndexed}, true},
		{"unknown kind", Settings{Kind: "truecolour"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistrySelectsByKind(t *testing.T) {
	r := NewRegistry()
	r.Register(KindIndexed, namedStrategy{name: "first"})

	s, err := r.For(DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, "first", s.Name())

	r.Register(KindIndexed, namedStrategy{name: "second"})
	s, err = r.For(DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, "second", s.Name())

	_, err = r.For(Settings{Kind: "lossless"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestIsPNG(t *testing.T) {
	assert.True(t, IsPNG(append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, 0, 0)))
	assert.False(t, IsPNG([]byte{0xff, 0xd8, 0xff, 0xe0, 0, 0, 0, 0}))
	assert.False(t, IsPNG([]byte{0x89, 'P', 'N'}))
	assert.False(t, IsPNG(nil))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "", Classify(nil))
	assert.Equal(t, "InvalidImageFormat", Classify(fmt.Errorf("decode: %w", ErrInvalidImageFormat)))
	assert.Equal(t, "ExternalToolFailed", Classify(fmt.Errorf("run: %w", ErrExternalToolFailed)))
	assert.Equal(t, "IOError", Classify(fmt.Errorf("write: %w", ErrIO)))
	assert.Equal(t, "Unknown", Classify(fmt.Errorf("something else")))
}
