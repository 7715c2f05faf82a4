package compressor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
)

// Kind selects the compression strategy variant.
type Kind string

const (
	// KindIndexed produces a palette (indexed colour) PNG.
	KindIndexed Kind = "indexed"
)

const (
	MinColours     = 2
	MaxColours     = 256
	DefaultColours = 256
)

var pngSignature = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

var (
	ErrInvalidImageFormat = errors.New("invalid image format")
	ErrExternalToolFailed = errors.New("external tool failed")
	ErrIO                 = errors.New("i/o error")
	// ErrNoImprovement is returned by a strategy that decided its output would
	// not beat the input. The original is kept and no winner is reported.
	ErrNoImprovement = errors.New("compression produced no improvement")
	ErrUnknownKind   = errors.New("unknown compression type")
)

// IndexedSettings configures palette reduction.
type IndexedSettings struct {
	Colours       int  `json:"colours" mapstructure:"colours"`
	OrderedDither bool `json:"ordered_dither" mapstructure:"ordered_dither"`
	// SkipIfLarger lets the tool refuse output that is not smaller, which is
	// reported as ErrNoImprovement.
	SkipIfLarger bool `json:"skip_if_larger" mapstructure:"skip_if_larger"`
}

// Settings is a tagged union over the supported compression variants.
// Kind picks the variant; the matching field carries its parameters.
type Settings struct {
	Kind    Kind             `json:"type"`
	Indexed *IndexedSettings `json:"indexed,omitempty"`
}

// DefaultSettings returns indexed compression with a full 256 colour palette.
func DefaultSettings() Settings {
	return Settings{
		Kind:    KindIndexed,
		Indexed: &IndexedSettings{Colours: DefaultColours},
	}
}

// Validate checks that the variant is known and its parameters are in range.
func (s Settings) Validate() error {
	switch s.Kind {
	case KindIndexed:
		if s.Indexed == nil {
			return fmt.Errorf("indexed settings missing")
		}
		if s.Indexed.Colours < MinColours || s.Indexed.Colours > MaxColours {
			return fmt.Errorf("invalid colour quantity %d: must be %d-%d",
				s.Indexed.Colours, MinColours, MaxColours)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, s.Kind)
	}
}

// Strategy turns image bytes into candidate output bytes.
type Strategy interface {
	// Name identifies the strategy when it wins a file.
	Name() string
	// Extension is the canonical output extension, without the dot.
	Extension() string
	// Recognizes reports whether data already belongs to the output family.
	Recognizes(data []byte) bool
	// Compress must not modify input. Errors wrap one of the package sentinels.
	Compress(ctx context.Context, input []byte, settings Settings) ([]byte, error)
}

// Registry maps a settings Kind to the strategy that handles it.
type Registry struct {
	mu         sync.RWMutex
	strategies map[Kind]Strategy
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[Kind]Strategy)}
}

// Register binds a strategy to a kind, replacing any previous binding.
func (r *Registry) Register(kind Kind, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[kind] = s
}

// For returns the strategy selected by settings.Kind.
func (r *Registry) For(settings Settings) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[settings.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, settings.Kind)
	}
	return s, nil
}

// IsPNG reports whether data starts with the PNG signature.
func IsPNG(data []byte) bool {
	return len(data) >= len(pngSignature) && bytes.Equal(data[:len(pngSignature)], pngSignature)
}

// Classify returns the taxonomy name of a per-file error.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidImageFormat):
		return "InvalidImageFormat"
	case errors.Is(err, ErrExternalToolFailed):
		return "ExternalToolFailed"
	case errors.Is(err, ErrIO):
		return "IOError"
	default:
		return "Unknown"
	}
}
