package compressor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultToolPath is looked up on PATH when no explicit tool is configured.
	DefaultToolPath = "pngquant"

	suffixFloydSteinberg = "-fs8.png"
	suffixOrdered        = "-or8.png"

	// pngquant exit statuses for "result larger than input" and "quality too low".
	// The tool only uses them with --skip-if-larger or --quality.
	exitSkippedLarger = 98
	exitQualityTooLow = 99
)

// PNGQuantConfig configures the pngquant strategy.
type PNGQuantConfig struct {
	ToolPath string        // Executable to run (default "pngquant")
	TempDir  string        // Directory for staged files (default os.TempDir())
	Timeout  time.Duration // Per-invocation limit; zero means none
}

// PNGQuant reduces images to an indexed palette PNG using the pngquant tool.
type PNGQuant struct {
	config PNGQuantConfig
	logger *logrus.Logger
}

// NewPNGQuant returns a PNGQuant strategy.
func NewPNGQuant(config PNGQuantConfig, logger *logrus.Logger) *PNGQuant {
	if config.ToolPath == "" {
		config.ToolPath = DefaultToolPath
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &PNGQuant{config: config, logger: logger}
}

// Name returns the strategy name.
func (p *PNGQuant) Name() string {
	return "pngquant"
}

// Extension returns the output extension.
func (p *PNGQuant) Extension() string {
	return "png"
}

// Recognizes reports whether data is already a PNG.
func (p *PNGQuant) Recognizes(data []byte) bool {
	return IsPNG(data)
}

// Compress stages input into a temp file, runs pngquant on it and returns the
// bytes of the quantized output. Both temp files are removed before returning.
func (p *PNGQuant) Compress(ctx context.Context, input []byte, settings Settings) ([]byte, error) {
	if settings.Kind != KindIndexed || settings.Indexed == nil {
		return nil, fmt.Errorf("%w: pngquant cannot handle %q", ErrUnknownKind, settings.Kind)
	}

	img, err := imaging.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImageFormat, err)
	}

	tmpPath, err := p.stage(input, img)
	if err != nil {
		return nil, err
	}
	defer p.remove(tmpPath)

	outputPath := tmpPath + outputSuffix(settings.Indexed)
	defer p.remove(outputPath)

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.config.ToolPath, buildArgs(settings.Indexed, tmpPath)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if stderr.Len() > 0 || stdout.Len() > 0 {
		p.logger.WithFields(logrus.Fields{
			"tool":   p.config.ToolPath,
			"stdout": strings.TrimSpace(stdout.String()),
			"stderr": strings.TrimSpace(stderr.String()),
		}).Debug("pngquant output")
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			switch exitErr.ExitCode() {
			case exitSkippedLarger, exitQualityTooLow:
				return nil, ErrNoImprovement
			}
		}
		return nil, fmt.Errorf("%w: %s: %v: %s", ErrExternalToolFailed,
			p.config.ToolPath, runErr, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: expected output %s missing", ErrExternalToolFailed, outputPath)
		}
		return nil, fmt.Errorf("%w: read output: %v", ErrIO, err)
	}
	return data, nil
}

// stage writes the input to a temp file for the tool. PNG input is written
// verbatim; anything else is re-encoded as PNG.
func (p *PNGQuant) stage(input []byte, img image.Image) (string, error) {
	f, err := os.CreateTemp(p.config.TempDir, "pngoo-*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %v", ErrIO, err)
	}
	path := f.Name()

	if IsPNG(input) {
		_, err = f.Write(input)
	} else {
		err = imaging.Encode(f, img, imaging.PNG)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		p.remove(path)
		return "", fmt.Errorf("%w: stage input: %v", ErrIO, err)
	}
	return path, nil
}

func (p *PNGQuant) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.WithField("file", path).Warnf("Could not remove temp file: %v", err)
	}
}

func buildArgs(s *IndexedSettings, path string) []string {
	args := make([]string, 0, 5)
	if s.OrderedDither {
		args = append(args, "--nofs")
	}
	if s.SkipIfLarger {
		args = append(args, "--skip-if-larger")
	}
	return append(args, strconv.Itoa(s.Colours), "--", path)
}

func outputSuffix(s *IndexedSettings) string {
	if s.OrderedDither {
		return suffixOrdered
	}
	return suffixFloydSteinberg
}
