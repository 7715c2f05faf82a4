package batch

import (
	"errors"
	"fmt"
	"os"

	"pngoo-go/internal/compressor"
)

// DefaultWorkers is used when Config.Workers is not positive.
const DefaultWorkers = 4

// ErrConfiguration marks a batch that cannot start.
var ErrConfiguration = errors.New("invalid batch configuration")

// Config describes one batch run. It is copied at Start; changing it
// afterwards has no effect on the running batch.
type Config struct {
	Files []string
	// OutputDirectory is where results are written. Nil means beside each
	// source file, overwriting it.
	OutputDirectory *string
	// OutputIfLarger writes the compressed result even when it is not smaller.
	OutputIfLarger bool
	Workers        int
	Settings       compressor.Settings
}

// Validate checks the configuration before any worker starts.
func (c *Config) Validate() error {
	if len(c.Files) == 0 {
		return fmt.Errorf("%w: no files in batch", ErrConfiguration)
	}

	if c.OutputDirectory != nil {
		if *c.OutputDirectory == "" {
			return fmt.Errorf("%w: output directory required", ErrConfiguration)
		}
		info, err := os.Stat(*c.OutputDirectory)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("%w: output directory does not exist: %s", ErrConfiguration, *c.OutputDirectory)
		}
	}

	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

// workerCount clamps the configured worker count to [1, len(Files)].
func (c *Config) workerCount() int {
	workers := c.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > len(c.Files) {
		workers = len(c.Files)
	}
	return max(workers, 1)
}

func (c Config) snapshot() Config {
	c.Files = append([]string(nil), c.Files...)
	if c.OutputDirectory != nil {
		dir := *c.OutputDirectory
		c.OutputDirectory = &dir
	}
	if c.Settings.Indexed != nil {
		indexed := *c.Settings.Indexed
		c.Settings.Indexed = &indexed
	}
	return c
}
