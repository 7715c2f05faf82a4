package inspector

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"
	"time"

	"pngoo-go/internal/compressor"
	"pngoo-go/internal/logger"

	"github.com/barasher/go-exiftool"
	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
)

// MetadataSource tells where the EXIF fields of an ImageInfo came from.
type MetadataSource string

const (
	SourceNone     MetadataSource = ""
	SourceGoExif   MetadataSource = "goexif"
	SourceExiftool MetadataSource = "exiftool"
)

// ImageInfo describes an input file before compression.
type ImageInfo struct {
	Path   string `json:"path"`
	Format string `json:"format"`
	// ExtensionFormat is the format the file name claims.
	ExtensionFormat string         `json:"extension_format,omitempty"`
	Width           int            `json:"width"`
	Height          int            `json:"height"`
	Size            int64          `json:"size"`
	ModTime         time.Time      `json:"mod_time"`
	IsPNG           bool           `json:"is_png"`
	Software        string         `json:"software,omitempty"`
	DateTime        *time.Time     `json:"date_time,omitempty"`
	Orientation     int            `json:"orientation,omitempty"`
	Source          MetadataSource `json:"metadata_source,omitempty"`
}

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	TotalQueries int64   `json:"total_queries"`
	HitRate      float64 `json:"hit_rate"`
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithExiftool enables the exiftool backend for files goexif cannot read,
// such as PNG. It is skipped with a warning when exiftool is not installed.
func WithExiftool() Option {
	return func(i *Inspector) {
		i.wantExiftool = true
	}
}

// Inspector reads format, dimensions and EXIF fields of image files.
// Results are cached by path, size and modification time.
type Inspector struct {
	logger *logrus.Logger
	cache  *sync.Map

	wantExiftool bool
	etMu         sync.Mutex
	et           *exiftool.Exiftool

	mutex sync.RWMutex
	stats CacheStats
}

// NewInspector returns an Inspector.
func NewInspector(log *logrus.Logger, opts ...Option) *Inspector {
	if log == nil {
		log = logger.Discard()
	}
	i := &Inspector{logger: log, cache: &sync.Map{}}
	for _, opt := range opts {
		opt(i)
	}

	if i.wantExiftool {
		et, err := exiftool.NewExiftool()
		if err != nil {
			log.WithError(err).Warn("exiftool unavailable, falling back to goexif only")
		} else {
			i.et = et
		}
	}
	return i
}

// Close stops the exiftool process if one was started.
func (i *Inspector) Close() error {
	i.etMu.Lock()
	defer i.etMu.Unlock()
	if i.et == nil {
		return nil
	}
	err := i.et.Close()
	i.et = nil
	return err
}

// Inspect returns information about the image at path. A file that is not a
// decodable image yields an error wrapping compressor.ErrInvalidImageFormat.
func (i *Inspector) Inspect(path string) (*ImageInfo, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to stat file: %v", compressor.ErrIO, err)
	}
	if fileInfo.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", compressor.ErrIO, path)
	}

	key := cacheKey(path, fileInfo)
	if cached, ok := i.cache.Load(key); ok {
		i.recordQuery(true)
		info := cached.(ImageInfo)
		return &info, nil
	}
	i.recordQuery(false)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read file: %v", compressor.ErrIO, err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", compressor.ErrInvalidImageFormat, path, err)
	}

	info := ImageInfo{
		Path:    path,
		Format:  format,
		Width:   cfg.Width,
		Height:  cfg.Height,
		Size:    fileInfo.Size(),
		ModTime: fileInfo.ModTime(),
		IsPNG:   compressor.IsPNG(data),

		ExtensionFormat: FormatFromPath(path),
	}

	log := logger.WithFile(i.logger, path)
	if err := readGoExif(data, &info); err != nil {
		log.WithError(err).Debug("No EXIF via goexif")
		if err := i.readExiftool(path, &info); err != nil {
			log.WithError(err).Debug("No metadata via exiftool")
		}
	}

	i.cache.Store(key, info)
	return &info, nil
}

// MismatchedExtension reports a file whose name claims a different format
// than its content.
func (info *ImageInfo) MismatchedExtension() bool {
	return info.ExtensionFormat != "" && info.ExtensionFormat != info.Format
}

// ClearCache removes all entries from the internal cache and resets statistics.
func (i *Inspector) ClearCache() {
	i.cache.Clear()
	i.mutex.Lock()
	i.stats = CacheStats{}
	i.mutex.Unlock()
}

// GetCacheStats returns cache statistics.
func (i *Inspector) GetCacheStats() CacheStats {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	stats := i.stats
	if stats.TotalQueries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalQueries)
	}
	return stats
}

// FormatFromPath returns the format implied by the file extension, or an
// empty string when the extension is not a supported image type.
func FormatFromPath(path string) string {
	f, err := imaging.FormatFromFilename(path)
	if err != nil {
		return ""
	}
	return strings.ToLower(f.String())
}

// readGoExif fills EXIF fields of JPEG and TIFF data.
func readGoExif(data []byte, info *ImageInfo) error {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}
	info.Source = SourceGoExif

	if field, err := x.Get(exif.Software); err == nil {
		if s, err := field.StringVal(); err == nil {
			info.Software = strings.TrimSpace(s)
		}
	}
	if tm, err := x.DateTime(); err == nil {
		info.DateTime = &tm
	}
	if field, err := x.Get(exif.Orientation); err == nil {
		if o, err := field.Int(0); err == nil {
			info.Orientation = o
		}
	}
	return nil
}

func (i *Inspector) readExiftool(path string, info *ImageInfo) error {
	i.etMu.Lock()
	defer i.etMu.Unlock()
	if i.et == nil {
		return fmt.Errorf("exiftool backend not enabled")
	}

	files := i.et.ExtractMetadata(path)
	if len(files) == 0 {
		return fmt.Errorf("exiftool returned no metadata")
	}
	if files[0].Err != nil {
		return files[0].Err
	}
	fields := files[0].Fields
	info.Source = SourceExiftool

	if sw, ok := fields["Software"].(string); ok {
		info.Software = sw
	}
	for _, name := range []string{"DateTimeOriginal", "CreateDate", "ModifyDate"} {
		if s, ok := fields[name].(string); ok {
			if tm := parseEXIFDateTime(s); tm != nil {
				info.DateTime = tm
				break
			}
		}
	}
	if o, ok := fields["Orientation"].(float64); ok {
		info.Orientation = int(o)
	}
	return nil
}

func parseEXIFDateTime(dateStr string) *time.Time {
	formats := []string{
		"2006:01:02 15:04:05",
		"2006:01:02 15:04:05-07:00",
		"2006-01-02 15:04:05",
		time.RFC3339,
	}
	for _, format := range formats {
		if date, err := time.Parse(format, dateStr); err == nil {
			return &date
		}
	}
	return nil
}

func cacheKey(path string, fileInfo os.FileInfo) string {
	return fmt.Sprintf("%s:%d:%d", path, fileInfo.Size(), fileInfo.ModTime().UnixNano())
}

func (i *Inspector) recordQuery(hit bool) {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	if hit {
		i.stats.Hits++
	} else {
		i.stats.Misses++
	}
	i.stats.TotalQueries++
}
