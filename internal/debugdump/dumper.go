package debugdump

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/utterance-service/internal/audio"
	"github.com/skypro1111/utterance-service/internal/metrics"
)

var reasonPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Dumper writes raw segments to WAV files named
// <dir>/<reason>_<YYYYMMDD_HHMMSS>_<short id>.wav
type Dumper struct {
	dir     string
	format  audio.Format
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewDumper creates a dumper writing into dir. The directory is created on
// first use.
func NewDumper(dir string, format audio.Format, m *metrics.Metrics) (*Dumper, error) {
	if dir == "" {
		return nil, fmt.Errorf("dump directory cannot be empty")
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dump format: %w", err)
	}

	return &Dumper{
		dir:     dir,
		format:  format,
		metrics: m,
		now:     time.Now,
	}, nil
}

// Dump writes samples as a WAV file and returns its path
func (d *Dumper) Dump(samples []int16, reason string) (string, error) {
	path, err := d.write(samples, reason)
	d.metrics.RecordDump(reason, err)
	return path, err
}

func (d *Dumper) write(samples []int16, reason string) (string, error) {
	if !reasonPattern.MatchString(reason) {
		return "", fmt.Errorf("invalid dump reason %q", reason)
	}

	data, err := audio.EncodeWAV(samples, d.format)
	if err != nil {
		return "", fmt.Errorf("failed to encode dump: %w", err)
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create dump directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s_%s.wav", reason, d.now().Format("20060102_150405"), uuid.NewString()[:8])
	path := filepath.Join(d.dir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write dump %s: %w", path, err)
	}

	return path, nil
}

// Dir returns the dump directory
func (d *Dumper) Dir() string {
	return d.dir
}
