package debugdump

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/skypro1111/utterance-service/internal/audio"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

func TestDumpWritesWAV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "debug_audio")

	dumper, err := NewDumper(dir, mono16k, nil)
	if err != nil {
		t.Fatalf("NewDumper failed: %v", err)
	}
	dumper.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	samples := []int16{0, 100, -100, 32767}
	path, err := dumper.Dump(samples, "rejected")
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}

	name := filepath.Base(path)
	if !regexp.MustCompile(`^rejected_20260304_050607_[0-9a-f]{8}\.wav$`).MatchString(name) {
		t.Errorf("Unexpected dump file name %q", name)
	}

	if filepath.Dir(path) != dir {
		t.Errorf("Expected dump in %s, got %s", dir, filepath.Dir(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read dump: %v", err)
	}

	decoded, format, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("Dump is not a valid WAV: %v", err)
	}

	if format != mono16k {
		t.Errorf("Expected format %+v, got %+v", mono16k, format)
	}

	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestDumpUniqueNames(t *testing.T) {
	dumper, _ := NewDumper(t.TempDir(), mono16k, nil)

	first, err := dumper.Dump([]int16{1}, "error")
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	second, err := dumper.Dump([]int16{1}, "error")
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}

	if first == second {
		t.Error("Expected distinct file names within the same second")
	}
}

func TestDumpErrors(t *testing.T) {
	if _, err := NewDumper("", mono16k, nil); err == nil {
		t.Error("Expected error for empty directory")
	}

	if _, err := NewDumper(t.TempDir(), audio.Format{SampleRate: 16000, Channels: 1, BitsPerSample: 24}, nil); err == nil {
		t.Error("Expected error for unsupported format")
	}

	dumper, _ := NewDumper(t.TempDir(), mono16k, nil)

	if _, err := dumper.Dump([]int16{1}, "../escape"); err == nil {
		t.Error("Expected error for reason with path separators")
	}

	if _, err := dumper.Dump(nil, "error"); err == nil {
		t.Error("Expected error for empty segment")
	}

	// a regular file where the directory should be
	blocker := filepath.Join(t.TempDir(), "file")
	os.WriteFile(blocker, []byte("x"), 0o644)
	blocked, _ := NewDumper(filepath.Join(blocker, "sub"), mono16k, nil)
	if _, err := blocked.Dump([]int16{1}, "error"); err == nil {
		t.Error("Expected error when the directory cannot be created")
	}
}
