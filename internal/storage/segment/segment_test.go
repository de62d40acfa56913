package segment

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/engine"
)

func samplePartitions() [][]engine.Record {
	return [][]engine.Record{
		{{Key: "cat@d1", Value: "1"}, {Key: "sat@d1", Value: "1"}},
		{},
		{{Key: "the@d1", Value: "2"}},
	}
}

func TestWriteAndRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "job", "wordcount")
	m, err := NewWriter(dir).Write("wordcount", samplePartitions(), map[string]int64{"documents.count": 1})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if len(m.Parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(m.Parts))
	}
	if m.Records() != 3 {
		t.Errorf("expected 3 records, got %d", m.Records())
	}
	if !Exists(dir) {
		t.Fatal("expected completed stage directory")
	}

	r, err := Open(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	splits, err := r.Splits()
	if err != nil {
		t.Fatal(err)
	}
	if len(splits) != 2 {
		t.Fatalf("expected empty part to be dropped, got %d splits", len(splits))
	}
	if splits[0][0] != "cat@d1\t1" || splits[1][0] != "the@d1\t2" {
		t.Errorf("unexpected splits %v", splits)
	}
	if n, ok := r.Counter("documents.count"); !ok || n != 1 {
		t.Errorf("expected documents.count=1, got %d (%v)", n, ok)
	}
	lines, err := r.Lines()
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 3 {
		t.Errorf("expected 3 lines, got %v", lines)
	}
}

func TestWriteRefusesExistingOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tf")
	if _, err := NewWriter(dir).Write("tf", samplePartitions(), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := NewWriter(dir).Write("tf", samplePartitions(), nil); err == nil {
		t.Fatal("expected error when output already exists")
	}
}

func TestWriteLeavesNoTempDirectories(t *testing.T) {
	parent := t.TempDir()
	if _, err := NewWriter(filepath.Join(parent, "tfidf")).Write("tfidf", samplePartitions(), nil); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(parent)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "tfidf" {
		t.Errorf("unexpected entries in parent directory: %v", entries)
	}
}

func TestOpenIncomplete(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir); !errors.Is(err, ErrIncomplete) {
		t.Errorf("expected ErrIncomplete, got %v", err)
	}
	if Exists(dir) {
		t.Error("directory without manifest must not count as complete")
	}
}

func TestDetectsCorruptPart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wordcount")
	m, err := NewWriter(dir).Write("wordcount", samplePartitions(), nil)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, m.Parts[0].Name)
	if err := os.WriteFile(path, []byte("cat@d1\t9\nsat@d1\t1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	r, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Splits(); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}
