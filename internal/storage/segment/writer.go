// Package segment persists the output of one pipeline stage as a directory of
// part files, one per reduce partition, plus a manifest. A stage directory is
// written under a temporary name and renamed into place, so a directory that
// exists with a manifest is always complete.
package segment

import (
	"bufio"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/internal/keys"
)

const (
	// ManifestName marks a stage directory as complete.
	ManifestName  = "_SUCCESS"
	FormatVersion = 1
	partFormat    = "part-r-%05d"
)

// PartInfo describes one part file.
type PartInfo struct {
	Name    string `json:"name"`
	Records int    `json:"records"`
	Bytes   int64  `json:"bytes"`
	CRC32   uint32 `json:"crc32"`
}

// Manifest is the JSON body of the _SUCCESS file.
type Manifest struct {
	Version   int              `json:"version"`
	Stage     string           `json:"stage"`
	CreatedAt time.Time        `json:"created_at"`
	Parts     []PartInfo       `json:"parts"`
	Counters  map[string]int64 `json:"counters,omitempty"`
}

// Records returns the number of records across every part.
func (m *Manifest) Records() int {
	var n int
	for _, p := range m.Parts {
		n += p.Records
	}
	return n
}

// Writer creates stage directories.
type Writer struct {
	dir string
}

// NewWriter returns a Writer for the stage directory dir. The directory must
// not exist yet.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Write stores every partition as a part file of "key\tvalue" lines followed
// by the manifest, then renames the directory into place.
func (w *Writer) Write(stage string, partitions [][]engine.Record, counters map[string]int64) (*Manifest, error) {
	if _, err := os.Stat(w.dir); err == nil {
		return nil, fmt.Errorf("stage output %s already exists", w.dir)
	}
	if err := os.MkdirAll(filepath.Dir(w.dir), 0755); err != nil {
		return nil, fmt.Errorf("creating parent directory: %w", err)
	}
	tmpDir, err := os.MkdirTemp(filepath.Dir(w.dir), "."+filepath.Base(w.dir)+".tmp-")
	if err != nil {
		return nil, fmt.Errorf("creating temp stage directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(tmpDir)
		}
	}()

	manifest := &Manifest{
		Version:   FormatVersion,
		Stage:     stage,
		CreatedAt: time.Now().UTC(),
		Parts:     make([]PartInfo, 0, len(partitions)),
		Counters:  counters,
	}
	for i, records := range partitions {
		info, err := writePart(filepath.Join(tmpDir, fmt.Sprintf(partFormat, i)), records)
		if err != nil {
			return nil, err
		}
		manifest.Parts = append(manifest.Parts, info)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, ManifestName), data, 0644); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmpDir, w.dir); err != nil {
		return nil, fmt.Errorf("renaming stage directory: %w", err)
	}
	committed = true
	return manifest, nil
}

func writePart(path string, records []engine.Record) (PartInfo, error) {
	f, err := os.Create(path)
	if err != nil {
		return PartInfo{}, fmt.Errorf("creating part file: %w", err)
	}
	defer f.Close()

	h := crc32.NewIEEE()
	var size int64
	bw := bufio.NewWriter(f)
	for _, rec := range records {
		line := keys.JoinRecord(rec.Key, rec.Value) + "\n"
		if _, err := bw.WriteString(line); err != nil {
			return PartInfo{}, fmt.Errorf("writing %s: %w", filepath.Base(path), err)
		}
		h.Write([]byte(line))
		size += int64(len(line))
	}
	if err := bw.Flush(); err != nil {
		return PartInfo{}, fmt.Errorf("flushing %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		return PartInfo{}, fmt.Errorf("syncing %s: %w", filepath.Base(path), err)
	}
	return PartInfo{
		Name:    filepath.Base(path),
		Records: len(records),
		Bytes:   size,
		CRC32:   h.Sum32(),
	}, nil
}
