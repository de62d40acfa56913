package segment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrIncomplete means the directory has no manifest: the stage never
	// finished writing it.
	ErrIncomplete = errors.New("stage output incomplete")
	// ErrCorrupt means a part file does not match its manifest entry.
	ErrCorrupt = errors.New("stage output corrupt")
)

// Reader reads a completed stage directory.
type Reader struct {
	dir      string
	manifest *Manifest
}

// Open loads the manifest of dir.
func Open(dir string) (*Reader, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIncomplete, dir)
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parsing manifest in %s: %v", ErrCorrupt, dir, err)
	}
	if m.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported manifest version %d", ErrCorrupt, m.Version)
	}
	return &Reader{dir: dir, manifest: &m}, nil
}

// Exists reports whether dir holds a completed stage.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ManifestName))
	return err == nil
}

func (r *Reader) Manifest() *Manifest {
	return r.manifest
}

// Counter returns a counter value recorded when the stage was written.
func (r *Reader) Counter(name string) (int64, bool) {
	v, ok := r.manifest.Counters[name]
	return v, ok
}

// Splits returns the lines of every non-empty part file, one split per part,
// after checking each part against its manifest entry.
func (r *Reader) Splits() ([][]string, error) {
	splits := make([][]string, 0, len(r.manifest.Parts))
	for _, part := range r.manifest.Parts {
		lines, err := r.readPart(part)
		if err != nil {
			return nil, err
		}
		if len(lines) > 0 {
			splits = append(splits, lines)
		}
	}
	return splits, nil
}

// Lines returns every line of the stage in part order.
func (r *Reader) Lines() ([]string, error) {
	splits, err := r.Splits()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range splits {
		out = append(out, s...)
	}
	return out, nil
}

func (r *Reader) readPart(part PartInfo) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, part.Name))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", part.Name, err)
	}
	if int64(len(data)) != part.Bytes {
		return nil, fmt.Errorf("%w: %s has %d bytes, manifest says %d", ErrCorrupt, part.Name, len(data), part.Bytes)
	}
	if sum := crc32.ChecksumIEEE(data); sum != part.CRC32 {
		return nil, fmt.Errorf("%w: %s checksum %08x, manifest says %08x", ErrCorrupt, part.Name, sum, part.CRC32)
	}
	if len(data) == 0 {
		return nil, nil
	}
	lines := strings.Split(string(bytes.TrimSuffix(data, []byte("\n"))), "\n")
	if len(lines) != part.Records {
		return nil, fmt.Errorf("%w: %s has %d records, manifest says %d", ErrCorrupt, part.Name, len(lines), part.Records)
	}
	return lines, nil
}
