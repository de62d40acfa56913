// Package source loads the raw corpus for stage 1. Every source yields the
// same thing: "docId,field,text" lines in a stable order.
package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/tfidf-pipeline/pkg/logger"
)

// maxLineSize bounds a single corpus record.
const maxLineSize = 16 << 20

// Source produces the input lines of a pipeline run.
type Source interface {
	Lines(ctx context.Context) ([]string, error)
	// Describe names the source for logs and job records.
	Describe() string
}

// Document is the structured form of one corpus record.
type Document struct {
	ID    string `json:"doc_id"`
	Field string `json:"field"`
	Text  string `json:"text"`
}

// Line renders d in the comma-separated input format. It reports false when
// the id or field contains a comma, since the line would then split into
// different fields than d holds.
func (d Document) Line() (string, bool) {
	if strings.Contains(d.ID, ",") || strings.Contains(d.Field, ",") {
		return "", false
	}
	return d.ID + "," + d.Field + "," + d.Text, true
}

// ParseDocument splits a line into its three fields. The text keeps any
// further commas.
func ParseDocument(line string) (Document, bool) {
	parts := strings.SplitN(line, ",", 3)
	if len(parts) < 3 {
		return Document{}, false
	}
	return Document{ID: parts[0], Field: parts[1], Text: parts[2]}, true
}

// Files reads lines from files and directories. Directories contribute
// their regular files in name order, skipping names starting with "." or
// "_".
type Files struct {
	Paths []string
}

func (f *Files) Describe() string {
	return "file:" + strings.Join(f.Paths, ",")
}

func (f *Files) Lines(ctx context.Context) ([]string, error) {
	log := logger.FromContext(ctx).With("component", "source")
	files, err := f.expand()
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := len(lines)
		lines, err = readLines(path, lines)
		if err != nil {
			return nil, err
		}
		log.Debug("read corpus file", "path", path, "lines", len(lines)-n)
	}
	log.Info("corpus loaded", "files", len(files), "lines", len(lines))
	return lines, nil
}

func (f *Files) expand() ([]string, error) {
	if len(f.Paths) == 0 {
		return nil, fmt.Errorf("no input paths given")
	}
	var files []string
	for _, p := range f.Paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", p, err)
		}
		var names []string
		for _, e := range entries {
			name := e.Name()
			if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
				continue
			}
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			files = append(files, filepath.Join(p, name))
		}
	}
	return files, nil
}

func readLines(path string, lines []string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return lines, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("reading %s: %w", path, err)
	}
	return lines, nil
}
