package sink

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// rotation keeps one capture file per collector session.
type rotation struct {
	dir            string
	outputFile     *os.File
	bufferedWriter *bufio.Writer
	path           string
}

func newRotation(dir string) *rotation {
	return &rotation{dir: dir}
}

// Open closes the current file and starts <dir>/<session>.ndjson
func (r *rotation) Open(session string) (string, error) {
	if r.dir == "" {
		return "", nil
	}
	r.Close()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	name := unsafeName.ReplaceAllString(session, "_")
	if name == "" {
		name = "session"
	}
	path := filepath.Join(r.dir, name+".ndjson")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	r.outputFile = f
	r.bufferedWriter = bufio.NewWriter(f)
	r.path = path
	return path, nil
}

// Write appends to the open file, if any, and flushes
func (r *rotation) Write(p []byte) (int, error) {
	if r.bufferedWriter == nil {
		return len(p), nil
	}
	n, err := r.bufferedWriter.Write(p)
	if err != nil {
		return n, err
	}
	return n, r.bufferedWriter.Flush()
}

// Path returns the file currently written, or ""
func (r *rotation) Path() string { return r.path }

func (r *rotation) Close() {
	if r.bufferedWriter != nil {
		r.bufferedWriter.Flush()
	}
	if r.outputFile != nil {
		r.outputFile.Close()
	}
	r.bufferedWriter = nil
	r.outputFile = nil
	r.path = ""
}
