// Package persistence writes benchmark reports to disk or to a stream.
package persistence

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// DataFile is a report written to disk.
type DataFile struct {
	// Path is the path of the written file.
	Path string
	// Size is the number of bytes written to Path.
	Size int64
}

// countingWriter tracks how many bytes reached the underlying file.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteFile writes an indented JSON representation of v to path, creating
// the parent directory if needed. If path ends in ".gz" the output is
// gzip-compressed.
func WriteFile(path string, v interface{}) (*DataFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	fp, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	cw := &countingWriter{w: fp}
	var w io.Writer = cw
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz, err = gzip.NewWriterLevel(cw, gzip.BestSpeed)
		if err != nil {
			fp.Close()
			return nil, err
		}
		w = gz
	}
	if err := Write(w, v); err != nil {
		fp.Close()
		return nil, err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			fp.Close()
			return nil, err
		}
	}
	if err := fp.Close(); err != nil {
		return nil, err
	}
	return &DataFile{
		Path: path,
		Size: cw.n,
	}, nil
}

// Write writes an indented JSON representation of v to w.
func Write(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
