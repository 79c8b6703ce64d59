// Package persistence writes parsed records to a file or a stream, so a
// failing acceptance run leaves the state it observed behind.
package persistence

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	indent = "    " // Default indentation for JSON output (4 spaces)
	prefix = ""     // Default prefix for JSON output
)

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	b, err := json.MarshalIndent(data, s.Prefix, s.Indent)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

type YAMLSerializer struct{}

func (YAMLSerializer) Marshal(data any) ([]byte, error) {
	return yaml.Marshal(data)
}

// SerializerFor returns the serializer for "json" or "yaml".
func SerializerFor(format string) (Serializer, error) {
	switch format {
	case "", "json":
		return JSONSerializer{Prefix: prefix, Indent: indent}, nil
	case "yaml":
		return YAMLSerializer{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if _, err := os.Stat(filename); !os.IsNotExist(err) && !w.Overwrite {
		return os.ErrExist
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// StreamWriter ignores the filename and writes to W, e.g. os.Stdout.
type StreamWriter struct {
	W io.Writer
}

func (w StreamWriter) Write(_ string, data []byte) error {
	_, err := w.W.Write(data)
	return err
}

// WriteToFile serializes data and hands it to writer under filename.
func WriteToFile(data any, filename string, serializer Serializer, writer Writer) error {
	if filename == "" {
		return fmt.Errorf("invalid filename: %w", os.ErrInvalid)
	}

	bytes, err := serializer.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := writer.Write(filename, bytes); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// WriteJSON persists data as JSON to a file with default settings (overwrite enabled, 4-space indent).
func WriteJSON(data any, filename string) error {
	serializer := JSONSerializer{Prefix: prefix, Indent: indent}
	writer := FileWriter{Overwrite: true}
	return WriteToFile(data, filename, serializer, writer)
}

// Print writes data to w in format.
func Print(w io.Writer, data any, format string) error {
	serializer, err := SerializerFor(format)
	if err != nil {
		return err
	}
	return WriteToFile(data, "-", serializer, StreamWriter{W: w})
}
