// Package workflow loads, edits and saves image-generation workflow documents.
//
// A workflow document is an opaque ComfyUI graph: a mapping of node ids to
// node definitions. pb-img only ever touches one string inside it, addressed
// by a [FieldPath]; everything else is passed through untouched.
//
// Key types:
//   - [Document] is the decoded workflow
//   - [Store] reads and writes a document at a fixed path
//   - [FieldPath] locates the prompt string; [Inject] replaces it
package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sentinel errors for workflow operations.
var (
	// ErrNotFound indicates the workflow file does not exist.
	ErrNotFound = errors.New("workflow not found")

	// ErrRead indicates the workflow file exists but could not be read.
	ErrRead = errors.New("workflow not readable")

	// ErrParse indicates the workflow file is not a structured mapping.
	ErrParse = errors.New("workflow is not valid structured data")

	// ErrWrite indicates the workflow could not be written back.
	ErrWrite = errors.New("workflow not writable")

	// ErrSchemaMismatch indicates the prompt field path is absent or not a string.
	ErrSchemaMismatch = errors.New("workflow schema mismatch")
)

// Document is a decoded workflow. Nested mappings are map[string]any, lists
// are []any and JSON numbers are kept as json.Number so they round-trip exactly.
type Document map[string]any

// Store reads and writes a workflow document at a fixed path.
//
// The format follows the file extension: .yaml and .yml are YAML, anything
// else is JSON.
type Store struct {
	path string
}

// NewStore creates a [Store] for path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the file the store reads and writes.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) isYAML() bool {
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads and decodes the workflow file.
//
// Returns [ErrNotFound] if the file is missing, [ErrRead] if it cannot be read
// and [ErrParse] if it is not a mapping.
func (s *Store) Load() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}

	var doc Document
	if s.isYAML() {
		doc, err = decodeYAML(data)
	} else {
		doc, err = decodeJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrParse, s.path, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s: empty document", ErrParse, s.path)
	}
	return doc, nil
}

// Save encodes doc with two-space indentation and overwrites the workflow file.
//
// The document is written to a temporary sibling and renamed into place. An
// existing file keeps its permission bits; a new one is created 0644.
// Returns [ErrWrite] on failure.
func (s *Store) Save(doc Document) error {
	var (
		data []byte
		err  error
	)
	if s.isYAML() {
		data, err = encodeYAML(doc)
	} else {
		data, err = encodeJSON(doc, "  ")
	}
	if err != nil {
		return fmt.Errorf("%w: failed to encode %s: %v", ErrWrite, s.path, err)
	}

	perm := fs.FileMode(0644)
	if info, err := os.Stat(s.path); err == nil {
		perm = info.Mode().Perm()
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	// WriteFile leaves the mode of a stale temp file alone and applies umask.
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// Compact returns doc as single-line JSON, the form sent to the generator.
func Compact(doc Document) (string, error) {
	data, err := encodeJSON(doc, "")
	if err != nil {
		return "", fmt.Errorf("failed to encode workflow: %w", err)
	}
	return string(bytes.TrimRight(data, "\n")), nil
}

func decodeJSON(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}
	return doc, nil
}

func encodeJSON(doc Document, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeYAML(data []byte) (Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	m, ok := normalizeYAML(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level value is %T, not a mapping", raw)
	}
	return Document(m), nil
}

// normalizeYAML converts mappings with non-string keys (node ids written as
// bare integers) into map[string]any.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = normalizeYAML(child)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, child := range t {
			m[fmt.Sprint(k)] = normalizeYAML(child)
		}
		return m
	case []any:
		for i, child := range t {
			t[i] = normalizeYAML(child)
		}
		return t
	default:
		return v
	}
}

func encodeYAML(doc Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any(doc)); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
