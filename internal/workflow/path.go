package workflow

import (
	"fmt"
	"strings"
)

// FieldPath is the key chain from the document root to a string leaf,
// e.g. {"6", "inputs", "text"}.
type FieldPath []string

// ParseFieldPath splits a dotted path such as "6.inputs.text".
func ParseFieldPath(s string) FieldPath {
	if s == "" {
		return nil
	}
	return FieldPath(strings.Split(s, "."))
}

// String returns the dotted form of the path.
func (p FieldPath) String() string {
	return strings.Join(p, ".")
}

// parent walks to the mapping holding the leaf and returns it with the leaf key.
func (p FieldPath) parent(doc Document) (map[string]any, string, error) {
	if len(p) == 0 {
		return nil, "", fmt.Errorf("%w: empty field path", ErrSchemaMismatch)
	}

	node := map[string]any(doc)
	for i, key := range p[:len(p)-1] {
		child, ok := node[key]
		if !ok {
			return nil, "", fmt.Errorf("%w: %s: key %q not found", ErrSchemaMismatch, p, FieldPath(p[:i+1]))
		}
		next, ok := child.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("%w: %s: %q is %T, not a mapping", ErrSchemaMismatch, p, FieldPath(p[:i+1]), child)
		}
		node = next
	}
	return node, p[len(p)-1], nil
}

// Get returns the string at p.
//
// Returns [ErrSchemaMismatch] if any key is missing, an intermediate node is
// not a mapping, or the leaf is not a string.
func (p FieldPath) Get(doc Document) (string, error) {
	node, leaf, err := p.parent(doc)
	if err != nil {
		return "", err
	}
	v, ok := node[leaf]
	if !ok {
		return "", fmt.Errorf("%w: %s: key %q not found", ErrSchemaMismatch, p, p)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s: value is %T, not a string", ErrSchemaMismatch, p, v)
	}
	return s, nil
}

// Set replaces the string at p in place. It fails under the same conditions
// as [FieldPath.Get] and leaves doc untouched when it does.
func (p FieldPath) Set(doc Document, value string) error {
	if _, err := p.Get(doc); err != nil {
		return err
	}
	node, leaf, _ := p.parent(doc)
	node[leaf] = value
	return nil
}

// Inject returns a copy of doc with the string at path replaced by prompt.
// doc itself is never modified.
func Inject(doc Document, path FieldPath, prompt string) (Document, error) {
	if _, err := path.Get(doc); err != nil {
		return nil, err
	}
	out := Clone(doc)
	if err := path.Set(out, prompt); err != nil {
		return nil, err
	}
	return out, nil
}

// Clone returns a deep copy of doc.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	return Document(cloneValue(map[string]any(doc)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, child := range t {
			m[k] = cloneValue(child)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, child := range t {
			s[i] = cloneValue(child)
		}
		return s
	default:
		return v
	}
}
