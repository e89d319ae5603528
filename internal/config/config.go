// Package config is the typed view over the optimizer's JSON configuration.
// Passes read their knobs through a Bag; missing keys fall back to the
// caller's default.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Bag holds one parsed configuration document. The zero value is empty and
// every Get returns its default.
type Bag struct {
	values map[string]any
}

// New creates a Bag over already-decoded values.
func New(values map[string]any) *Bag {
	return &Bag{values: values}
}

// Load reads a JSON document from a file.
func Load(path string) (*Bag, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a JSON document from a reader.
func Parse(r io.Reader) (*Bag, error) {
	var values map[string]any
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &Bag{values: values}, nil
}

// Sub returns the nested Bag under key, or an empty one.
func (b *Bag) Sub(key string) *Bag {
	if b == nil || b.values == nil {
		return &Bag{}
	}
	if m, ok := b.values[key].(map[string]any); ok {
		return &Bag{values: m}
	}
	return &Bag{}
}

// GetBool returns the boolean at key, or def.
func (b *Bag) GetBool(key string, def bool) bool {
	if b == nil || b.values == nil {
		return def
	}
	if v, ok := b.values[key].(bool); ok {
		return v
	}
	return def
}

// GetInt returns the integer at key, or def.
func (b *Bag) GetInt(key string, def int) int {
	if b == nil || b.values == nil {
		return def
	}
	if n, ok := b.values[key].(json.Number); ok {
		if v, err := n.Int64(); err == nil {
			return int(v)
		}
	}
	if v, ok := b.values[key].(float64); ok {
		return int(v)
	}
	return def
}

// GetString returns the string at key, or def.
func (b *Bag) GetString(key string, def string) string {
	if b == nil || b.values == nil {
		return def
	}
	if v, ok := b.values[key].(string); ok {
		return v
	}
	return def
}

// GetStringList returns the string list at key, or nil.
func (b *Bag) GetStringList(key string) []string {
	if b == nil || b.values == nil {
		return nil
	}
	raw, ok := b.values[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
