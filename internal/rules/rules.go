// Package rules loads the business transformation rules quoted in every plan
// and codegen prompt.
//
// Rules live either in a YAML document with general and per-layer sections or
// in a plain text file that is passed through unchanged.
package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/medallion/pkg/models"
)

// DefaultText is used when no rules file exists.
const DefaultText = "# Default transformation rules"

// Rules is the structured form of a rules file.
type Rules struct {
	// General rules apply to every layer.
	General []string `yaml:"general"`
	// Layers holds rules for a single layer, keyed by layer name.
	Layers map[models.Layer][]string `yaml:"layers"`
	// Notes is free text appended after the rule lists.
	Notes string `yaml:"notes"`

	// raw holds the content of a plain text rules file.
	raw string
	// path is the file the rules were loaded from, if any.
	path string
}

// Default returns the rules used when no file is configured.
func Default() *Rules {
	return &Rules{raw: DefaultText}
}

// Load reads rules from path. YAML files (.yaml, .yml) are parsed strictly;
// any other file is taken as plain text. A missing file yields the default
// rules and an error wrapping os.ErrNotExist.
func Load(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), fmt.Errorf("rules file %s: %w", path, err)
		}
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}

	var r *Rules
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		r, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse rules %s: %w", path, err)
		}
	default:
		r = &Rules{raw: string(data)}
	}
	r.path = path
	return r, nil
}

// Parse decodes a YAML rules document. Unknown keys and unknown layers are
// rejected.
func Parse(data []byte) (*Rules, error) {
	r := &Rules{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(r); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	for layer := range r.Layers {
		if !layer.Valid() {
			return nil, fmt.Errorf("unknown layer %q", layer)
		}
	}
	return r, nil
}

// Path returns the file the rules were loaded from.
func (r *Rules) Path() string {
	return r.path
}

// Empty reports whether the rules say nothing.
func (r *Rules) Empty() bool {
	return strings.TrimSpace(r.Text()) == ""
}

// Text renders the rules as the block quoted in prompts. Layer sections follow
// the canonical layer order.
func (r *Rules) Text() string {
	if r.raw != "" {
		return strings.TrimSpace(r.raw)
	}

	var b strings.Builder
	writeSection(&b, "General", r.General)
	for _, layer := range models.CanonicalLayers() {
		writeSection(&b, strings.ToUpper(string(layer))+" layer", r.Layers[layer])
	}
	if notes := strings.TrimSpace(r.Notes); notes != "" {
		b.WriteString(notes)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// ForLayer returns the general rules plus the rules of layer.
func (r *Rules) ForLayer(layer models.Layer) []string {
	out := append([]string{}, r.General...)
	return append(out, r.Layers[layer]...)
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", strings.TrimSpace(item))
	}
	b.WriteString("\n")
}
