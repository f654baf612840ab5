// Package catalog describes the psych tests bundled with a study. Entries are
// loaded once from tests.toml and never mutated.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Sentinel kinds for catalog errors.
var (
	ErrTestNotFound     = errors.New("psych test not found")
	ErrUnsupportedIdiom = errors.New("psych test does not support interface idiom")
	ErrInvalidCatalog   = errors.New("invalid test catalog")
)

// Idiom is a device interface class a test can run on.
type Idiom string

// Known idioms.
const (
	IdiomPhone Idiom = "phone"
	IdiomPad   Idiom = "pad"
)

// Info is the immutable descriptor of one psych test.
type Info struct {
	Name              string  `toml:"name" json:"name"`
	BundleVersion     string  `toml:"bundle_version" json:"bundle_version"`
	RuntimeVersion    string  `toml:"runtime_version" json:"runtime_version"`
	DisplayShortTitle string  `toml:"display_short_title" json:"display_short_title"`
	DisplayTitle      string  `toml:"display_title" json:"display_title"`
	Idioms            []Idiom `toml:"idioms" json:"idioms"`
}

// Supports reports whether the test runs on idiom.
func (i Info) Supports(idiom Idiom) bool {
	return slices.Contains(i.Idioms, idiom)
}

// Catalog is the set of tests of a study, ordered by name.
type Catalog struct {
	tests []Info
	index map[string]int
}

type document struct {
	Tests []Info `toml:"test"`
}

// LoadFile reads a tests.toml file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path) //nolint:gosec // operator supplied resource path
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Load parses a tests.toml document.
func Load(r io.Reader) (*Catalog, error) {
	var doc document
	if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	return New(doc.Tests...)
}

// New builds a catalog from descriptors. Names must be unique and non-empty,
// and every test must support at least one known idiom.
func New(tests ...Info) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(tests))}
	for _, t := range tests {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return nil, fmt.Errorf("%w: test without a name", ErrInvalidCatalog)
		}
		if _, dup := c.index[t.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate test %q", ErrInvalidCatalog, t.Name)
		}
		if len(t.Idioms) == 0 {
			return nil, fmt.Errorf("%w: test %q lists no idioms", ErrInvalidCatalog, t.Name)
		}
		for _, idiom := range t.Idioms {
			if idiom != IdiomPhone && idiom != IdiomPad {
				return nil, fmt.Errorf("%w: test %q: unknown idiom %q", ErrInvalidCatalog, t.Name, idiom)
			}
		}
		t.Idioms = slices.Clone(t.Idioms)
		c.index[t.Name] = -1
		c.tests = append(c.tests, t)
	}
	sort.Slice(c.tests, func(i, j int) bool { return c.tests[i].Name < c.tests[j].Name })
	for i, t := range c.tests {
		c.index[t.Name] = i
	}
	return c, nil
}

// All returns every test.
func (c *Catalog) All() []Info {
	return c.copyOf(c.tests)
}

// Available returns the tests that run on idiom.
func (c *Catalog) Available(idiom Idiom) []Info {
	var out []Info
	for _, t := range c.tests {
		if t.Supports(idiom) {
			out = append(out, t)
		}
	}
	return c.copyOf(out)
}

// Named returns one test.
func (c *Catalog) Named(name string) (Info, error) {
	i, ok := c.index[name]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrTestNotFound, name)
	}
	return c.copyOf(c.tests[i : i+1])[0], nil
}

// Require returns a test only when it supports idiom.
func (c *Catalog) Require(name string, idiom Idiom) (Info, error) {
	info, err := c.Named(name)
	if err != nil {
		return Info{}, err
	}
	if !info.Supports(idiom) {
		return Info{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedIdiom, name, idiom)
	}
	return info, nil
}

// Len returns the number of tests.
func (c *Catalog) Len() int { return len(c.tests) }

func (c *Catalog) copyOf(in []Info) []Info {
	out := make([]Info, len(in))
	for i, t := range in {
		t.Idioms = slices.Clone(t.Idioms)
		out[i] = t
	}
	return out
}
