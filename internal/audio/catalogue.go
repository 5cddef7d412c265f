// /internal/audio/catalogue.go
package audio

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

const (
	SourceExt  = ".mp3"
	EncodedExt = ".opus"
)

var (
	ErrNotFound    = errors.New("audio asset not found")
	ErrInvalidName = errors.New("invalid audio asset name")
)

var greetingPattern = regexp.MustCompile(`(?i)^([^_/\\]+)_Molda\.(mp3|opus)$`)

// LookupFunc resolves an environment-style key. os.LookupEnv fits.
type LookupFunc func(key string) (string, bool)

// Greeting is a personal greeting file found in the audio directory.
type Greeting struct {
	Name   string // lowercased, used as the command suffix
	File   string
	UserID string // empty when no identity token is configured
}

// Catalogue maps logical asset names to files inside one directory.
type Catalogue struct {
	dir         string
	defaultFile string
	greetings   map[string]Greeting // name -> greeting
	bindings    map[string]string   // user id -> file
}

// NewCatalogue scans dir for greeting files and binds each to the user id
// found under NAME or Name in lookup. A missing directory yields an empty
// catalogue.
func NewCatalogue(dir, defaultFile string, lookup LookupFunc) (*Catalogue, error) {
	c := &Catalogue{
		dir:         dir,
		defaultFile: defaultFile,
		greetings:   make(map[string]Greeting),
		bindings:    make(map[string]string),
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("[WARN] Audio directory %q does not exist", dir)
			return c, nil
		}
		return nil, fmt.Errorf("read audio dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := greetingPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		name := m[1]
		key := strings.ToLower(name)
		if _, seen := c.greetings[key]; seen {
			continue
		}

		g := Greeting{Name: key, File: e.Name()}
		if id, ok := identityFor(name, lookup); ok {
			g.UserID = id
			c.bindings[id] = e.Name()
		}
		c.greetings[key] = g
	}

	return c, nil
}

func identityFor(name string, lookup LookupFunc) (string, bool) {
	for _, key := range []string{strings.ToUpper(name), capitalize(name)} {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		if !ok || v == "" || v == "0" || !isDigits(v) {
			continue
		}
		return v, true
	}
	return "", false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func (c *Catalogue) Dir() string { return c.dir }

// Resolve turns a logical name into an existing path, preferring the encoded
// variant over the source one.
func (c *Catalogue) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	var candidates []string
	switch strings.ToLower(ext) {
	case "", SourceExt, EncodedExt:
		candidates = []string{base + EncodedExt, base + SourceExt}
	default:
		candidates = []string{name}
	}

	for _, cand := range candidates {
		p := filepath.Join(c.dir, cand)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, filepath.Join(c.dir, name))
}

// Default resolves the shared join greeting.
func (c *Catalogue) Default() (string, error) {
	return c.Resolve(c.defaultFile)
}

// GreetingFor resolves the personal greeting bound to userID, falling back to
// the default one. bound reports whether a personal file was used.
func (c *Catalogue) GreetingFor(userID string) (path string, bound bool, err error) {
	if file, ok := c.bindings[userID]; ok {
		if p, err := c.Resolve(file); err == nil {
			return p, true, nil
		}
	}
	p, err := c.Default()
	return p, false, err
}

// Greeting resolves the personal greeting registered under name.
func (c *Catalogue) Greeting(name string) (string, error) {
	g, ok := c.greetings[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("%w: no greeting named %q", ErrNotFound, name)
	}
	return c.Resolve(g.File)
}

// Greetings lists discovered greetings sorted by name.
func (c *Catalogue) Greetings() []Greeting {
	out := make([]Greeting, 0, len(c.greetings))
	for _, g := range c.greetings {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsGreetingFile reports whether name follows the personal greeting pattern.
func IsGreetingFile(name string) bool {
	return greetingPattern.MatchString(filepath.Base(name))
}
