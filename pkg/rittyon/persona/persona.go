// Package persona holds the personality catalog: the fixed set of modes a
// conversation can run under, each with the priming context sent to the
// generation provider before the user's prompt.
package persona

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultMode is the mode a new session starts in when the catalog has it.
const DefaultMode = "boke"

// ErrUnknownMode is returned when a mode name is not in the catalog.
var ErrUnknownMode = errors.New("unknown personality mode")

// Mode is one catalog entry.
type Mode struct {
	// Name is the identifier shown to users (e.g. "boke").
	Name string `yaml:"name"`

	// Context is the priming text that establishes the personality.
	Context string `yaml:"context"`
}

// Catalog is an ordered, read-only set of modes. Safe for concurrent use
// because nothing mutates it after New returns.
type Catalog struct {
	order    []string
	contexts map[string]string
}

// New builds a catalog from the given modes, preserving their order.
func New(modes ...Mode) (*Catalog, error) {
	if len(modes) == 0 {
		return nil, errors.New("persona: catalog needs at least one mode")
	}

	c := &Catalog{
		order:    make([]string, 0, len(modes)),
		contexts: make(map[string]string, len(modes)),
	}
	for i, m := range modes {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return nil, fmt.Errorf("persona: mode #%d has no name", i+1)
		}
		if strings.TrimSpace(m.Context) == "" {
			return nil, fmt.Errorf("persona: mode %q has no context", name)
		}
		if _, dup := c.contexts[name]; dup {
			return nil, fmt.Errorf("persona: duplicate mode %q", name)
		}
		c.order = append(c.order, name)
		c.contexts[name] = m.Context
	}
	return c, nil
}

// MustNew is like New but panics on error. Used for the builtin catalog.
func MustNew(modes ...Mode) *Catalog {
	c, err := New(modes...)
	if err != nil {
		panic(err)
	}
	return c
}

// Modes returns the mode names in catalog order.
func (c *Catalog) Modes() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of modes.
func (c *Catalog) Len() int { return len(c.order) }

// Has reports whether mode is in the catalog.
func (c *Catalog) Has(mode string) bool {
	_, ok := c.contexts[mode]
	return ok
}

// ContextFor returns the priming context for mode.
func (c *Catalog) ContextFor(mode string) (string, error) {
	ctx, ok := c.contexts[mode]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return ctx, nil
}

// Default returns DefaultMode if present, otherwise the first entry.
func (c *Catalog) Default() string {
	if c.Has(DefaultMode) {
		return DefaultMode
	}
	return c.order[0]
}
