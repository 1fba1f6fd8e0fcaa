package delivery

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Transform rewrites text before insertion.
type Transform func(string) string

// CommentPrefix prefixes every line with marker.
func CommentPrefix(marker string) Transform {
	return func(s string) string {
		lines := strings.Split(s, "\n")
		for i, l := range lines {
			lines[i] = marker + l
		}
		return strings.Join(lines, "\n")
	}
}

// Upper upper-cases text.
func Upper() Transform {
	c := cases.Upper(language.Und)
	return func(s string) string { return c.String(s) }
}

// Lower lower-cases text.
func Lower() Transform {
	c := cases.Lower(language.Und)
	return func(s string) string { return c.String(s) }
}

// ParseTransform builds a transform from its config form: "upper",
// "lower", or "comment:<marker>".
func ParseTransform(spec string) (Transform, error) {
	switch {
	case spec == "upper":
		return Upper(), nil
	case spec == "lower":
		return Lower(), nil
	case strings.HasPrefix(spec, "comment:"):
		return CommentPrefix(strings.TrimPrefix(spec, "comment:")), nil
	default:
		return nil, fmt.Errorf("unknown transform %q", spec)
	}
}

// Override customizes delivery for one application.
type Override struct {
	Transforms []Transform
	// Strategies replaces the default order when non-empty.
	Strategies []string
}

// Apply runs the transforms in order.
func (o Override) Apply(text string) string {
	for _, t := range o.Transforms {
		text = t(text)
	}
	return text
}

// Overrides is a registry of per-application overrides keyed by
// case-insensitive application name.
type Overrides struct {
	mu    sync.RWMutex
	byApp map[string]Override
}

// NewOverrides creates an empty registry.
func NewOverrides() *Overrides {
	return &Overrides{byApp: make(map[string]Override)}
}

// Register sets the override for app.
func (r *Overrides) Register(app string, o Override) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byApp[strings.ToLower(app)] = o
}

// Lookup returns the override for app.
func (r *Overrides) Lookup(app string) (Override, bool) {
	if app == "" {
		return Override{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byApp[strings.ToLower(app)]
	return o, ok
}
