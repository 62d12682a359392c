// Package template renders named prompt templates against variable maps.
//
// Templates use {{ name }} placeholders; {% ... %} control tokens are
// recognized by the scanner but carry no variables. Loaders are explicit
// instances with an explicit cache-invalidation API; there is no package
// level singleton.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/simbuilder/servicebus/errors"
	"github.com/simbuilder/servicebus/pkg/cache"
)

var (
	// variablePattern matches {{ name }} placeholders.
	variablePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

	// controlPattern matches {% ... %} control tokens, which are scanned
	// past but contribute no variables.
	controlPattern = regexp.MustCompile(`\{%[^%]*%\}`)
)

// extensions tried, in order, when resolving a template name to a file.
var extensions = []string{".tmpl", ".md", ".txt"}

// Template is a parsed template with its referenced variable names.
type Template struct {
	Name      string
	Text      string
	Variables []string
}

// RenderError reports a strict render that found required variables absent.
type RenderError struct {
	Template string
	Missing  []string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("template %q: missing required variables: %s",
		e.Template, strings.Join(e.Missing, ", "))
}

// Loader loads templates from a directory and caches parsed results.
type Loader struct {
	dir   string
	cache cache.Cache[*Template]
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithCache replaces the default in-memory cache, e.g. with a TTL cache.
func WithCache(c cache.Cache[*Template]) LoaderOption {
	return func(l *Loader) {
		if c != nil {
			l.cache = c
		}
	}
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string, opts ...LoaderOption) (*Loader, error) {
	if dir == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Loader", "NewLoader", "template directory is required")
	}

	l := &Loader{dir: dir}
	for _, opt := range opts {
		opt(l)
	}

	if l.cache == nil {
		c, err := cache.NewSimple[*Template]()
		if err != nil {
			return nil, errors.Wrap(err, "Loader", "NewLoader", "create template cache")
		}
		l.cache = c
	}

	return l, nil
}

// Load returns the parsed template for name, reading and caching it on first
// use.
func (l *Loader) Load(name string) (*Template, error) {
	if tmpl, ok := l.cache.Get(name); ok {
		return tmpl, nil
	}

	path, err := l.resolve(name)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Loader", "Load", fmt.Sprintf("read template %q", name))
	}

	tmpl := &Template{
		Name:      name,
		Text:      string(raw),
		Variables: scanVariables(string(raw)),
	}

	if _, err := l.cache.Set(name, tmpl); err != nil {
		return nil, errors.Wrap(err, "Loader", "Load", fmt.Sprintf("cache template %q", name))
	}

	return tmpl, nil
}

// Variables returns the variable names referenced by the named template, in
// first-appearance order.
func (l *Loader) Variables(name string) ([]string, error) {
	tmpl, err := l.Load(name)
	if err != nil {
		return nil, err
	}
	return tmpl.Variables, nil
}

// Render substitutes variables into the named template. Placeholders without
// a matching variable are left verbatim.
func (l *Loader) Render(name string, vars map[string]any) (string, error) {
	return l.render(name, vars, false)
}

// RenderStrict substitutes variables into the named template and fails with
// a *RenderError naming every absent variable.
func (l *Loader) RenderStrict(name string, vars map[string]any) (string, error) {
	return l.render(name, vars, true)
}

func (l *Loader) render(name string, vars map[string]any, strict bool) (string, error) {
	tmpl, err := l.Load(name)
	if err != nil {
		return "", err
	}

	if strict {
		var missing []string
		for _, v := range tmpl.Variables {
			if _, ok := vars[v]; !ok {
				missing = append(missing, v)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return "", &RenderError{Template: name, Missing: missing}
		}
	}

	out := variablePattern.ReplaceAllStringFunc(tmpl.Text, func(match string) string {
		key := variablePattern.FindStringSubmatch(match)[1]
		if val, ok := vars[key]; ok {
			return fmt.Sprintf("%v", val)
		}
		return match
	})

	return out, nil
}

// Invalidate drops a single cached template, reporting whether it was cached.
func (l *Loader) Invalidate(name string) bool {
	existed, _ := l.cache.Delete(name)
	return existed
}

// InvalidateAll drops every cached template.
func (l *Loader) InvalidateAll() {
	_ = l.cache.Clear()
}

// CacheStats exposes the underlying cache statistics.
func (l *Loader) CacheStats() *cache.Statistics {
	return l.cache.Stats()
}

// resolve maps a template name to a file path, trying the known extensions.
func (l *Loader) resolve(name string) (string, error) {
	if filepath.Ext(name) != "" {
		path := filepath.Join(l.dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	} else {
		for _, ext := range extensions {
			path := filepath.Join(l.dir, name+ext)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", errors.WrapInvalid(errors.ErrTemplateNotFound, "Loader", "resolve",
		fmt.Sprintf("locate template %q in %s", name, l.dir))
}

// scanVariables extracts placeholder names by static text scan, preserving
// first-appearance order. Control tokens are stripped first so their
// contents are not mistaken for placeholders.
func scanVariables(text string) []string {
	text = controlPattern.ReplaceAllString(text, "")

	seen := make(map[string]struct{})
	var vars []string
	for _, match := range variablePattern.FindAllStringSubmatch(text, -1) {
		name := match[1]
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		vars = append(vars, name)
	}
	return vars
}
