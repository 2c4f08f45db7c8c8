// Package templates renders email bodies from a registry of html/template
// templates keyed by email kind.
package templates

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"sync"
	texttemplate "text/template"

	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/domain/model"
)

// Template pairs a subject line with an HTML body. The subject is a
// text/template so template data can appear in it without HTML escaping.
type Template struct {
	Subject *texttemplate.Template
	Body    *template.Template
}

// Registry implements core.TemplateRenderer over an in-process template set.
// Registration happens at startup; Render is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

var _ core.TemplateRenderer = (*Registry)(nil)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// Register parses and stores the template pair for an email kind. A second
// registration for the same kind replaces the first.
func (r *Registry) Register(kind, subject, body string) error {
	if kind == "" {
		return fmt.Errorf("email kind is required")
	}

	subjectTmpl, err := texttemplate.New(kind + ".subject").Parse(subject)
	if err != nil {
		return fmt.Errorf("parsing subject template for %s: %w", kind, err)
	}
	bodyTmpl, err := template.New(kind).Parse(body)
	if err != nil {
		return fmt.Errorf("parsing body template for %s: %w", kind, err)
	}

	r.mu.Lock()
	r.templates[kind] = &Template{Subject: subjectTmpl, Body: bodyTmpl}
	r.mu.Unlock()
	return nil
}

// MustRegister is Register for static startup template sets.
func (r *Registry) MustRegister(kind, subject, body string) {
	if err := r.Register(kind, subject, body); err != nil {
		panic(err)
	}
}

// Kinds returns the registered email kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.templates))
	for k := range r.templates {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Render resolves the kind and executes both templates. Template data gets
// the brand under "Brand" alongside the payload fields.
func (r *Registry) Render(kind string, brand *model.Brand, data map[string]any) (*core.RenderedEmail, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrTemplateNotRegistered, kind)
	}

	vars := make(map[string]any, len(data)+1)
	for k, v := range data {
		vars[k] = v
	}
	vars["Brand"] = brand

	var subject bytes.Buffer
	if err := tmpl.Subject.Execute(&subject, vars); err != nil {
		return nil, fmt.Errorf("executing subject template for %s: %w", kind, err)
	}
	var body bytes.Buffer
	if err := tmpl.Body.Execute(&body, vars); err != nil {
		return nil, fmt.Errorf("executing body template for %s: %w", kind, err)
	}

	return &core.RenderedEmail{
		Subject: subject.String(),
		HTML:    body.String(),
	}, nil
}
