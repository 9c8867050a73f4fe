// Package render binds per-contact values into Liquid template bodies.
package render

import (
	"fmt"
	"html"
	"sync"

	"github.com/osteele/liquid"
)

// Context holds the only keys a template body can reference. Anything else
// renders as an empty string.
type Context struct {
	FirstName string
	LastName  string
	Email     string
	ContactID int64
}

// Bindings escapes every string value, so contact data cannot inject markup
// into an HTML body. Template markup itself is left alone.
func (c Context) Bindings() liquid.Bindings {
	return liquid.Bindings{
		"first_name": html.EscapeString(c.FirstName),
		"last_name":  html.EscapeString(c.LastName),
		"email":      html.EscapeString(c.Email),
		"contact_id": c.ContactID,
	}
}

// Renderer caches parsed templates by body text; one body is usually
// rendered once per contact in a group.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // body -> *liquid.Template
}

func New() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}

	// {{ first_name | default_to: "Friend" }}
	r.engine.RegisterFilter("default_to", func(value interface{}, def string) interface{} {
		if value == nil {
			return def
		}
		if s, ok := value.(string); ok && s == "" {
			return def
		}
		return value
	})
	return r
}

// Check parses body without rendering it.
func (r *Renderer) Check(body string) error {
	_, err := r.parse(body)
	return err
}

func (r *Renderer) Render(body string, c Context) (string, error) {
	tpl, err := r.parse(body)
	if err != nil {
		return "", err
	}
	out, rerr := tpl.RenderString(c.Bindings())
	if rerr != nil {
		return "", fmt.Errorf("render template: %w", rerr)
	}
	return out, nil
}

func (r *Renderer) parse(body string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(body); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	r.cache.Store(body, tpl)
	return tpl, nil
}
