package service

import (
	"fmt"
	"io/fs"
	"strings"
	"text/template"
)

// Renderer turns a named template and its parameters into configuration file
// contents. It is an injected capability so tests can substitute their own;
// the lifecycle core only supplies the parameter values.
type Renderer interface {
	Render(name string, data any) (string, error)
}

// TemplateRenderer renders templates from a file system, typically one
// embedded in the service package.
type TemplateRenderer struct {
	tmpl *template.Template
}

// NewTemplateRenderer parses every template matching glob in fsys.
func NewTemplateRenderer(fsys fs.FS, glob string) (*TemplateRenderer, error) {
	tmpl, err := template.ParseFS(fsys, glob)
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &TemplateRenderer{tmpl: tmpl}, nil
}

func (r *TemplateRenderer) Render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := r.tmpl.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return sb.String(), nil
}
