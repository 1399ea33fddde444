// Package web holds the chat page and its static assets.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path"
	"strings"
)

//go:embed static templates
var content embed.FS

type PageData struct {
	Title    string
	UserID   string
	TopPicks string
}

type Page struct {
	tmpl *template.Template
}

func NewPage() (*Page, error) {
	tmpl, err := template.ParseFS(content, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return &Page{tmpl: tmpl}, nil
}

func (p *Page) Render(w io.Writer, data PageData) error {
	if data.Title == "" {
		data.Title = "StockBot AI"
	}
	return p.tmpl.Execute(w, data)
}

// Asset returns a file under static/ with its content type.
func Asset(name string) ([]byte, string, error) {
	name = path.Clean("/" + name)
	b, err := fs.ReadFile(content, "static"+name)
	if err != nil {
		return nil, "", err
	}
	return b, contentType(name), nil
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".js"):
		return "text/javascript; charset=utf-8"
	case strings.HasSuffix(name, ".css"):
		return "text/css; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
