// Package web provides the embedded page templates and static assets.
package web

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"

	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templateFiles embed.FS

//go:embed static/*
var staticFiles embed.FS

// Page names accepted by Renderer.Render.
const (
	PageLanding = "landing"
	PageQuery   = "query"
)

// Renderer implements echo.Renderer over the embedded templates. Each page is
// parsed together with the shared layout.
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer parses every page template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, page := range []string{PageLanding, PageQuery} {
		tmpl, err := template.New("layout.html").Funcs(FuncMap()).ParseFS(templateFiles,
			"templates/layout.html", "templates/"+page+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", page, err)
		}
		r.pages[page] = tmpl
	}
	return r, nil
}

// Render executes the named page into w.
func (r *Renderer) Render(w io.Writer, name string, data interface{}, c echo.Context) error {
	tmpl, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	return tmpl.ExecuteTemplate(w, "layout.html", data)
}

// RegisterStaticRoutes serves the embedded assets under /static.
func RegisterStaticRoutes(e *echo.Echo) error {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return err
	}
	fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
	e.GET("/static/*", echo.WrapHandler(fileServer))
	return nil
}

// FuncMap holds the helpers the templates use.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"cell": FormatCell,
		"add":  func(a, b int) int { return a + b },
	}
}

// FormatCell renders a result cell: nil as blank, numbers as the backend wrote
// them, composite values as JSON.
func FormatCell(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case json.Number:
		return c.String()
	case bool:
		if c {
			return "true"
		}
		return "false"
	case float64, float32, int, int64, int32:
		return fmt.Sprint(c)
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprint(c)
		}
		return string(b)
	}
}
