package service

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"time"

	"github.com/KAsare1/picshare/cmd/utils"
	"github.com/KAsare1/picshare/service/forms"
	"github.com/rs/zerolog/log"
)

//go:embed templates
var templateFS embed.FS

// Data is the template context for a page.
type Data map[string]interface{}

// Renderer executes the page templates. Each page is parsed together with
// the shared layout.
type Renderer struct {
	pages map[string]*template.Template
}

var funcs = template.FuncMap{
	"date": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format(forms.BirthDateLayout)
	},
	"datetime": func(t time.Time) string {
		return t.Format("02-01-2006 15:04")
	},
}

func NewRenderer() (*Renderer, error) {
	pages, err := fs.Glob(templateFS, "templates/pages/*.html")
	if err != nil {
		return nil, err
	}

	r := &Renderer{pages: make(map[string]*template.Template, len(pages))}
	for _, page := range pages {
		t, err := template.New("base.html").Funcs(funcs).ParseFS(templateFS, "templates/base.html", page)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", page, err)
		}
		r.pages[path.Base(page)] = t
	}
	return r, nil
}

// Render writes page with status. The current user is added to data as "User".
func (v *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, page string, data Data) {
	t, ok := v.pages[page]
	if !ok {
		log.Error().Str("page", page).Msg("Unknown template")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if data == nil {
		data = Data{}
	}
	if user, ok := utils.CurrentUser(r.Context()); ok {
		data["User"] = user
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base.html", data); err != nil {
		log.Error().Err(err).Str("page", page).Msg("Failed to render template")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (v *Renderer) NotFound(w http.ResponseWriter, r *http.Request) {
	v.Render(w, r, http.StatusNotFound, "not_found.html", nil)
}

// ServerError logs err and answers with a plain 500.
func (v *Renderer) ServerError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
