package sitehandler

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// page names, each rendered inside layout.html
const (
	pageIndex    = "index"
	pageAbout    = "about"
	pageNotFound = "404"
	pageNotAllow = "405"
)

var pageFiles = map[string]string{
	pageIndex:    "pages/index.html",
	pageAbout:    "pages/about.html",
	pageNotFound: "error/404.html",
	pageNotAllow: "error/405.html",
}

type pageData struct {
	Title            string
	Name             string
	Items            []string
	URI              string
	TurnstileSiteKey string
}

var funcs = template.FuncMap{"wow": wow}

// wow bolds and italicises its argument, escaped
func wow(v any) template.HTML {
	return template.HTML("<b><i>" + template.HTMLEscapeString(fmt.Sprint(v)) + "</i></b>")
}

// parsePages builds one template set per page. Every page defines "page"
// so sets cannot share a namespace.
func parsePages(fsys fs.FS) (map[string]*template.Template, error) {
	base, err := template.New("layout.html").Funcs(funcs).ParseFS(fsys, "layout.html")
	if err != nil {
		return nil, xerrors.Wrap(err, "parse layout")
	}
	pages := make(map[string]*template.Template, len(pageFiles))
	for name, file := range pageFiles {
		t, err := parsePage(base, fsys, file)
		if err != nil {
			return nil, err
		}
		pages[name] = t
	}
	return pages, nil
}

func parsePage(base *template.Template, fsys fs.FS, file string) (*template.Template, error) {
	t, err := base.Clone()
	if err != nil {
		return nil, xerrors.Wrapf(err, "clone layout for %s", file)
	}
	if t, err = t.ParseFS(fsys, file); err != nil {
		return nil, xerrors.Wrapf(err, "parse page %s", file)
	}
	return t, nil
}

// render executes into a buffer first so a template error never leaves a half-written 200
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	data.TurnstileSiteKey = h.opts.TurnstileSiteKey

	var buf bytes.Buffer
	if err := h.pages[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		h.opts.Logger.Error(r.Context(), xerrors.Wrapf(err, "render %s", page), "page render failed")
		w.Header().Set("Cache-Control", "no-store")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
