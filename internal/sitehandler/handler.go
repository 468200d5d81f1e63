// Package sitehandler serves the portfolio pages and static assets.
package sitehandler

import (
	"html/template"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/pathutil"
)

type Handler struct {
	opts  Options
	pages map[string]*template.Template
}

func New(opts *Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	pages, err := parsePages(opts.Templates)
	if err != nil {
		return nil, err
	}
	return &Handler{opts: *opts, pages: pages}, nil
}

// Routes registers the pages and /static/*. Pass the Handler itself as the
// server's SiteHandler so unknown paths get the themed 404.
func (h *Handler) Routes(r chi.Router) {
	getHead(r, "/", h.index)
	getHead(r, "/templates/hello/{name}", h.hello)
	getHead(r, "/templates/about", h.about)
	getHead(r, "/static/*", h.static)
}

func getHead(r chi.Router, pattern string, fn http.HandlerFunc) {
	r.Get(pattern, fn)
	r.Head(pattern, fn)
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", h.opts.HTMLCacheControl)
	h.render(w, r, http.StatusOK, pageIndex, pageData{
		Title: "Portfolio",
		Name:  "Welcome",
		Items: []string{"Portfolio", "About", "Contact"},
	})
}

func (h *Handler) hello(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", h.opts.HTMLCacheControl)
	h.render(w, r, http.StatusOK, pageIndex, pageData{
		Title: "Hello",
		Name:  chi.URLParam(r, "name"),
		Items: []string{"One", "Two", "Three"},
	})
}

func (h *Handler) about(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", h.opts.HTMLCacheControl)
	h.render(w, r, http.StatusOK, pageAbout, pageData{Title: "About"})
}

func (h *Handler) static(w http.ResponseWriter, r *http.Request) {
	name, ok := pathutil.AssetName(chi.URLParam(r, "*"))
	if !ok || !existsFile(h.opts.Static, name) {
		h.notFound(w, r)
		return
	}
	if cc := cacheControlForFile(name, &h.opts); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
	http.ServeFileFS(w, r, h.opts.Static, name)
}

// ServeHTTP is the fallback for unmatched routes and disallowed methods
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.MethodNotAllowed(w, r)
		return
	}
	h.notFound(w, r)
}

// MethodNotAllowed renders the 405 page. Allow defaults to the site's GET, HEAD
// unless the router already filled it in for the matched path.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	if w.Header().Get("Allow") == "" {
		w.Header().Set("Allow", "GET, HEAD")
	}
	w.Header().Set("Cache-Control", "no-store")
	h.render(w, r, http.StatusMethodNotAllowed, pageNotAllow, pageData{Title: "Method Not Allowed", URI: r.URL.Path})
}

func (h *Handler) notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	h.render(w, r, http.StatusNotFound, pageNotFound, pageData{Title: "Not Found", URI: r.URL.RequestURI()})
}

func existsFile(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
