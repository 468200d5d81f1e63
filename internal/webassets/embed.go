// Package webassets embeds the page templates and static files into the binary.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed templates static
var embedded embed.FS

func sub(dir string) fs.FS {
	s, err := fs.Sub(embedded, dir)
	if err != nil {
		panic(fmt.Errorf("webassets: %s subfs: %w", dir, err))
	}
	return s
}

// TemplatesFS holds layout.html, pages/*.html and error/*.html
func TemplatesFS() fs.FS { return sub("templates") }

// StaticFS is served under /static/
func StaticFS() fs.FS { return sub("static") }
