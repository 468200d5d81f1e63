package webassets

import (
	"io/fs"
	"strings"
	"testing"
)

func TestTemplatesFS(t *testing.T) {
	fsys := TemplatesFS()
	for _, name := range []string{"layout.html", "pages/index.html", "pages/about.html", "error/404.html", "error/405.html"} {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(data) == 0 {
			t.Fatalf("%s is empty", name)
		}
	}
	layout, _ := fs.ReadFile(fsys, "layout.html")
	if !strings.Contains(string(layout), `{{template "page" .}}`) {
		t.Fatal("layout must render the page block")
	}
}

func TestStaticFS(t *testing.T) {
	fsys := StaticFS()
	for _, name := range []string{"main.js", "contact.js", "style.css"} {
		info, err := fs.Stat(fsys, name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if info.IsDir() || info.Size() == 0 {
			t.Fatalf("%s: bad file", name)
		}
	}
	js, _ := fs.ReadFile(fsys, "main.js")
	if !strings.Contains(string(js), "function closeMobilePopup") {
		t.Fatal("main.js missing popup handlers")
	}
}

func TestStaticFS_NoTemplatesLeak(t *testing.T) {
	if _, err := fs.Stat(StaticFS(), "layout.html"); err == nil {
		t.Fatal("templates must not be reachable from the static root")
	}
}
