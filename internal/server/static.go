package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// imageURLPrefix is where stored product images are served
const imageURLPrefix = "/uploads/"

// spaHandler serves files from dir and answers every other GET with
// index.html so client-side routes survive a reload
type spaHandler struct {
	dir      string
	notFound http.Handler
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := filepath.Join(h.dir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
	if serveFile(w, r, name) {
		return
	}
	if !serveFile(w, r, filepath.Join(h.dir, "index.html")) {
		h.notFound.ServeHTTP(w, r)
	}
}

// imageHandler serves product images from dir. Directories are never listed.
type imageHandler struct {
	dir      string
	notFound http.Handler
}

func (h imageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + strings.TrimPrefix(r.URL.Path, imageURLPrefix))
	if !serveFile(w, r, filepath.Join(h.dir, filepath.FromSlash(name))) {
		h.notFound.ServeHTTP(w, r)
	}
}

// serveFile writes the regular file at name, reporting false when there is none
func serveFile(w http.ResponseWriter, r *http.Request, name string) bool {
	f, err := os.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return true
}
