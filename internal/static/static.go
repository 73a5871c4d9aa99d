package static

import (
	"embed"
	"io"
	"io/fs"
	"net/http"
)

//go:embed web/*
var content embed.FS

// dashboard is the embedded web UI with the "web" prefix stripped
var dashboard = func() fs.FS {
	fsys, err := fs.Sub(content, "web")
	if err != nil {
		panic(err)
	}
	return fsys
}()

// FileSystem returns the embedded dashboard as an http.FileSystem
func FileSystem() http.FileSystem {
	return http.FS(dashboard)
}

// Handler serves the embedded dashboard assets
func Handler() http.Handler {
	return http.FileServer(FileSystem())
}

// Index serves the dashboard entry page on the root path. It cannot go
// through Handler because http.FileServer redirects /index.html to /.
func Index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	file, err := dashboard.Open("index.html")
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, "index.html", stat.ModTime(), file.(io.ReadSeeker))
}
