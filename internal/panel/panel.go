package panel

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path"
)

const (
	indexFile    = "index.html"
	cacheControl = "no-cache, must-revalidate"
)

//go:embed web
var embedded embed.FS

// Handler serves the dashboard from dir, or from the built-in copy when dir
// is empty or missing. Requests that match no file get index.html.
func Handler(dir string) http.Handler {
	assets := Assets(dir)
	files := http.FileServerFS(assets)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", cacheControl)

		name := path.Clean("/" + r.URL.Path)[1:]
		if name == "" || !isFile(assets, name) {
			http.ServeFileFS(w, r, assets, indexFile)
			return
		}
		files.ServeHTTP(w, r)
	})
}

// Assets returns the dashboard file tree.
func Assets(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}
	web, err := fs.Sub(embedded, "web")
	if err != nil {
		// Only reachable if the embed directive is broken.
		panic("panel: embedded assets missing: " + err.Error())
	}
	return web
}

func isFile(fsys fs.FS, name string) bool {
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
