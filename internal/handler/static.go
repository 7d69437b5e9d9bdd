package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// FilesHandler serves uploaded blobs from the storage root. Directories are
// never listed and there is no index fallback.
type FilesHandler struct {
	root string
}

func NewFilesHandler(root string) *FilesHandler {
	return &FilesHandler{root: root}
}

func (h *FilesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Get the wildcard path from Chi router context
	path := chi.URLParam(r, "*")
	if path == "" || strings.Contains(path, "..") {
		http.NotFound(w, r)
		return
	}

	filePath := filepath.Join(h.root, filepath.FromSlash(path))
	if !strings.HasPrefix(filePath, filepath.Clean(h.root)+string(os.PathSeparator)) {
		http.NotFound(w, r)
		return
	}

	info, err := os.Stat(filePath)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, r, filePath)
}
