package static

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFileSystem(t *testing.T) {
	fs := FileSystem()
	if fs == nil {
		t.Fatal("FileSystem() returned nil")
	}

	file, err := fs.Open("index.html")
	if err != nil {
		t.Fatalf("failed to open index.html: %v", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		t.Fatalf("failed to stat index.html: %v", err)
	}

	if stat.Size() == 0 {
		t.Error("index.html should not be empty")
	}
}

func TestHandler(t *testing.T) {
	handler := Handler()
	if handler == nil {
		t.Fatal("Handler() returned nil")
	}

	// Use assets/app.js instead of index.html since http.FileServer
	// redirects index.html requests to the directory root
	req := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	body, _ := io.ReadAll(rr.Body)
	if len(body) == 0 {
		t.Error("response body should not be empty")
	}
}

func TestHandler_ServesDashboard(t *testing.T) {
	handler := Handler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), "Veeam ML Explorer") {
		t.Error("dashboard title missing from index page")
	}
}

func TestIndex(t *testing.T) {
	t.Run("root serves the dashboard", func(t *testing.T) {
		rr := httptest.NewRecorder()
		Index(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
		}
		body, _ := io.ReadAll(rr.Body)
		if !strings.Contains(string(body), "Veeam ML Explorer") {
			t.Error("dashboard title missing from index page")
		}
	})

	t.Run("other paths are not swallowed", func(t *testing.T) {
		rr := httptest.NewRecorder()
		Index(rr, httptest.NewRequest(http.MethodGet, "/no-such-page", nil))

		if rr.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
		}
	})
}

func TestHandler_NotFound(t *testing.T) {
	handler := Handler()

	req := httptest.NewRequest(http.MethodGet, "/nonexistent-file.xyz", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestFileSystem_OpenAssets(t *testing.T) {
	fs := FileSystem()

	files := []string{
		"index.html",
		"assets/app.js",
		"assets/style.css",
	}

	for _, filename := range files {
		t.Run(filename, func(t *testing.T) {
			file, err := fs.Open(filename)
			if err != nil {
				t.Fatalf("failed to open %s: %v", filename, err)
			}
			defer file.Close()

			stat, err := file.Stat()
			if err != nil {
				t.Errorf("failed to stat %s: %v", filename, err)
				return
			}

			if stat.IsDir() {
				t.Errorf("%s should be a file, not a directory", filename)
			}
		})
	}
}
