package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmorgan81/imagegen/internal/credential"
	"github.com/dmorgan81/imagegen/internal/generate"
	"github.com/dmorgan81/imagegen/internal/image"
	"github.com/dmorgan81/imagegen/internal/log"
	"github.com/dmorgan81/imagegen/internal/page"
	"github.com/dmorgan81/imagegen/internal/session"
)

func newReplicate(t *testing.T, status string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer r8_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"pred-1","status":"starting"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"pred-1","status":"` + status + `","output":["https://x/img.png"]}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func newHandler(t *testing.T, replicate *httptest.Server) (*Handler, *credential.FileStore) {
	t.Helper()
	store := &credential.FileStore{Path: filepath.Join(t.TempDir(), "settings.json")}
	workflow := &generate.Workflow{
		Predictor: &image.ReplicateClient{Client: replicate.Client(), BaseURL: replicate.URL},
		Sleep:     func(context.Context, time.Duration) error { return nil },
	}
	s, err := session.New(context.Background(), store, workflow)
	if err != nil {
		t.Fatalf("new session returned error: %v", err)
	}
	return New(log.New(io.Discard, slog.LevelInfo), s, &page.Templator{}), store
}

func postForm(h http.Handler, path string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func getStatus(t *testing.T, h http.Handler) Status {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var status Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return status
}

func waitIdle(t *testing.T, h http.Handler) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		status := getStatus(t, h)
		if !status.Busy {
			return status
		}
		if time.Now().After(deadline) {
			t.Fatal("generation did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestIndex(t *testing.T) {
	h, _ := newHandler(t, newReplicate(t, "succeeded"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Generate image") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestRouting(t *testing.T) {
	h, _ := newHandler(t, newReplicate(t, "succeeded"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/generate", nil))
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected 405 allowing POST, got %d %q", rec.Code, rec.Header().Get("Allow"))
	}
}

func TestCredential(t *testing.T) {
	h, store := newHandler(t, newReplicate(t, "succeeded"))

	rec := postForm(h, "/credential", url.Values{"key": {"r8_saved"}})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	value, ok, err := store.Load(context.Background())
	if err != nil || !ok || value != "r8_saved" {
		t.Fatalf("expected persisted credential, got %q ok=%v err=%v", value, ok, err)
	}
}

func TestGenerate(t *testing.T) {
	h, store := newHandler(t, newReplicate(t, "succeeded"))

	rec := postForm(h, "/generate", url.Values{"key": {"r8_test"}, "prompt": {"a red fox"}})
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect, got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	value, _, err := store.Load(context.Background())
	if err != nil || value != "r8_test" {
		t.Fatalf("expected key to be saved, got %q err=%v", value, err)
	}

	status := waitIdle(t, h)
	if status.Image != "https://x/img.png" || status.Error != "" {
		t.Fatalf("unexpected status %#v", status)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `<img src="https://x/img.png"`) || !strings.Contains(body, `value="a red fox"`) {
		t.Fatalf("expected image and prompt in body %q", body)
	}
	if strings.Contains(body, `role="alert"`) {
		t.Fatalf("expected no error in body %q", body)
	}
}

func TestStatusFieldsAlwaysPresent(t *testing.T) {
	h, _ := newHandler(t, newReplicate(t, "succeeded"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var fields map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&fields); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	for _, key := range []string{"busy", "image", "error"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("expected %q in status %v", key, fields)
		}
	}
}

func TestGenerateShowsBusyPage(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"pred-1","status":"starting"}`))
			return
		}
		<-release
		_, _ = w.Write([]byte(`{"id":"pred-1","status":"succeeded","output":["https://x/img.png"]}`))
	}))
	t.Cleanup(server.Close)
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	h, _ := newHandler(t, server)

	rec := postForm(h, "/generate", url.Values{"key": {"r8_test"}, "prompt": {"first"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	body := rec.Body.String()
	if !strings.Contains(body, ` disabled>Generating...</button>`) || !strings.Contains(body, `http-equiv="refresh"`) {
		t.Fatalf("expected busy page, got %q", body)
	}

	rec = postForm(h, "/generate", url.Values{"key": {"r8_test"}, "prompt": {"second"}})
	if !strings.Contains(rec.Body.String(), "An image is already being generated") {
		t.Fatalf("expected in progress message, got %q", rec.Body.String())
	}

	unblock()
	status := waitIdle(t, h)
	if status.Image != "https://x/img.png" {
		t.Fatalf("unexpected status %#v", status)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(rec.Body.String(), `value="first"`) {
		t.Fatalf("expected the running prompt to be kept, got %q", rec.Body.String())
	}
}

func TestGenerateValidation(t *testing.T) {
	h, _ := newHandler(t, newReplicate(t, "succeeded"))

	rec := postForm(h, "/generate", url.Values{"prompt": {"a red fox"}})
	if !strings.Contains(rec.Body.String(), "Please enter your Replicate API key") {
		t.Fatalf("expected missing key message, got %q", rec.Body.String())
	}

	rec = postForm(h, "/generate", url.Values{"key": {"r8_test"}, "prompt": {""}})
	if !strings.Contains(rec.Body.String(), "Please enter a description for the image") {
		t.Fatalf("expected missing prompt message, got %q", rec.Body.String())
	}
}

func TestGenerateFailure(t *testing.T) {
	h, _ := newHandler(t, newReplicate(t, "failed"))

	postForm(h, "/generate", url.Values{"key": {"r8_test"}, "prompt": {"a red fox"}})
	status := waitIdle(t, h)
	if status.Image != "" || status.Error != "There was an error generating the image" {
		t.Fatalf("unexpected status %#v", status)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "There was an error generating the image") {
		t.Fatalf("expected generic error message, got %q", body)
	}
	if strings.Contains(body, "<img") {
		t.Fatalf("expected no image, got %q", body)
	}
}
