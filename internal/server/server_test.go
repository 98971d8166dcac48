package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	v1 "github.com/Xunop/celestial/internal/api/v1"
	"github.com/Xunop/celestial/internal/http/request"
	"github.com/Xunop/celestial/internal/version"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthcheck(t *testing.T) {
	api := v1.NewHandler(v1.Deps{})

	w := httptest.NewRecorder()
	SetupHandler(pinger{}, api).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("healthy store should answer OK, got %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	SetupHandler(pinger{err: errors.New("down")}, api).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("unreachable store should answer 500, got %d", w.Code)
	}
}

func TestVersion(t *testing.T) {
	w := httptest.NewRecorder()
	SetupHandler(pinger{}, v1.NewHandler(v1.Deps{})).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	if w.Body.String() != version.GetCurrentVersion() {
		t.Errorf("unexpected version %q", w.Body.String())
	}
}

func TestStartServer(t *testing.T) {
	srv, err := StartServer("127.0.0.1:0", pinger{}, v1.NewHandler(v1.Deps{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	var seen *statusRecorder
	h := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = w.(*statusRecorder)
		if ip := r.Context().Value(request.ClientIPContextKey); ip != "203.0.113.7" {
			t.Errorf("client ip should be in the context, got %v", ip)
		}
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("chá"))
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if seen == nil {
		t.Fatal("handler should see the recorder")
	}
	if seen.status != http.StatusTeapot || seen.bytes != len("chá") {
		t.Errorf("recorded %d/%d", seen.status, seen.bytes)
	}
	if _, _, err := seen.Hijack(); err == nil {
		t.Error("a recorder cannot hijack a writer that does not support it")
	}
}
