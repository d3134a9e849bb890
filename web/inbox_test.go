package web

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestInboxPostEnqueues(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestServer(t)
	router := s.Router()

	body := `{"id":"https://origin.example/activities/1","type":"Like","actor":"https://origin.example/u/bob","object":"https://mazine.example/o/1"}`
	req := httptest.NewRequest("POST", "/u/alice/inbox", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Signature", `keyId="https://origin.example/u/bob#main-key",algorithm="rsa-sha256",headers="(request-target) host date digest",signature="abc"`)
	req.Header.Set("Digest", "SHA-256=xyz")
	req.Header.Set("Date", "Mon, 01 Sep 2025 12:00:00 GMT")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}

	err, items := s.db.ReadDueInboxItems(10)
	if err != nil {
		t.Fatalf("ReadDueInboxItems failed: %v", err)
	}
	if len(*items) != 1 {
		t.Fatalf("Expected 1 queued item, got %d", len(*items))
	}
	item := (*items)[0]
	if item.Body != body {
		t.Error("Stored body does not match the request body")
	}
	if item.Path != "/u/alice/inbox" {
		t.Errorf("Expected the request path to be stored, got '%s'", item.Path)
	}
	if item.SourceHost != "origin.example" {
		t.Errorf("Expected source host from the signing key, got '%s'", item.SourceHost)
	}
	if item.Digest != "SHA-256=xyz" {
		t.Errorf("Expected the Digest header to be stored, got '%s'", item.Digest)
	}
}

func TestInboxPostRejectsEmptyBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestServer(t)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/i/inbox", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an empty body, got %d", w.Code)
	}
	err, items := s.db.ReadDueInboxItems(10)
	if err != nil || len(*items) != 0 {
		t.Errorf("Nothing should be queued, got %d items", len(*items))
	}
}

func TestInboxPostRejectsOversizedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestServer(t)
	router := s.Router()

	oversized := bytes.Repeat([]byte("a"), 1024*1024+1)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/i/inbox", bytes.NewReader(oversized))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", w.Code)
	}
}

func TestInboxRoutesDisabledWithoutFederation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestServer(t)
	s.conf.Conf.WithAp = false
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/i/inbox", strings.NewReader(`{}`))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 with federation disabled, got %d", w.Code)
	}
}
