package tee

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecorderPassesThrough(t *testing.T) {
	rr := httptest.NewRecorder()
	rec := NewStatusRecorder(rr)

	rec.Header().Set("X-Test", "yes")
	rec.WriteHeader(http.StatusNotFound)
	rec.WriteHeader(http.StatusOK)
	rec.Write([]byte("not here"))

	if rec.StatusCode() != http.StatusNotFound || rr.Code != http.StatusNotFound {
		t.Fatalf("Status is %d, recorded %d", rr.Code, rec.StatusCode())
	}
	if rr.Header().Get("X-Test") != "yes" {
		t.Fatal("Header not passed through")
	}
	if rec.BytesWritten() != 8 || rr.Body.String() != "not here" {
		t.Fatalf("Wrote %d bytes: %s", rec.BytesWritten(), rr.Body.String())
	}
}

func TestImplicitStatus(t *testing.T) {
	rec := NewStatusRecorder(httptest.NewRecorder())
	rec.Write([]byte("hello"))
	if rec.StatusCode() != http.StatusOK {
		t.Fatalf("Status is %d", rec.StatusCode())
	}
}
