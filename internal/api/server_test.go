package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"cinemitr/internal/config"
	"cinemitr/internal/lifecycle"
)

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{lifecycle.ErrNotFound, http.StatusNotFound},
		{lifecycle.ErrIllegalTransition, http.StatusUnprocessableEntity},
		{&lifecycle.TransitionError{Variant: lifecycle.VariantContentItem, From: "Uploaded", To: "New"}, http.StatusUnprocessableEntity},
		{lifecycle.ErrConflict, http.StatusConflict},
		{lifecycle.ErrTimeout, http.StatusGatewayTimeout},
		{&lifecycle.PersistenceError{Op: "update", Err: http.ErrBodyNotAllowed}, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusCodeFor(c.err); got != c.want {
			t.Fatalf("statusCodeFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestActorFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPatch, "/api/v1/content/x/status", nil)
	if got := actorFromRequest(r); got != "system" {
		t.Fatalf("default actor = %q, want system", got)
	}
	r.Header.Set("X-Actor", "alice")
	if got := actorFromRequest(r); got != "alice" {
		t.Fatalf("actor = %q, want alice", got)
	}
}

func TestHealthz(t *testing.T) {
	s := New(config.Config{}, nil, nil, nil, nil)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
}
