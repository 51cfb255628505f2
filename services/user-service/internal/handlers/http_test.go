package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/md-rashed-zaman/eventrelay/libs/inbox"
	"github.com/md-rashed-zaman/eventrelay/libs/platform/platformtest"
	"github.com/md-rashed-zaman/eventrelay/services/user-service/internal/storage"
	"github.com/md-rashed-zaman/eventrelay/services/user-service/internal/users"
)

func TestCreateUserStatusCodes(t *testing.T) {
	env := platformtest.New(inbox.DefaultMaxAttempts)
	h := New(users.New(storage.NewMemoryRepository(env.Store), env.Outbox, env.Logger), env.Logger).Routes()

	cases := []struct {
		name   string
		body   string
		before func()
		want   int
	}{
		{name: "created", body: `{"name":"Ann","email":"a@x.com"}`, want: http.StatusCreated},
		{name: "duplicate email", body: `{"name":"Ann","email":"a@x.com"}`, want: http.StatusConflict},
		{name: "missing name", body: `{"email":"b@x.com"}`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"name":"Bob","email":"b@x.com","role":"admin"}`, want: http.StatusBadRequest},
		{name: "broker down", body: `{"name":"Cy","email":"c@x.com"}`, before: func() { env.Broker.FailNextPublishes(1) }, want: http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.before != nil {
				tc.before()
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(tc.body)))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	if rec.Code != http.StatusOK || strings.Count(rec.Body.String(), `"id"`) != 2 {
		t.Fatalf("expected Ann and Cy, got %s", rec.Body.String())
	}
}
