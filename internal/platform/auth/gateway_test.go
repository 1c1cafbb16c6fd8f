package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pottech/document-creation/internal/platform/idp"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc123", "abc123", true},
		{"bearer abc123", "abc123", true},
		{"BEARER abc123", "abc123", true},
		{"Basic abc", "", false},
		{"", "", false},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Bearer a b", "", false},
		{"Bearer  abc", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractBearerToken(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ExtractBearerToken(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

type fakeIntrospector struct {
	results map[string]*idp.Introspection
	err     error
}

func (f *fakeIntrospector) Introspect(_ context.Context, token string) (*idp.Introspection, error) {
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[token]; ok {
		return r, nil
	}
	return nil, idp.ErrInactiveToken
}

func TestValidateBearerToken(t *testing.T) {
	active := &idp.Introspection{Active: true, ClientID: "api-x"}
	g := NewGateway(&fakeIntrospector{results: map[string]*idp.Introspection{
		"good":     active,
		"inactive": {Active: false},
	}}, newMemStore(), zerolog.Nop())
	ctx := context.Background()

	if got := g.ValidateBearerToken(ctx, "good"); got != active {
		t.Errorf("expected active result, got %+v", got)
	}
	if got := g.ValidateBearerToken(ctx, "inactive"); got != nil {
		t.Errorf("inactive result must be nil, got %+v", got)
	}
	if got := g.ValidateBearerToken(ctx, "unknown"); got != nil {
		t.Errorf("unknown token must be nil, got %+v", got)
	}

	down := NewGateway(&fakeIntrospector{err: errors.New("connection refused")}, newMemStore(), zerolog.Nop())
	if got := down.ValidateBearerToken(ctx, "good"); got != nil {
		t.Errorf("transport failure must be nil, got %+v", got)
	}
}

func TestClientFromIntrospection(t *testing.T) {
	store := newMemStore()
	hid := uuid.New()
	store.clients["api-enabled"] = &APIClient{ID: uuid.New(), KeycloakClientID: "api-enabled", HospitalID: &hid, IsEnabled: true}
	store.clients["api-disabled"] = &APIClient{ID: uuid.New(), KeycloakClientID: "api-disabled", IsEnabled: false}
	g := NewGateway(&fakeIntrospector{}, store, zerolog.Nop())
	ctx := context.Background()

	got, err := g.ClientFromIntrospection(ctx, &idp.Introspection{Active: true, ClientID: "api-enabled", Scope: "read:hospitals profile"})
	if err != nil || got == nil {
		t.Fatalf("expected client context, got %v", err)
	}
	if len(got.Scopes) != 2 || got.Scopes[0] != "read:hospitals" || !got.HasScope("profile") {
		t.Errorf("unexpected scopes %v", got.Scopes)
	}

	for name, in := range map[string]*idp.Introspection{
		"disabled":     {Active: true, ClientID: "api-disabled"},
		"unregistered": {Active: true, ClientID: "api-unknown"},
		"no client_id": {Active: true},
		"nil":          nil,
	} {
		if got, err := g.ClientFromIntrospection(ctx, in); got != nil || err != nil {
			t.Errorf("%s: expected nil, nil; got %+v, %v", name, got, err)
		}
	}
}

func TestClientFromIntrospection_StoreError(t *testing.T) {
	store := newMemStore()
	store.failClientLookup = errors.New("connection refused")
	g := NewGateway(&fakeIntrospector{}, store, zerolog.Nop())

	got, err := g.ClientFromIntrospection(context.Background(), &idp.Introspection{Active: true, ClientID: "api-enabled"})
	if err == nil || got != nil {
		t.Errorf("expected a lookup error, got %+v, %v", got, err)
	}
}
