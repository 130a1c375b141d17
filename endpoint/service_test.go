package endpoint_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/xraph/payrelay"
	"github.com/xraph/payrelay/endpoint"
	"github.com/xraph/payrelay/id"
	"github.com/xraph/payrelay/store/memory"
)

func ctx() context.Context { return context.Background() }

func newService() *endpoint.Service {
	return endpoint.NewService(memory.New(), nil)
}

func register(t *testing.T, svc *endpoint.Service, projectID string, types ...string) *endpoint.Registration {
	t.Helper()
	reg, err := svc.Register(ctx(), endpoint.Input{
		ProjectID:  projectID,
		URL:        "https://merchant.example/webhooks",
		EventTypes: types,
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestRegister(t *testing.T) {
	svc := newService()
	reg := register(t, svc, "proj-1")

	if reg.Endpoint.ID.Prefix() != id.PrefixEndpoint {
		t.Fatalf("unexpected ID %q", reg.Endpoint.ID)
	}
	if !strings.HasPrefix(reg.Secret, "whsec_") {
		t.Fatalf("expected generated secret, got %q", reg.Secret)
	}
	if reg.Endpoint.Status != endpoint.StatusActive {
		t.Fatal("expected ACTIVE")
	}
	if len(reg.Endpoint.EventTypes) != 1 || reg.Endpoint.EventTypes[0] != "*" {
		t.Fatalf("expected default subscription, got %v", reg.Endpoint.EventTypes)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newService()

	tests := []struct {
		name  string
		in    endpoint.Input
		field string
	}{
		{"missing url", endpoint.Input{ProjectID: "p"}, "url"},
		{"bad url", endpoint.Input{ProjectID: "p", URL: "ftp://x.example"}, "url"},
		{"missing project", endpoint.Input{URL: "https://x.example"}, "project_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx(), tt.in)
			var verr *endpoint.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	svc := newService()
	reg := register(t, svc, "proj-1")

	desc := "orders service"
	ep, err := svc.Update(ctx(), reg.Endpoint.ID, endpoint.UpdateInput{
		Description: &desc,
		EventTypes:  []string{"payment.*"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if ep.Description != desc || ep.EventTypes[0] != "payment.*" {
		t.Fatalf("update not applied: %+v", ep)
	}

	got, err := svc.Get(ctx(), reg.Endpoint.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Secret != reg.Secret {
		t.Fatal("update must not change the secret")
	}
}

func TestRevokeIsIdempotentAndPrunes(t *testing.T) {
	svc := newService()
	keep := register(t, svc, "proj-1")
	gone := register(t, svc, "proj-1")

	first, err := svc.Revoke(ctx(), gone.Endpoint.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Revoke(ctx(), gone.Endpoint.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second.Status != endpoint.StatusRevoked || !second.RevokedAt.Equal(*first.RevokedAt) {
		t.Fatal("second revoke should be a no-op")
	}

	list, err := svc.List(ctx(), "proj-1", endpoint.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID.String() != keep.Endpoint.ID.String() {
		t.Fatalf("expected only the active endpoint, got %d", len(list))
	}

	resolved, err := svc.Resolve(ctx(), "proj-1", "payment.created")
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 1 {
		t.Fatalf("revoked endpoint resolved, got %d", len(resolved))
	}

	if _, err := svc.RotateSecret(ctx(), gone.Endpoint.ID); !errors.Is(err, endpoint.ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestRotateSecret(t *testing.T) {
	svc := newService()
	reg := register(t, svc, "proj-1")

	rotated, err := svc.RotateSecret(ctx(), reg.Endpoint.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rotated.Secret == reg.Secret || !strings.HasPrefix(rotated.Secret, "whsec_") {
		t.Fatalf("expected a new secret, got %q", rotated.Secret)
	}

	got, _ := svc.Get(ctx(), reg.Endpoint.ID)
	if got.Secret != rotated.Secret {
		t.Fatal("new secret not persisted")
	}
}

func TestNotFound(t *testing.T) {
	svc := newService()
	missing := id.NewEndpointID()

	if _, err := svc.Get(ctx(), missing); !errors.Is(err, payrelay.ErrEndpointNotFound) {
		t.Fatalf("Get: expected ErrEndpointNotFound, got %v", err)
	}
	if _, err := svc.Revoke(ctx(), missing); !errors.Is(err, payrelay.ErrEndpointNotFound) {
		t.Fatalf("Revoke: expected ErrEndpointNotFound, got %v", err)
	}
	if _, err := svc.RotateSecret(ctx(), missing); !errors.Is(err, payrelay.ErrEndpointNotFound) {
		t.Fatalf("RotateSecret: expected ErrEndpointNotFound, got %v", err)
	}
}
