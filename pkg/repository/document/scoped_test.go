package document

import (
	"context"
	"errors"
	"testing"

	"github.com/nimburion/docops/pkg/codec"
	"github.com/nimburion/docops/pkg/query"
)

func queryForMember(uid string) query.Variables {
	return query.Variables{}.Where("memberId", query.Equal, uid)
}

func newScopedFixture(t *testing.T, uid string) *Scoped {
	t.Helper()
	rules, err := NewRules(map[string]Rule{
		"members": {
			Read:  `resource.id == request.auth.uid || (has(request.auth.claims.role) && request.auth.claims.role == "admin")`,
			Write: `resource.id == request.auth.uid`,
		},
		"donations": {
			Read:  `resource.data.memberId == request.auth.uid`,
			Write: `request.data.memberId == request.auth.uid`,
		},
	})
	if err != nil {
		t.Fatalf("NewRules() error = %v", err)
	}
	inner := NewMemoryStore()
	ctx := context.Background()
	_ = inner.Set(ctx, Collection("members").Doc("u1"), map[string]any{"name": "Ada"})
	_ = inner.Set(ctx, Collection("members").Doc("u2"), map[string]any{"name": "Grace"})
	_ = inner.Set(ctx, Collection("donations").Doc("d1"), map[string]any{"memberId": "u1", "amount": 10})
	return NewScoped(inner, rules, Principal{UID: uid})
}

func TestNewRules_RejectsBadExpression(t *testing.T) {
	if _, err := NewRules(map[string]Rule{"members": {Read: "resource.id =="}}); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestScoped_Get(t *testing.T) {
	store := newScopedFixture(t, "u1")
	ctx := context.Background()

	if _, err := store.Get(ctx, Collection("members").Doc("u1")); err != nil {
		t.Fatalf("own document should be readable: %v", err)
	}
	_, err := store.Get(ctx, Collection("members").Doc("u2"))
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Get() error = %v, want ErrPermissionDenied", err)
	}

	admin := store.As(Principal{UID: "root", Claims: map[string]any{"role": "admin"}})
	if _, err := admin.Get(ctx, Collection("members").Doc("u2")); err != nil {
		t.Fatalf("admin should read every member: %v", err)
	}
}

func TestScoped_RunFailsWhenAnyDocumentIsDenied(t *testing.T) {
	store := newScopedFixture(t, "u1")
	ctx := context.Background()

	if _, err := store.Run(ctx, Collection("members").Query()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Run() error = %v, want ErrPermissionDenied", err)
	}
	q, err := Collection("donations").Query().Apply(queryForMember("u1"))
	if err != nil {
		t.Fatal(err)
	}
	snaps, err := store.Run(ctx, q)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected one donation, got %d", len(snaps))
	}
}

func TestScoped_Writes(t *testing.T) {
	store := newScopedFixture(t, "u1")
	ctx := context.Background()

	if err := store.Update(ctx, Collection("members").Doc("u1"), map[string]any{"updatedAt": codec.ServerTimestamp}); err != nil {
		t.Fatalf("own update should pass: %v", err)
	}
	if err := store.Update(ctx, Collection("members").Doc("u2"), map[string]any{"name": "x"}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Update() error = %v, want ErrPermissionDenied", err)
	}
	if _, err := store.Add(ctx, Collection("donations"), map[string]any{"memberId": "u1", "amount": 5}); err != nil {
		t.Fatalf("own donation should pass: %v", err)
	}
	if _, err := store.Add(ctx, Collection("donations"), map[string]any{"memberId": "u2", "amount": 5}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Add() error = %v, want ErrPermissionDenied", err)
	}
}

func TestScoped_PrincipalFromContext(t *testing.T) {
	store := newScopedFixture(t, "")
	ctx := ContextWithPrincipal(context.Background(), Principal{UID: "u2"})

	if _, err := store.Get(ctx, Collection("members").Doc("u2")); err != nil {
		t.Fatalf("context principal should read its own document: %v", err)
	}
	if _, err := store.Get(context.Background(), Collection("members").Doc("u2")); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("anonymous Get() error = %v, want ErrPermissionDenied", err)
	}
	if p, ok := PrincipalFromContext(ctx); !ok || p.UID != "u2" {
		t.Fatalf("PrincipalFromContext() = %v, %v", p, ok)
	}
}

func TestScoped_UnknownCollectionDenies(t *testing.T) {
	store := newScopedFixture(t, "u1")
	_, err := store.Run(context.Background(), Collection("audit").Query())
	if err != nil {
		t.Fatalf("empty result needs no read check: %v", err)
	}
	if _, err := store.Add(context.Background(), Collection("audit"), map[string]any{}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Add() error = %v, want ErrPermissionDenied", err)
	}
}
