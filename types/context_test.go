package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if _, ok := UserID(ctx); ok {
		t.Fatalf("expected no user id on empty context")
	}

	ctx = WithTraceID(ctx, "t1")
	if got, ok := TraceID(ctx); !ok || got != "t1" {
		t.Fatalf("TraceID mismatch: %v %v", got, ok)
	}

	ctx = WithRequestID(ctx, "req-1")
	if got, ok := RequestID(ctx); !ok || got != "req-1" {
		t.Fatalf("RequestID mismatch: %v %v", got, ok)
	}

	ctx = WithUserID(ctx, "hod-user")
	if got, ok := UserID(ctx); !ok || got != "hod-user" {
		t.Fatalf("UserID mismatch: %v %v", got, ok)
	}

	ctx = WithRoles(ctx, []string{"hod", "faculty"})
	if got, ok := Roles(ctx); !ok || len(got) != 2 || got[0] != "hod" {
		t.Fatalf("Roles mismatch: %v %v", got, ok)
	}

	if _, ok := Roles(WithRoles(context.Background(), nil)); ok {
		t.Fatalf("expected empty roles to report false")
	}
}
