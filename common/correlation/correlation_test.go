package correlation

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestFromContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{name: "with id", ctx: NewContext(context.Background(), "corr-1"), want: "corr-1"},
		{name: "without id", ctx: context.Background(), want: ""},
		{name: "wrong type", ctx: context.WithValue(context.Background(), IDKey, 42), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromContext(tt.ctx); got != tt.want {
				t.Errorf("FromContext() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background())
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("Ensure() generated invalid uuid %q: %v", id, err)
	}
	if FromContext(ctx) != id {
		t.Errorf("context id = %q, want %q", FromContext(ctx), id)
	}

	ctx2, id2 := Ensure(ctx)
	if id2 != id {
		t.Errorf("Ensure() replaced existing id: got %q, want %q", id2, id)
	}
	if ctx2 != ctx {
		t.Error("Ensure() should return the same context when an id exists")
	}
}
