package logger

import (
	"bytes"
	"context"
	"testing"
)

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := WithLogger(context.Background(), l)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithConnID(ctx, "c-9")

	if RequestIDFromContext(ctx) != "req-1" || ConnIDFromContext(ctx) != "c-9" {
		t.Fatal("ids not carried by the context")
	}

	L(ctx).Info("hello")
	entry := decode(t, &buf)[0]
	if entry["request_id"] != "req-1" || entry["conn_id"] != "c-9" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) != Default() {
		t.Fatal("FromContext without a logger should return the default")
	}
	if RequestIDFromContext(context.Background()) != "" {
		t.Fatal("RequestIDFromContext on empty context should be empty")
	}
}
