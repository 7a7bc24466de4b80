package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCauseAndCode(t *testing.T) {
	cause := stdErrors.New("connection refused")
	err := Wrap(CodeStorageFailure, cause, "write setting", WithMetadata("key", "audio.alpha.status"))

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	wrapped := fmt.Errorf("boot: %w", err)
	if CodeOf(wrapped) != CodeStorageFailure {
		t.Fatalf("unexpected code %s", CodeOf(wrapped))
	}
	if !stdErrors.Is(wrapped, New(CodeStorageFailure, "")) {
		t.Fatalf("expected match by code")
	}
	if !RetryableError(wrapped) {
		t.Fatalf("storage failures are retryable by default")
	}
	if got := err.Metadata()["key"]; got != "audio.alpha.status" {
		t.Fatalf("unexpected metadata %q", got)
	}
}

func TestDefaultsAndOverrides(t *testing.T) {
	err := New(CodeNotFound, "")
	if err.Message() != "resource not found" {
		t.Fatalf("unexpected default message %q", err.Message())
	}
	if err.Severity() != SeverityInfo {
		t.Fatalf("unexpected severity %s", err.Severity())
	}
	err = New(CodeNotFound, "x", WithSeverity(SeverityCritical), WithRetryable(true))
	if err.Severity() != SeverityCritical || !err.Retryable() {
		t.Fatalf("overrides not applied")
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatalf("plain errors map to UNKNOWN")
	}
	if SeverityOf(nil) != SeverityCritical {
		t.Fatalf("nil maps to UNKNOWN severity")
	}
	if AttributesOf("MISSING").Message != "unknown error" {
		t.Fatalf("unregistered codes fall back to UNKNOWN")
	}
}
