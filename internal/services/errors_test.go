package services_test

import (
	"errors"
	"testing"

	"datamill/internal/services"
)

func TestWrapCarriesMarker(t *testing.T) {
	cause := errors.New("exit status 2")
	err := services.Wrap(services.ErrExternalTool, "train", "run command", "training process failed", cause)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatal("expected wrapped error to match ErrExternalTool")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped error to preserve cause")
	}
}

func TestDetailsStripsMarkerPrefix(t *testing.T) {
	err := services.Wrap(services.ErrTimeout, "clean", "run command", "stage deadline exceeded", nil)
	details := services.Details(err)
	if details.Kind != services.KindTimeout {
		t.Fatalf("kind = %q, want %q", details.Kind, services.KindTimeout)
	}
	if details.Message != "clean: run command: stage deadline exceeded" {
		t.Fatalf("unexpected message: %q", details.Message)
	}
}

func TestDetailsDefaultsToTransient(t *testing.T) {
	details := services.Details(errors.New("boom"))
	if details.Kind != services.KindTransient {
		t.Fatalf("kind = %q, want transient", details.Kind)
	}
	if details.Message != "boom" {
		t.Fatalf("message = %q", details.Message)
	}
}
