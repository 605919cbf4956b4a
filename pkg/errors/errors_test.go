package errors

import (
	stdErrors "errors"
	"net/http"
	"testing"
)

func TestMetadataFor_KnownCodes(t *testing.T) {
	cases := []struct {
		code   Code
		status int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodePrecondition, http.StatusUnprocessableEntity},
		{CodeNotFound, http.StatusNotFound},
		{CodeConflict, http.StatusConflict},
		{CodeStateConflict, http.StatusUnprocessableEntity},
		{CodeDependency, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		if got := MetadataFor(tc.code).HTTPStatus; got != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.code, tc.status, got)
		}
	}
}

func TestMetadataFor_UnknownFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("NOT_A_CODE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := stdErrors.New("boom")
	err := Wrap(CodeDependency, cause, "escrow release failed")
	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable via errors.Is")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("unexpected code %s", err.Code())
	}
}

func TestAs_FindsTypedErrorInChain(t *testing.T) {
	inner := New(CodeConflict, "version mismatch")
	wrapped := Wrap(CodeDependency, inner, "outer")
	typed := As(wrapped)
	if typed == nil {
		t.Fatal("expected typed error")
	}
	if typed.Code() != CodeDependency {
		t.Fatalf("expected outermost code, got %s", typed.Code())
	}
}

func TestIsCode(t *testing.T) {
	err := New(CodePrecondition, "allocation not configured")
	if !IsCode(err, CodePrecondition) {
		t.Fatal("expected IsCode to match")
	}
	if IsCode(err, CodeNotFound) {
		t.Fatal("expected IsCode mismatch")
	}
	if IsCode(stdErrors.New("plain"), CodeNotFound) {
		t.Fatal("plain errors carry no code")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(CodeValidation, "quantity too small").WithDetails(map[string]any{"quantity": 0})
	details, ok := err.Details().(map[string]any)
	if !ok {
		t.Fatal("expected map details")
	}
	if details["quantity"] != 0 {
		t.Fatalf("unexpected details: %v", details)
	}
}
