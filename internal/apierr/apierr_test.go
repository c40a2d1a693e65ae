package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOfUnwraps(t *testing.T) {
	base := New(NotFound, "route missing")
	wrapped := fmt.Errorf("lookup failed: %w", base)

	kind, ok := KindOf(wrapped)
	if !ok || kind != NotFound {
		t.Fatalf("expected NotFound, got %v (ok=%v)", kind, ok)
	}
}

func TestKindOfNonAPIError(t *testing.T) {
	_, ok := KindOf(errors.New("plain error"))
	if ok {
		t.Fatal("expected ok=false for a plain error")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		NotFound:          http.StatusNotFound,
		Conflict:          http.StatusConflict,
		InvalidInput:      http.StatusBadRequest,
		InvalidDependency: http.StatusBadRequest,
		SignatureMismatch: http.StatusUnauthorized,
		BuildFailed:       http.StatusUnprocessableEntity,
		ACMETimeout:       http.StatusUnprocessableEntity,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestStatusForUnknownError(t *testing.T) {
	if got := StatusFor(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("expected 500 for an untyped error, got %d", got)
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(RuntimeError, "docker unreachable", cause)
	if err.Unwrap() != cause {
		t.Fatal("expected Unwrap to return the cause")
	}
	if err.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
}
