package apperror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/garnizeh/hostel/pkg/apperror"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"unauthenticated", apperror.Unauthenticated("auth/invalid-credential", "bad token"), http.StatusForbidden},
		{"permission denied", apperror.PermissionDenied("auth/permission-denied", "no"), http.StatusForbidden},
		{"invalid argument", apperror.InvalidArgument("provision/invalid-payload", "missing email"), http.StatusBadRequest},
		{"already exists", apperror.AlreadyExists("auth/email-already-exists", "taken"), http.StatusBadRequest},
		{"not found", apperror.NotFound("leave/not-found", "gone"), http.StatusNotFound},
		{"rate limited", apperror.New(apperror.KindResourceExhausted, "rate-limited", "slow down"), http.StatusTooManyRequests},
		{"rate limited with wait", apperror.ResourceExhausted("rate-limited", "slow down", time.Minute), http.StatusTooManyRequests},
		{"internal", apperror.Internal("provision/profile-write-failed", "failed", errors.New("disk")), http.StatusInternalServerError},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped app error", fmt.Errorf("outer: %w", apperror.InvalidArgument("x", "y")), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := apperror.HTTPStatus(tt.err); got != tt.want {
				t.Fatalf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAs_PlainErrorIsInternal(t *testing.T) {
	cause := errors.New("sql: database is locked")
	ae := apperror.As(cause)
	if ae.Kind != apperror.KindInternal {
		t.Fatalf("expected internal kind, got %v", ae.Kind)
	}
	if ae.Message == cause.Error() {
		t.Fatalf("internal cause must not leak into message")
	}
	if !errors.Is(ae, cause) {
		t.Fatalf("expected cause to be unwrappable")
	}
}
