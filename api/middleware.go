package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/garnizeh/hostel/internal/identity"
	"github.com/garnizeh/hostel/pkg/models"
	"github.com/garnizeh/hostel/pkg/repository"
	"github.com/gorilla/mux"
)

type ctxKey string

const ctxProfile ctxKey = "profile"

// Codes returned by Authenticate. Clients sign out on auth/profile-missing.
const (
	CodeMissingToken   = "auth/missing-credential"
	CodeInvalidToken   = "auth/invalid-credential"
	CodeProfileMissing = "auth/profile-missing"
	CodeInactive       = "auth/account-inactive"
	CodeForbidden      = "auth/permission-denied"
)

// package-level logger used by middleware and helpers; can be set via SetLogger from caller
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger installs a logger for the api package. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// Hijack lets the notifications websocket upgrade through the recorder.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	if s.status == 0 {
		s.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
			slog.Int("status", rec.code()),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

// MetricsMiddleware reports every request under its route template.
func MetricsMiddleware(observe func(method, route string, status int, elapsed time.Duration)) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			route := "unmatched"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			observe(r.Method, route, rec.code(), time.Since(start))
		})
	}
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic", slog.Any("err", err), slog.String("path", r.URL.Path))
				writeErrorStatus(w, http.StatusInternalServerError, "internal", "Internal Server Error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// bearerToken returns the credential from the Authorization header, falling
// back to the token query parameter used by websocket clients.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Authenticate resolves the caller's profile and stores it in the request
// context. A verified credential whose identity or profile is gone yields
// 401 auth/profile-missing.
func Authenticate(verifier identity.Verifier, profiles repository.ProfileRepo) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeErrorStatus(w, http.StatusUnauthorized, CodeMissingToken, "Missing credential.")
				return
			}

			tok, err := verifier.VerifyIDToken(r.Context(), raw)
			if err != nil {
				if errors.Is(err, identity.ErrUserNotFound) {
					writeErrorStatus(w, http.StatusUnauthorized, CodeProfileMissing, "Account no longer exists.")
					return
				}
				if errors.Is(err, identity.ErrUserDisabled) {
					writeErrorStatus(w, http.StatusForbidden, CodeInactive, "Account is disabled.")
					return
				}
				writeErrorStatus(w, http.StatusUnauthorized, CodeInvalidToken, "Invalid or expired credential.")
				return
			}

			p, err := profiles.GetProfile(r.Context(), tok.UID)
			if err != nil {
				logger.Error("load caller profile", slog.String("uid", tok.UID), slog.Any("err", err))
				writeErrorStatus(w, http.StatusInternalServerError, "internal", "Internal Server Error")
				return
			}
			if p == nil {
				writeErrorStatus(w, http.StatusUnauthorized, CodeProfileMissing, "Account profile not found.")
				return
			}
			if !p.Active() {
				writeErrorStatus(w, http.StatusForbidden, CodeInactive, "Account is inactive.")
				return
			}

			ctx := context.WithValue(r.Context(), ctxProfile, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers whose role is not listed. It must run after
// Authenticate.
func RequireRole(roles ...models.Role) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := ProfileFromContext(r.Context())
			if p == nil || !slices.Contains(roles, p.Role) {
				writeErrorStatus(w, http.StatusForbidden, CodeForbidden, "You do not have access to this resource.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ProfileFromContext returns the authenticated caller, or nil.
func ProfileFromContext(ctx context.Context) *models.Profile {
	p, _ := ctx.Value(ctxProfile).(*models.Profile)
	return p
}
