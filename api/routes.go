package api

import (
	"context"
	"net/http"
	"time"

	"github.com/garnizeh/hostel/internal/config"
	"github.com/garnizeh/hostel/internal/identity"
	"github.com/garnizeh/hostel/internal/metrics"
	"github.com/garnizeh/hostel/pkg/models"
	"github.com/garnizeh/hostel/pkg/repository"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Services are the collaborators the HTTP surface is built from. Passwords,
// Subscriber and Metrics are optional.
type Services struct {
	DB         Pinger
	Verifier   identity.Verifier
	Passwords  PasswordAuth
	Profiles   repository.ProfileRepo
	Devices    repository.DeviceRepo
	Leaves     repository.LeaveRepo
	Complaints repository.ComplaintRepo
	Gate       AccountCreator
	Subscriber Subscriber
	Metrics    *metrics.Metrics
}

// TimeoutMiddleware bounds the request context. Websocket upgrades are
// long-lived and are left alone.
func TimeoutMiddleware(d time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d <= 0 || websocket.IsWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func SetupRoutes(cfg *config.Config, version, buildTime string, s Services) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	if s.Metrics != nil {
		r.Use(MetricsMiddleware(s.Metrics.ObserveHTTP))
	}
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(TimeoutMiddleware(cfg.APITimeout))

	// Create handlers
	systemHandler := NewSystemHandler(s.DB)
	accountsHandler := NewAccountsHandler(s.Gate)
	profileHandler := NewProfileHandler(s.Profiles, s.Devices)
	usersHandler := NewUsersHandler(s.Profiles)
	leavesHandler := NewLeavesHandler(s.Leaves)
	complaintsHandler := NewComplaintsHandler(s.Complaints)
	notificationsHandler := NewNotificationsHandler(s.Subscriber)

	// Preflight for every path; CORSMiddleware answers it.
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods(http.MethodGet)
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods(http.MethodGet)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)
	}
	if s.Passwords != nil {
		authHandler := NewAuthHandler(s.Passwords, s.Profiles)
		r.HandleFunc("/v1/auth/signin", authHandler.Signin).Methods(http.MethodPost)
		r.HandleFunc("/v1/auth/password", authHandler.CompletePasswordSetup).Methods(http.MethodPost)
	}

	// The provisioning gate authenticates callers itself.
	r.HandleFunc("/createNewUser", accountsHandler.CreateAccount).Methods(http.MethodPost)
	r.HandleFunc("/v1/accounts", accountsHandler.CreateAccount).Methods(http.MethodPost)

	// API v1 Protected routes
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(Authenticate(s.Verifier, s.Profiles))

	moderator := RequireRole(models.RoleWarden, models.RoleSuperuser)
	student := RequireRole(models.RoleStudent)

	apiV1.HandleFunc("/profile", profileHandler.GetProfile).Methods(http.MethodGet)
	apiV1.HandleFunc("/profile", profileHandler.UpdateProfile).Methods(http.MethodPatch)
	apiV1.HandleFunc("/devices", profileHandler.RegisterDevice).Methods(http.MethodPost)

	apiV1.Handle("/users", moderator(http.HandlerFunc(usersHandler.ListUsers))).Methods(http.MethodGet)
	apiV1.Handle("/users/{uid}", moderator(http.HandlerFunc(usersHandler.UpdateUser))).Methods(http.MethodPatch)

	apiV1.Handle("/leaves", student(http.HandlerFunc(leavesHandler.CreateLeave))).Methods(http.MethodPost)
	apiV1.HandleFunc("/leaves", leavesHandler.ListLeaves).Methods(http.MethodGet)
	apiV1.Handle("/leaves/{id}", moderator(http.HandlerFunc(leavesHandler.ModerateLeave))).Methods(http.MethodPatch)

	apiV1.Handle("/complaints", student(http.HandlerFunc(complaintsHandler.CreateComplaint))).Methods(http.MethodPost)
	apiV1.HandleFunc("/complaints", complaintsHandler.ListComplaints).Methods(http.MethodGet)
	apiV1.Handle("/complaints/{id}", moderator(http.HandlerFunc(complaintsHandler.ModerateComplaint))).Methods(http.MethodPatch)

	apiV1.HandleFunc("/notifications/ws", notificationsHandler.Stream).Methods(http.MethodGet)

	return r
}
