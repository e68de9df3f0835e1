// Package provision creates accounts on behalf of privileged callers. A
// superuser may create wardens and a warden may create students; every
// account consists of an identity record and a profile, and a request
// either leaves both behind or neither.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/garnizeh/hostel/internal/identity"
	"github.com/garnizeh/hostel/internal/mail"
	"github.com/garnizeh/hostel/internal/ratelimit"
	"github.com/garnizeh/hostel/internal/schema"
	"github.com/garnizeh/hostel/pkg/apperror"
	"github.com/garnizeh/hostel/pkg/models"
	"github.com/garnizeh/hostel/pkg/repository"
	"github.com/go-playground/validator/v10"
)

// package-level logger; can be set via SetLogger from caller
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger installs a logger for the provision package. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// State is the position of a request in the provisioning state machine.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
	StateAuthorized      State = "authorized"
	StateProvisioning    State = "provisioning"
	StateCommitted       State = "committed"
	StateRolledBack      State = "rolled_back"
)

// Outcomes reported to the observer.
const (
	OutcomeCommitted       = "committed"
	OutcomeRolledBack      = "rolled_back"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeDenied          = "denied"
	OutcomeRateLimited     = "rate_limited"
	OutcomeInvalid         = "invalid"
	OutcomeDuplicate       = "duplicate"
	OutcomeError           = "error"
)

// Error codes surfaced to clients.
const (
	CodeMissingCredential  = "auth/missing-credential"
	CodeInvalidCredential  = "auth/invalid-credential"
	CodeProfileNotFound    = "auth/profile-not-found"
	CodeAccountInactive    = "auth/account-inactive"
	CodePermissionDenied   = "auth/permission-denied"
	CodeEmailExists        = "auth/email-already-exists"
	CodeRateLimited        = "provision/rate-limited"
	CodeInvalidPayload     = "provision/invalid-payload"
	CodeIdentityFailed     = "provision/identity-create-failed"
	CodeProfileWriteFailed = "provision/profile-write-failed"
	CodeCallerLookupFailed = "provision/caller-lookup-failed"
	CodeSchemaUnavailable  = "provision/schema-unavailable"
)

// Payload describes the account to create. Student fields are ignored for
// other roles.
type Payload struct {
	Email        string `json:"email" validate:"required,email,max=254"`
	Name         string `json:"name" validate:"required,max=200"`
	RoleToCreate string `json:"roleToCreate" validate:"required"`
	RollNo       string `json:"rollNo,omitempty" validate:"max=50"`
	HostelNo     string `json:"hostelNo,omitempty" validate:"max=50"`
	RoomNo       string `json:"roomNo,omitempty" validate:"max=50"`
}

type Request struct {
	// Credential is the caller's ID token.
	Credential string
	Payload    Payload
	// Raw is the request envelope as received, checked against the
	// create_account schema when the gate has one.
	Raw []byte
}

// PayloadValidator checks a raw envelope against a stored JSON schema.
type PayloadValidator interface {
	Validate(ctx context.Context, name, version string, raw []byte) ([]schema.Problem, error)
}

type Result struct {
	Success bool   `json:"success"`
	UID     string `json:"uid"`
}

// CanCreate reports whether caller may create an account with role target.
func CanCreate(caller, target models.Role) bool {
	switch caller {
	case models.RoleSuperuser:
		return target == models.RoleWarden
	case models.RoleWarden:
		return target == models.RoleStudent
	default:
		return false
	}
}

func deniedMessage(caller models.Role, target string) string {
	return fmt.Sprintf("Permission denied. A %s cannot create a %s.", caller, target)
}

type Gate struct {
	identities identity.Provider
	profiles   repository.ProfileRepo
	limiter    ratelimit.Limiter
	mailer     mail.Sender
	validate   *validator.Validate
	schemas    PayloadValidator
	observe    func(outcome string)
	now        func() time.Time
}

// NewGate creates a gate. A nil limiter allows every request and a nil
// mailer skips the password setup mail.
func NewGate(identities identity.Provider, profiles repository.ProfileRepo, limiter ratelimit.Limiter, mailer mail.Sender) *Gate {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &Gate{
		identities: identities,
		profiles:   profiles,
		limiter:    limiter,
		mailer:     mailer,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		now:        time.Now,
	}
}

// WithObserver registers fn to be called with the outcome of every request.
func (g *Gate) WithObserver(fn func(outcome string)) *Gate {
	g.observe = fn
	return g
}

// WithSchema enables envelope validation against the create_account schema.
func (g *Gate) WithSchema(v PayloadValidator) *Gate {
	g.schemas = v
	return g
}

func (g *Gate) report(outcome string) {
	if g.observe != nil {
		g.observe(outcome)
	}
}

// CreateAccount runs one provisioning request. Errors are *apperror.Error.
func (g *Gate) CreateAccount(ctx context.Context, req Request) (*Result, error) {
	log := logger.With(slog.String("role_to_create", req.Payload.RoleToCreate))
	state := StateUnauthenticated
	transition := func(next State) {
		log.Debug("provision: state change", slog.String("from", string(state)), slog.String("to", string(next)))
		state = next
	}

	if strings.TrimSpace(req.Credential) == "" {
		g.report(OutcomeUnauthenticated)
		return nil, apperror.Unauthenticated(CodeMissingCredential, "The request is missing a credential.")
	}
	tok, err := g.identities.VerifyIDToken(ctx, req.Credential)
	if err != nil {
		log.Info("provision: credential rejected", slog.Any("err", err))
		g.report(OutcomeUnauthenticated)
		return nil, apperror.Wrap(err, apperror.KindUnauthenticated, CodeInvalidCredential, "The credential is invalid or expired.")
	}
	transition(StateAuthenticated)
	log = log.With(slog.String("caller_uid", tok.UID))

	caller, err := g.profiles.GetProfile(ctx, tok.UID)
	if err != nil {
		log.Error("provision: caller lookup failed", slog.Any("err", err))
		g.report(OutcomeError)
		return nil, apperror.Internal(CodeCallerLookupFailed, "Could not load the caller profile.", err)
	}
	if caller == nil {
		g.report(OutcomeDenied)
		return nil, apperror.PermissionDenied(CodeProfileNotFound, "Caller profile not found.")
	}
	if !caller.Active() {
		g.report(OutcomeDenied)
		return nil, apperror.PermissionDenied(CodeAccountInactive, "Caller account is inactive.")
	}

	target := models.Role(req.Payload.RoleToCreate)
	if !CanCreate(caller.Role, target) {
		log.Info("provision: denied", slog.String("caller_role", string(caller.Role)))
		g.report(OutcomeDenied)
		return nil, apperror.PermissionDenied(CodePermissionDenied, deniedMessage(caller.Role, req.Payload.RoleToCreate))
	}
	transition(StateAuthorized)

	if g.schemas != nil && req.Raw != nil {
		problems, err := g.schemas.Validate(ctx, schema.CreateAccount, schema.CreateAccountVersion, req.Raw)
		if err != nil {
			log.Error("provision: schema validation unavailable", slog.Any("err", err))
			g.report(OutcomeError)
			return nil, apperror.Internal(CodeSchemaUnavailable, "Could not validate the request.", err)
		}
		if len(problems) > 0 {
			g.report(OutcomeInvalid)
			return nil, apperror.InvalidArgument(CodeInvalidPayload, fmt.Sprintf("Invalid request payload at %s: %s", problems[0].Path, problems[0].Message))
		}
	}

	p := req.Payload
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Name = strings.TrimSpace(p.Name)
	if err := g.validate.Struct(p); err != nil {
		g.report(OutcomeInvalid)
		return nil, apperror.Wrap(err, apperror.KindInvalidArgument, CodeInvalidPayload, validationMessage(err))
	}

	// Only well-formed requests spend the caller's slot.
	allowed, err := g.limiter.Allow(ctx, caller.UID)
	if err != nil {
		log.Warn("provision: rate limiter unavailable, allowing", slog.Any("err", err))
	} else if !allowed {
		g.report(OutcomeRateLimited)
		return nil, apperror.ResourceExhausted(CodeRateLimited, "Too many accounts created recently. Try again shortly.", g.retryAfter(ctx, caller.UID))
	}

	transition(StateProvisioning)
	rec, err := g.identities.CreateUser(ctx, identity.UserToCreate{Email: p.Email, DisplayName: p.Name})
	if err != nil {
		if errors.Is(err, identity.ErrEmailExists) {
			g.report(OutcomeDuplicate)
			return nil, apperror.AlreadyExists(CodeEmailExists, "The email address is already in use by another account.")
		}
		log.Error("provision: identity create failed", slog.Any("err", err))
		transition(StateRolledBack)
		g.report(OutcomeRolledBack)
		return nil, apperror.Internal(CodeIdentityFailed, "Could not create the account.", err)
	}
	log = log.With(slog.String("uid", rec.UID))

	profile := &models.Profile{
		UID:       rec.UID,
		Name:      p.Name,
		Email:     p.Email,
		Role:      target,
		Status:    models.AccountActive,
		CreatedAt: g.now().UTC().UnixMilli(),
	}
	if target == models.RoleStudent {
		profile.RollNo, profile.HostelNo, profile.RoomNo = p.RollNo, p.HostelNo, p.RoomNo
	}
	if err := g.profiles.CreateProfile(ctx, profile); err != nil {
		log.Error("provision: profile write failed, deleting identity", slog.Any("err", err))
		if derr := g.identities.DeleteUser(context.WithoutCancel(ctx), rec.UID); derr != nil {
			log.Error("provision: orphaned identity", slog.String("email", p.Email), slog.Any("err", derr))
		}
		transition(StateRolledBack)
		g.report(OutcomeRolledBack)
		return nil, apperror.Internal(CodeProfileWriteFailed, "Could not create the account.", err)
	}
	transition(StateCommitted)
	log.Info("provision: account created")
	g.report(OutcomeCommitted)

	g.sendSetupLink(ctx, log, p.Email, p.Name)
	return &Result{Success: true, UID: rec.UID}, nil
}

// retryAfter asks the limiter how long uid must wait, when it can tell.
func (g *Gate) retryAfter(ctx context.Context, uid string) time.Duration {
	r, ok := g.limiter.(ratelimit.Waiter)
	if !ok {
		return 0
	}
	d, err := r.Remaining(ctx, uid)
	if err != nil {
		logger.Debug("provision: rate limit ttl unavailable", slog.Any("err", err))
		return 0
	}
	return d
}

func (g *Gate) sendSetupLink(ctx context.Context, log *slog.Logger, email, name string) {
	if g.mailer == nil {
		return
	}
	link, err := g.identities.PasswordSetupLink(ctx, email)
	if err != nil {
		log.Warn("provision: password setup link failed", slog.Any("err", err))
		return
	}
	if err := g.mailer.SendPasswordSetup(ctx, email, name, link); err != nil {
		log.Warn("provision: password setup mail failed", slog.Any("err", err))
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request payload."
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Field %q is required.", field)
	case "email":
		return fmt.Sprintf("Field %q must be a valid email address.", field)
	case "max":
		return fmt.Sprintf("Field %q must be at most %s characters.", field, fe.Param())
	default:
		return fmt.Sprintf("Field %q is invalid.", field)
	}
}
