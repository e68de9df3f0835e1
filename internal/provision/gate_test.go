package provision_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/garnizeh/hostel/internal/identity"
	"github.com/garnizeh/hostel/internal/provision"
	"github.com/garnizeh/hostel/internal/schema"
	"github.com/garnizeh/hostel/pkg/apperror"
	"github.com/garnizeh/hostel/pkg/models"
	"github.com/garnizeh/hostel/pkg/repository/mock"
)

func init() {
	provision.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type sentMail struct{ to, name, link string }

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) SendPasswordSetup(ctx context.Context, to, name, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{to, name, link})
	return f.err
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allow, f.err
}

type fixture struct {
	m        *mock.Mocks
	idp      *identity.Local
	gate     *provision.Gate
	mailer   *fakeMailer
	outcomes []string
	tokens   map[models.Role]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{m: mock.NewMocks(), mailer: &fakeMailer{}, tokens: map[models.Role]string{}}
	f.idp = identity.NewLocal(f.m.Identities, identity.LocalConfig{
		Secret:           "testsecret",
		Issuer:           "hostel-test",
		PasswordSetupURL: "https://hostel.test/set-password",
	})
	for _, role := range []models.Role{models.RoleSuperuser, models.RoleWarden, models.RoleStudent} {
		rec, err := f.idp.CreateUserWithPassword(ctx, identity.UserToCreate{Email: string(role) + "@hostel.test"}, "password1")
		if err != nil {
			t.Fatalf("seed identity: %v", err)
		}
		f.m.Profiles.Put(models.Profile{UID: rec.UID, Email: rec.Email, Name: string(role), Role: role, Status: models.AccountActive})
		tok, err := f.idp.IssueIDToken(rec.UID, rec.Email)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		f.tokens[role] = tok
	}
	f.gate = provision.NewGate(f.idp, f.m.Profiles, nil, f.mailer).WithObserver(func(o string) {
		f.outcomes = append(f.outcomes, o)
	})
	return f
}

func (f *fixture) lastOutcome() string {
	if len(f.outcomes) == 0 {
		return ""
	}
	return f.outcomes[len(f.outcomes)-1]
}

func assertAppError(t *testing.T, err error, kind apperror.Kind, code string) *apperror.Error {
	t.Helper()
	var ae *apperror.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apperror.Error, got %T (%v)", err, err)
	}
	if ae.Kind != kind || ae.Code != code {
		t.Fatalf("got %s/%s (%s), want %s/%s", ae.Kind, ae.Code, ae.Message, kind, code)
	}
	return ae
}

func TestCanCreate(t *testing.T) {
	roles := []models.Role{models.RoleStudent, models.RoleWarden, models.RoleSuperuser, "janitor", ""}
	for _, caller := range roles {
		for _, target := range roles {
			want := (caller == models.RoleSuperuser && target == models.RoleWarden) ||
				(caller == models.RoleWarden && target == models.RoleStudent)
			if got := provision.CanCreate(caller, target); got != want {
				t.Errorf("CanCreate(%q, %q) = %v, want %v", caller, target, got, want)
			}
		}
	}
}

func TestCreateAccount_Committed(t *testing.T) {
	tests := []struct {
		name   string
		caller models.Role
		p      provision.Payload
		want   models.Profile
	}{
		{
			name:   "superuser creates warden",
			caller: models.RoleSuperuser,
			p:      provision.Payload{Email: " New.Warden@Hostel.test ", Name: "New Warden", RoleToCreate: "warden", RollNo: "ignored"},
			want:   models.Profile{Email: "new.warden@hostel.test", Name: "New Warden", Role: models.RoleWarden},
		},
		{
			name:   "warden creates student",
			caller: models.RoleWarden,
			p:      provision.Payload{Email: "s1@hostel.test", Name: "Student One", RoleToCreate: "student", RollNo: "R1", HostelNo: "H2", RoomNo: "204"},
			want:   models.Profile{Email: "s1@hostel.test", Name: "Student One", Role: models.RoleStudent, RollNo: "R1", HostelNo: "H2", RoomNo: "204"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			before := time.Now().UnixMilli()

			res, err := f.gate.CreateAccount(ctx, provision.Request{Credential: f.tokens[tt.caller], Payload: tt.p})
			if err != nil {
				t.Fatalf("CreateAccount: %v", err)
			}
			if !res.Success || res.UID == "" {
				t.Fatalf("unexpected result %+v", res)
			}

			got, _ := f.m.Profiles.GetProfile(ctx, res.UID)
			if got == nil {
				t.Fatalf("profile not written")
			}
			if got.Email != tt.want.Email || got.Name != tt.want.Name || got.Role != tt.want.Role ||
				got.RollNo != tt.want.RollNo || got.HostelNo != tt.want.HostelNo || got.RoomNo != tt.want.RoomNo {
				t.Fatalf("profile = %+v, want %+v", got, tt.want)
			}
			if got.Status != models.AccountActive || got.CreatedAt < before {
				t.Fatalf("unexpected status/createdAt %+v", got)
			}
			if rec, _ := f.m.Identities.GetIdentity(ctx, res.UID); rec == nil {
				t.Fatalf("identity not created")
			}
			if len(f.mailer.sent) != 1 || f.mailer.sent[0].to != tt.want.Email ||
				!strings.HasPrefix(f.mailer.sent[0].link, "https://hostel.test/set-password?token=") {
				t.Fatalf("unexpected mail %+v", f.mailer.sent)
			}
			if f.lastOutcome() != provision.OutcomeCommitted {
				t.Fatalf("outcome = %q", f.lastOutcome())
			}
		})
	}
}

func TestCreateAccount_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		credential  func(f *fixture) string
		payload     provision.Payload
		kind        apperror.Kind
		code        string
		outcome     string
		wantMessage string
	}{
		{
			name:       "missing credential",
			credential: func(*fixture) string { return "  " },
			payload:    provision.Payload{Email: "x@hostel.test", Name: "X", RoleToCreate: "warden"},
			kind:       apperror.KindUnauthenticated,
			code:       provision.CodeMissingCredential,
			outcome:    provision.OutcomeUnauthenticated,
		},
		{
			name:       "invalid credential",
			credential: func(*fixture) string { return "garbage" },
			payload:    provision.Payload{Email: "x@hostel.test", Name: "X", RoleToCreate: "warden"},
			kind:       apperror.KindUnauthenticated,
			code:       provision.CodeInvalidCredential,
			outcome:    provision.OutcomeUnauthenticated,
		},
		{
			name: "caller without profile",
			credential: func(f *fixture) string {
				rec, _ := f.idp.CreateUser(context.Background(), identity.UserToCreate{Email: "ghost@hostel.test"})
				tok, _ := f.idp.IssueIDToken(rec.UID, rec.Email)
				return tok
			},
			payload: provision.Payload{Email: "x@hostel.test", Name: "X", RoleToCreate: "warden"},
			kind:    apperror.KindPermissionDenied,
			code:    provision.CodeProfileNotFound,
			outcome: provision.OutcomeDenied,
		},
		{
			name: "inactive caller",
			credential: func(f *fixture) string {
				p, _ := f.m.Profiles.GetProfile(context.Background(), uidOf(t, f, models.RoleSuperuser))
				p.Status = models.AccountInactive
				f.m.Profiles.Put(*p)
				return f.tokens[models.RoleSuperuser]
			},
			payload: provision.Payload{Email: "x@hostel.test", Name: "X", RoleToCreate: "warden"},
			kind:    apperror.KindPermissionDenied,
			code:    provision.CodeAccountInactive,
			outcome: provision.OutcomeDenied,
		},
		{
			name:        "superuser creates student",
			credential:  func(f *fixture) string { return f.tokens[models.RoleSuperuser] },
			payload:     provision.Payload{Email: "x@hostel.test", Name: "X", RoleToCreate: "student"},
			kind:        apperror.KindPermissionDenied,
			code:        provision.CodePermissionDenied,
			outcome:     provision.OutcomeDenied,
			wantMessage: "Permission denied. A superuser cannot create a student.",
		},
		{
			name:        "superuser creates superuser",
			credential:  func(f *fixture) string { return f.tokens[models.RoleSuperuser] },
			payload:     provision.Payload{Email: "x@hostel.test", Name: "X", RoleToCreate: "superuser"},
			kind:        apperror.KindPermissionDenied,
			code:        provision.CodePermissionDenied,
			outcome:     provision.OutcomeDenied,
			wantMessage: "Permission denied. A superuser cannot create a superuser.",
		},
		{
			name:        "warden creates warden",
			credential:  func(f *fixture) string { return f.tokens[models.RoleWarden] },
			payload:     provision.Payload{Email: "x@hostel.test", Name: "X", RoleToCreate: "warden"},
			kind:        apperror.KindPermissionDenied,
			code:        provision.CodePermissionDenied,
			outcome:     provision.OutcomeDenied,
			wantMessage: "Permission denied. A warden cannot create a warden.",
		},
		{
			name:        "student creates student",
			credential:  func(f *fixture) string { return f.tokens[models.RoleStudent] },
			payload:     provision.Payload{Email: "x@hostel.test", Name: "X", RoleToCreate: "student"},
			kind:        apperror.KindPermissionDenied,
			code:        provision.CodePermissionDenied,
			outcome:     provision.OutcomeDenied,
			wantMessage: "Permission denied. A student cannot create a student.",
		},
		{
			name:       "invalid email",
			credential: func(f *fixture) string { return f.tokens[models.RoleWarden] },
			payload:    provision.Payload{Email: "not-an-email", Name: "X", RoleToCreate: "student"},
			kind:       apperror.KindInvalidArgument,
			code:       provision.CodeInvalidPayload,
			outcome:    provision.OutcomeInvalid,
		},
		{
			name:        "missing name",
			credential:  func(f *fixture) string { return f.tokens[models.RoleWarden] },
			payload:     provision.Payload{Email: "x@hostel.test", Name: "   ", RoleToCreate: "student"},
			kind:        apperror.KindInvalidArgument,
			code:        provision.CodeInvalidPayload,
			outcome:     provision.OutcomeInvalid,
			wantMessage: `Field "name" is required.`,
		},
		{
			name:       "duplicate email",
			credential: func(f *fixture) string { return f.tokens[models.RoleWarden] },
			payload:    provision.Payload{Email: "STUDENT@hostel.test", Name: "Dup", RoleToCreate: "student"},
			kind:       apperror.KindAlreadyExists,
			code:       provision.CodeEmailExists,
			outcome:    provision.OutcomeDuplicate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			profilesBefore, identitiesBefore := f.m.Profiles.Len(), f.m.Identities.Len()

			res, err := f.gate.CreateAccount(context.Background(), provision.Request{Credential: tt.credential(f), Payload: tt.payload})
			if res != nil {
				t.Fatalf("expected nil result, got %+v", res)
			}
			ae := assertAppError(t, err, tt.kind, tt.code)
			if tt.wantMessage != "" && ae.Message != tt.wantMessage {
				t.Fatalf("message = %q, want %q", ae.Message, tt.wantMessage)
			}
			if f.lastOutcome() != tt.outcome {
				t.Fatalf("outcome = %q, want %q", f.lastOutcome(), tt.outcome)
			}
			if f.m.Profiles.Len() != profilesBefore {
				t.Fatalf("profiles changed on rejection")
			}
			// the "caller without profile" case adds its own identity before the call
			if tt.code != provision.CodeProfileNotFound && f.m.Identities.Len() != identitiesBefore {
				t.Fatalf("identities changed on rejection")
			}
			if len(f.mailer.sent) != 0 {
				t.Fatalf("mail sent on rejection")
			}
		})
	}
}

func uidOf(t *testing.T, f *fixture, role models.Role) string {
	t.Helper()
	rec, err := f.m.Identities.GetIdentityByEmail(context.Background(), string(role)+"@hostel.test")
	if err != nil || rec == nil {
		t.Fatalf("no identity for %s", role)
	}
	return rec.UID
}

func TestCreateAccount_AuthorizationBeforeValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.gate.CreateAccount(context.Background(), provision.Request{
		Credential: f.tokens[models.RoleStudent],
		Payload:    provision.Payload{Email: "bad", RoleToCreate: "student"},
	})
	assertAppError(t, err, apperror.KindPermissionDenied, provision.CodePermissionDenied)
}

func TestCreateAccount_ProfileWriteFailureCompensates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	identitiesBefore := f.m.Identities.Len()
	f.m.Profiles.CreateErr = errors.New("disk full")

	_, err := f.gate.CreateAccount(ctx, provision.Request{
		Credential: f.tokens[models.RoleWarden],
		Payload:    provision.Payload{Email: "s2@hostel.test", Name: "S2", RoleToCreate: "student"},
	})
	assertAppError(t, err, apperror.KindInternal, provision.CodeProfileWriteFailed)
	if f.m.Identities.Len() != identitiesBefore {
		t.Fatalf("identity should have been deleted")
	}
	if rec, _ := f.m.Identities.GetIdentityByEmail(ctx, "s2@hostel.test"); rec != nil {
		t.Fatalf("identity for s2 still exists")
	}
	if f.lastOutcome() != provision.OutcomeRolledBack {
		t.Fatalf("outcome = %q", f.lastOutcome())
	}
	if len(f.mailer.sent) != 0 {
		t.Fatalf("mail sent for rolled back account")
	}

	// the email is free again once the failure clears
	f.m.Profiles.CreateErr = nil
	res, err := f.gate.CreateAccount(ctx, provision.Request{
		Credential: f.tokens[models.RoleWarden],
		Payload:    provision.Payload{Email: "s2@hostel.test", Name: "S2", RoleToCreate: "student"},
	})
	if err != nil || !res.Success {
		t.Fatalf("retry failed: %v", err)
	}
}

func TestCreateAccount_CompensationFailureStillReportsError(t *testing.T) {
	f := newFixture(t)
	f.m.Profiles.CreateErr = errors.New("disk full")
	f.m.Identities.DeleteErr = errors.New("delete failed")

	_, err := f.gate.CreateAccount(context.Background(), provision.Request{
		Credential: f.tokens[models.RoleWarden],
		Payload:    provision.Payload{Email: "orphan@hostel.test", Name: "O", RoleToCreate: "student"},
	})
	assertAppError(t, err, apperror.KindInternal, provision.CodeProfileWriteFailed)
}

func TestCreateAccount_IdentityFailure(t *testing.T) {
	f := newFixture(t)
	f.m.Identities.CreateErr = errors.New("provider down")

	_, err := f.gate.CreateAccount(context.Background(), provision.Request{
		Credential: f.tokens[models.RoleSuperuser],
		Payload:    provision.Payload{Email: "w2@hostel.test", Name: "W2", RoleToCreate: "warden"},
	})
	assertAppError(t, err, apperror.KindInternal, provision.CodeIdentityFailed)
	if f.m.Profiles.Len() != 3 {
		t.Fatalf("no profile should be written")
	}
}

func TestCreateAccount_MailFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("smtp down")

	res, err := f.gate.CreateAccount(context.Background(), provision.Request{
		Credential: f.tokens[models.RoleSuperuser],
		Payload:    provision.Payload{Email: "w3@hostel.test", Name: "W3", RoleToCreate: "warden"},
	})
	if err != nil || !res.Success {
		t.Fatalf("expected success despite mail failure: %v", err)
	}
	if p, _ := f.m.Profiles.GetProfile(context.Background(), res.UID); p == nil {
		t.Fatalf("profile missing")
	}
}

func TestCreateAccount_RateLimit(t *testing.T) {
	f := newFixture(t)
	lim := &fakeLimiter{allow: false}
	g := provision.NewGate(f.idp, f.m.Profiles, lim, nil)

	_, err := g.CreateAccount(context.Background(), provision.Request{
		Credential: f.tokens[models.RoleWarden],
		Payload:    provision.Payload{Email: "s@hostel.test", Name: "S", RoleToCreate: "student"},
	})
	assertAppError(t, err, apperror.KindResourceExhausted, provision.CodeRateLimited)
	if len(lim.keys) != 1 || lim.keys[0] != uidOf(t, f, models.RoleWarden) {
		t.Fatalf("limiter keyed by %v", lim.keys)
	}

	// unauthorized callers never consume the limit
	lim.keys = nil
	_, err = g.CreateAccount(context.Background(), provision.Request{
		Credential: f.tokens[models.RoleStudent],
		Payload:    provision.Payload{Email: "s@hostel.test", Name: "S", RoleToCreate: "student"},
	})
	assertAppError(t, err, apperror.KindPermissionDenied, provision.CodePermissionDenied)
	if len(lim.keys) != 0 {
		t.Fatalf("limiter consulted for denied caller")
	}

	// a limiter error fails open
	lim.err = errors.New("redis down")
	res, err := g.CreateAccount(context.Background(), provision.Request{
		Credential: f.tokens[models.RoleWarden],
		Payload:    provision.Payload{Email: "s9@hostel.test", Name: "S9", RoleToCreate: "student"},
	})
	if err != nil || !res.Success {
		t.Fatalf("expected success when limiter errors: %v", err)
	}
}

type waitingLimiter struct {
	fakeLimiter
	wait time.Duration
}

func (w *waitingLimiter) Remaining(ctx context.Context, key string) (time.Duration, error) {
	return w.wait, nil
}

func TestCreateAccount_RateLimitReportsWait(t *testing.T) {
	f := newFixture(t)
	lim := &waitingLimiter{wait: 42 * time.Second}
	g := provision.NewGate(f.idp, f.m.Profiles, lim, nil)

	_, err := g.CreateAccount(context.Background(), provision.Request{
		Credential: f.tokens[models.RoleWarden],
		Payload:    provision.Payload{Email: "s@hostel.test", Name: "S", RoleToCreate: "student"},
	})
	assertAppError(t, err, apperror.KindResourceExhausted, provision.CodeRateLimited)
	if got := apperror.As(err).RetryAfter; got != 42*time.Second {
		t.Fatalf("RetryAfter = %v, want 42s", got)
	}
}

func TestCreateAccount_InvalidRequestsKeepRateLimitSlot(t *testing.T) {
	f := newFixture(t)
	lim := &fakeLimiter{allow: true}
	schemas := &fakeSchemas{}
	g := provision.NewGate(f.idp, f.m.Profiles, lim, nil).WithSchema(schemas)

	tests := []struct {
		name     string
		payload  provision.Payload
		problems []schema.Problem
	}{
		{name: "field validation", payload: provision.Payload{Email: "not-an-email", Name: "S", RoleToCreate: "student"}},
		{
			name:     "schema validation",
			payload:  provision.Payload{Email: "s@hostel.test", Name: "S", RoleToCreate: "student"},
			problems: []schema.Problem{{Path: "/data/email", Message: "required"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lim.keys = nil
			schemas.problems = tt.problems
			_, err := g.CreateAccount(context.Background(), provision.Request{
				Credential: f.tokens[models.RoleWarden],
				Payload:    tt.payload,
				Raw:        []byte(`{}`),
			})
			assertAppError(t, err, apperror.KindInvalidArgument, provision.CodeInvalidPayload)
			if len(lim.keys) != 0 {
				t.Fatalf("invalid request consumed the rate limit: %v", lim.keys)
			}
		})
	}

	// the corrected request goes through
	schemas.problems = nil
	res, err := g.CreateAccount(context.Background(), provision.Request{
		Credential: f.tokens[models.RoleWarden],
		Payload:    provision.Payload{Email: "s@hostel.test", Name: "S", RoleToCreate: "student"},
		Raw:        []byte(`{}`),
	})
	if err != nil || !res.Success {
		t.Fatalf("expected corrected request to succeed: %v", err)
	}
	if len(lim.keys) != 1 {
		t.Fatalf("limiter consulted %d times, want 1", len(lim.keys))
	}
}

type fakeSchemas struct {
	problems []schema.Problem
	err      error
	calls    int
}

func (f *fakeSchemas) Validate(ctx context.Context, name, version string, raw []byte) ([]schema.Problem, error) {
	f.calls++
	return f.problems, f.err
}

func TestCreateAccount_SchemaValidation(t *testing.T) {
	f := newFixture(t)
	fs := &fakeSchemas{problems: []schema.Problem{{Path: "/data/email", Message: "type should be string"}}}
	g := provision.NewGate(f.idp, f.m.Profiles, nil, nil).WithSchema(fs)
	raw := []byte(`{"data":{"email":1}}`)

	// denied callers are rejected before the schema is consulted
	_, err := g.CreateAccount(context.Background(), provision.Request{Credential: f.tokens[models.RoleStudent], Payload: provision.Payload{RoleToCreate: "student"}, Raw: raw})
	assertAppError(t, err, apperror.KindPermissionDenied, provision.CodePermissionDenied)
	if fs.calls != 0 {
		t.Fatalf("schema consulted before authorization")
	}

	_, err = g.CreateAccount(context.Background(), provision.Request{Credential: f.tokens[models.RoleWarden], Payload: provision.Payload{RoleToCreate: "student"}, Raw: raw})
	ae := assertAppError(t, err, apperror.KindInvalidArgument, provision.CodeInvalidPayload)
	if !strings.Contains(ae.Message, "/data/email") {
		t.Fatalf("message should name the path: %q", ae.Message)
	}

	fs.problems, fs.err = nil, errors.New("schema missing")
	_, err = g.CreateAccount(context.Background(), provision.Request{Credential: f.tokens[models.RoleWarden], Payload: provision.Payload{RoleToCreate: "student"}, Raw: raw})
	assertAppError(t, err, apperror.KindInternal, provision.CodeSchemaUnavailable)
}
