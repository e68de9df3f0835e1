package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	imodels "github.com/garnizeh/hostel/internal/models"
	"github.com/garnizeh/hostel/pkg/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	purposeID            = ""
	purposePasswordSetup = "password_setup"
	minPasswordLength    = 8
)

type LocalConfig struct {
	Secret           string
	Issuer           string
	TokenDuration    time.Duration
	PasswordSetupURL string
	SetupDuration    time.Duration
}

// Local issues HS256 ID tokens for identities stored in SQLite.
type Local struct {
	repo repository.IdentityRepo
	cfg  LocalConfig
	now  func() time.Time
}

var _ Provider = (*Local)(nil)

func NewLocal(repo repository.IdentityRepo, cfg LocalConfig) *Local {
	if cfg.TokenDuration <= 0 {
		cfg.TokenDuration = time.Hour
	}
	if cfg.SetupDuration <= 0 {
		cfg.SetupDuration = 72 * time.Hour
	}
	return &Local{repo: repo, cfg: cfg, now: time.Now}
}

type claims struct {
	Email   string `json:"email,omitempty"`
	Purpose string `json:"purpose,omitempty"`
	// Credential is the fingerprint of the password hash a setup token was
	// issued against. Setting a password invalidates the token.
	Credential string `json:"cred,omitempty"`
	jwt.RegisteredClaims
}

func (l *Local) sign(uid, email, purpose string, ttl time.Duration) (string, error) {
	return l.signClaims(claims{Email: email, Purpose: purpose}, uid, ttl)
}

func (l *Local) signClaims(c claims, uid string, ttl time.Duration) (string, error) {
	now := l.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   uid,
		Issuer:    l.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(l.cfg.Secret))
}

func (l *Local) parse(raw, purpose string) (*claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(l.now),
		jwt.WithExpirationRequired(),
	}
	if l.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(l.cfg.Issuer))
	}
	var c claims
	tok, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return []byte(l.cfg.Secret), nil
	}, opts...)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Purpose != purpose || c.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &c, nil
}

// IssueIDToken signs an ID token for uid.
func (l *Local) IssueIDToken(uid, email string) (string, error) {
	return l.sign(uid, email, purposeID, l.cfg.TokenDuration)
}

func (l *Local) VerifyIDToken(ctx context.Context, raw string) (*Token, error) {
	c, err := l.parse(raw, purposeID)
	if err != nil {
		return nil, err
	}
	rec, err := l.repo.GetIdentity(ctx, c.Subject)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if rec == nil {
		return nil, ErrUserNotFound
	}
	if rec.Disabled {
		return nil, ErrUserDisabled
	}
	t := &Token{UID: c.Subject, Email: rec.Email}
	if c.IssuedAt != nil {
		t.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		t.ExpiresAt = c.ExpiresAt.Time
	}
	return t, nil
}

// CreateUser creates an identity without a password. The owner sets one
// through the password setup link.
func (l *Local) CreateUser(ctx context.Context, u UserToCreate) (*UserRecord, error) {
	rec := &imodels.Identity{UID: uuid.NewString(), Email: normalizeEmail(u.Email), DisplayName: u.DisplayName}
	if err := l.repo.CreateIdentity(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return &UserRecord{UID: rec.UID, Email: rec.Email, DisplayName: rec.DisplayName}, nil
}

// CreateUserWithPassword is used for bootstrapping and self sign-up.
func (l *Local) CreateUserWithPassword(ctx context.Context, u UserToCreate, password string) (*UserRecord, error) {
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	rec := &imodels.Identity{UID: uuid.NewString(), Email: normalizeEmail(u.Email), DisplayName: u.DisplayName, PasswordHash: string(hash)}
	if err := l.repo.CreateIdentity(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return &UserRecord{UID: rec.UID, Email: rec.Email, DisplayName: rec.DisplayName}, nil
}

func (l *Local) DeleteUser(ctx context.Context, uid string) error {
	return l.repo.DeleteIdentity(ctx, uid)
}

func (l *Local) GetUser(ctx context.Context, uid string) (*UserRecord, error) {
	rec, err := l.repo.GetIdentity(ctx, uid)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrUserNotFound
	}
	return &UserRecord{UID: rec.UID, Email: rec.Email, DisplayName: rec.DisplayName, Disabled: rec.Disabled}, nil
}

func (l *Local) PasswordSetupLink(ctx context.Context, email string) (string, error) {
	rec, err := l.repo.GetIdentityByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", ErrUserNotFound
	}
	c := claims{Email: rec.Email, Purpose: purposePasswordSetup, Credential: credentialFingerprint(rec.PasswordHash)}
	tok, err := l.signClaims(c, rec.UID, l.cfg.SetupDuration)
	if err != nil {
		return "", fmt.Errorf("sign setup token: %w", err)
	}
	u, err := url.Parse(l.cfg.PasswordSetupURL)
	if err != nil {
		return "", fmt.Errorf("password setup url: %w", err)
	}
	q := u.Query()
	q.Set("token", tok)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CompletePasswordSetup sets the password of the identity named by a setup
// token. A token is spent once the password it was issued against changes.
func (l *Local) CompletePasswordSetup(ctx context.Context, token, password string) error {
	c, err := l.parse(token, purposePasswordSetup)
	if err != nil {
		return err
	}
	if len(password) < minPasswordLength {
		return ErrWeakPassword
	}
	rec, err := l.repo.GetIdentity(ctx, c.Subject)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrUserNotFound
	}
	if !hmac.Equal([]byte(c.Credential), []byte(credentialFingerprint(rec.PasswordHash))) {
		return fmt.Errorf("%w: setup link already used", ErrInvalidToken)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	ok, err := l.repo.SetPasswordHash(ctx, rec.UID, rec.PasswordHash, string(hash))
	if err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: setup link already used", ErrInvalidToken)
	}
	return nil
}

// SignIn checks email and password and returns a fresh ID token.
func (l *Local) SignIn(ctx context.Context, email, password string) (string, *UserRecord, error) {
	rec, err := l.repo.GetIdentityByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if rec == nil || rec.PasswordHash == "" {
		return "", nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}
	if rec.Disabled {
		return "", nil, ErrUserDisabled
	}
	tok, err := l.IssueIDToken(rec.UID, rec.Email)
	if err != nil {
		return "", nil, fmt.Errorf("sign id token: %w", err)
	}
	return tok, &UserRecord{UID: rec.UID, Email: rec.Email, DisplayName: rec.DisplayName}, nil
}

func credentialFingerprint(passwordHash string) string {
	sum := sha256.Sum256([]byte("hostel-setup:" + passwordHash))
	return hex.EncodeToString(sum[:12])
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
