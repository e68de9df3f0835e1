// Package identity verifies credentials and manages identity records. The
// service supports a local provider backed by SQLite and Firebase
// Authentication; both satisfy Provider.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidToken       = errors.New("identity: invalid or expired token")
	ErrEmailExists        = errors.New("identity: email already exists")
	ErrUserNotFound       = errors.New("identity: user not found")
	ErrUserDisabled       = errors.New("identity: user disabled")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrWeakPassword       = errors.New("identity: password must be at least 8 characters")
)

// Token is a verified ID token.
type Token struct {
	UID       string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type UserToCreate struct {
	Email       string
	DisplayName string
}

type UserRecord struct {
	UID         string
	Email       string
	DisplayName string
	Disabled    bool
}

// Verifier checks a bearer credential. Verification fails for tokens whose
// identity record no longer exists.
type Verifier interface {
	VerifyIDToken(ctx context.Context, raw string) (*Token, error)
}

// Provider is the identity store used by provisioning.
type Provider interface {
	Verifier
	CreateUser(ctx context.Context, u UserToCreate) (*UserRecord, error)
	DeleteUser(ctx context.Context, uid string) error
	GetUser(ctx context.Context, uid string) (*UserRecord, error)
	// PasswordSetupLink returns a link that lets the owner of email choose
	// a password.
	PasswordSetupLink(ctx context.Context, email string) (string, error)
}
