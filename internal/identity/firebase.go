package identity

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
)

// FirebaseAuth is the subset of *auth.Client used by Firebase.
type FirebaseAuth interface {
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*auth.Token, error)
	CreateUser(ctx context.Context, user *auth.UserToCreate) (*auth.UserRecord, error)
	DeleteUser(ctx context.Context, uid string) error
	GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
	PasswordResetLink(ctx context.Context, email string) (string, error)
}

// Firebase delegates identity management to Firebase Authentication.
type Firebase struct {
	client FirebaseAuth
}

var _ Provider = (*Firebase)(nil)

func NewFirebase(client FirebaseAuth) *Firebase {
	return &Firebase{client: client}
}

// NewFirebaseFromApp creates a provider from an initialized Firebase app.
func NewFirebaseFromApp(ctx context.Context, app *firebase.App) (*Firebase, error) {
	c, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return NewFirebase(c), nil
}

// VerifyIDToken also checks revocation, which fetches the user record; a
// deleted user therefore fails verification.
func (f *Firebase) VerifyIDToken(ctx context.Context, raw string) (*Token, error) {
	tok, err := f.client.VerifyIDTokenAndCheckRevoked(ctx, raw)
	if err != nil {
		if auth.IsUserNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	t := &Token{
		UID:       tok.UID,
		IssuedAt:  time.Unix(tok.IssuedAt, 0),
		ExpiresAt: time.Unix(tok.Expires, 0),
	}
	if email, ok := tok.Claims["email"].(string); ok {
		t.Email = email
	}
	return t, nil
}

func (f *Firebase) CreateUser(ctx context.Context, u UserToCreate) (*UserRecord, error) {
	params := (&auth.UserToCreate{}).Email(u.Email).DisplayName(u.DisplayName).EmailVerified(false)
	rec, err := f.client.CreateUser(ctx, params)
	if err != nil {
		if auth.IsEmailAlreadyExists(err) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("firebase create user: %w", err)
	}
	return toRecord(rec), nil
}

func (f *Firebase) DeleteUser(ctx context.Context, uid string) error {
	if err := f.client.DeleteUser(ctx, uid); err != nil {
		if auth.IsUserNotFound(err) {
			return nil
		}
		return fmt.Errorf("firebase delete user: %w", err)
	}
	return nil
}

func (f *Firebase) GetUser(ctx context.Context, uid string) (*UserRecord, error) {
	rec, err := f.client.GetUser(ctx, uid)
	if err != nil {
		if auth.IsUserNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("firebase get user: %w", err)
	}
	return toRecord(rec), nil
}

func (f *Firebase) PasswordSetupLink(ctx context.Context, email string) (string, error) {
	link, err := f.client.PasswordResetLink(ctx, email)
	if err != nil {
		if auth.IsUserNotFound(err) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("firebase password reset link: %w", err)
	}
	return link, nil
}

func toRecord(rec *auth.UserRecord) *UserRecord {
	if rec == nil || rec.UserInfo == nil {
		return &UserRecord{}
	}
	return &UserRecord{UID: rec.UID, Email: rec.Email, DisplayName: rec.DisplayName, Disabled: rec.Disabled}
}
