package repository

import (
	"context"
	"errors"

	imodels "github.com/garnizeh/hostel/internal/models"
	"github.com/garnizeh/hostel/pkg/models"
)

// Repository interfaces for domain entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.
// Lookups return (nil, nil) when the record does not exist.

type ProfileRepo interface {
	CreateProfile(ctx context.Context, p *models.Profile) error
	GetProfile(ctx context.Context, uid string) (*models.Profile, error)
	// UpdateProfile loads the profile and applies fn to it in one
	// transaction, so fn always edits the stored state. An error from fn
	// aborts the write and is returned unchanged. A missing profile yields
	// (nil, nil) without calling fn.
	UpdateProfile(ctx context.Context, uid string, fn func(p *models.Profile) error) (*models.Profile, error)
	// UpdateProfileName changes only the display name.
	UpdateProfileName(ctx context.Context, uid, name string) error
	ListProfiles(ctx context.Context, f models.ProfileFilter) ([]models.Profile, error)
}

type DeviceRepo interface {
	AddDeviceToken(ctx context.Context, uid, token string) error
	ListDeviceTokens(ctx context.Context, uid string) ([]string, error)
}

// LeaveRepo moderation writes record a change event in the same transaction.
type LeaveRepo interface {
	CreateLeave(ctx context.Context, l *models.Leave) error
	GetLeave(ctx context.Context, id string) (*models.Leave, error)
	ListLeaves(ctx context.Context, studentID string) ([]models.Leave, error)
	ModerateLeave(ctx context.Context, id string, m models.Moderation) (*models.Leave, error)
}

type ComplaintRepo interface {
	CreateComplaint(ctx context.Context, c *models.Complaint) error
	GetComplaint(ctx context.Context, id string) (*models.Complaint, error)
	ListComplaints(ctx context.Context, studentID string) ([]models.Complaint, error)
	ModerateComplaint(ctx context.Context, id string, m models.Moderation) (*models.Complaint, error)
}

// ErrDuplicateEmail is returned by CreateIdentity when the email is taken.
var ErrDuplicateEmail = errors.New("email already registered")

type IdentityRepo interface {
	CreateIdentity(ctx context.Context, i *imodels.Identity) error
	GetIdentity(ctx context.Context, uid string) (*imodels.Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*imodels.Identity, error)
	// SetPasswordHash replaces the password hash only while it still equals
	// current ("" for none) and reports whether it did.
	SetPasswordHash(ctx context.Context, uid, current, hash string) (bool, error)
	DeleteIdentity(ctx context.Context, uid string) error
}

type SchemaRepo interface {
	ListSchemas(ctx context.Context) ([]imodels.PayloadSchema, error)
	UpsertSchema(ctx context.Context, s *imodels.PayloadSchema) error
}
