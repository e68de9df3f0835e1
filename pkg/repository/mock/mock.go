package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	imodels "github.com/garnizeh/hostel/internal/models"
	"github.com/garnizeh/hostel/pkg/models"
	"github.com/garnizeh/hostel/pkg/repository"
)

var (
	_ repository.ProfileRepo   = (*ProfileRepo)(nil)
	_ repository.DeviceRepo    = (*ProfileRepo)(nil)
	_ repository.LeaveRepo     = (*LeaveRepo)(nil)
	_ repository.ComplaintRepo = (*ComplaintRepo)(nil)
	_ repository.IdentityRepo  = (*IdentityRepo)(nil)
)

// Test helpers and mocks
type Mocks struct {
	Profiles   *ProfileRepo
	Leaves     *LeaveRepo
	Complaints *ComplaintRepo
	Identities *IdentityRepo
}

func NewMocks() *Mocks {
	return &Mocks{
		Profiles:   &ProfileRepo{byUID: map[string]*models.Profile{}},
		Leaves:     &LeaveRepo{byID: map[string]*models.Leave{}},
		Complaints: &ComplaintRepo{byID: map[string]*models.Complaint{}},
		Identities: &IdentityRepo{byUID: map[string]*imodels.Identity{}},
	}
}

// ProfileRepo is an in-memory ProfileRepo and DeviceRepo.
type ProfileRepo struct {
	mu        sync.Mutex
	byUID     map[string]*models.Profile
	CreateErr error
	GetErr    error
	UpdateErr error
	Gets      int
}

func (m *ProfileRepo) Put(p models.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	cp.DeviceTokens = append([]string(nil), p.DeviceTokens...)
	m.byUID[p.UID] = &cp
}

func (m *ProfileRepo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byUID)
}

func (m *ProfileRepo) CreateProfile(ctx context.Context, p *models.Profile) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUID[p.UID]; ok {
		return fmt.Errorf("profile %s exists", p.UID)
	}
	cp := *p
	m.byUID[p.UID] = &cp
	return nil
}

func (m *ProfileRepo) GetProfile(ctx context.Context, uid string) (*models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gets++
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	p, ok := m.byUID[uid]
	if !ok {
		return nil, nil
	}
	cp := *p
	cp.DeviceTokens = append([]string(nil), p.DeviceTokens...)
	return &cp, nil
}

func (m *ProfileRepo) UpdateProfile(ctx context.Context, uid string, fn func(p *models.Profile) error) (*models.Profile, error) {
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byUID[uid]
	if !ok {
		return nil, nil
	}
	cp := *cur
	cp.DeviceTokens = append([]string(nil), cur.DeviceTokens...)
	if err := fn(&cp); err != nil {
		return nil, err
	}
	cp.UID = uid
	cp.DeviceTokens = cur.DeviceTokens
	cp.UpdatedAt = time.Now().UnixMilli()
	m.byUID[uid] = &cp

	out := cp
	out.DeviceTokens = append([]string(nil), cp.DeviceTokens...)
	return &out, nil
}

func (m *ProfileRepo) UpdateProfileName(ctx context.Context, uid, name string) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.byUID[uid]; ok {
		cur.Name = name
		cur.UpdatedAt = time.Now().UnixMilli()
	}
	return nil
}

func (m *ProfileRepo) ListProfiles(ctx context.Context, f models.ProfileFilter) ([]models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Profile
	for _, p := range m.byUID {
		if f.Role != "" && p.Role != f.Role {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

func (m *ProfileRepo) AddDeviceToken(ctx context.Context, uid, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byUID[uid]
	if !ok {
		return fmt.Errorf("profile %s not found", uid)
	}
	for _, t := range p.DeviceTokens {
		if t == token {
			return nil
		}
	}
	p.DeviceTokens = append(p.DeviceTokens, token)
	return nil
}

func (m *ProfileRepo) ListDeviceTokens(ctx context.Context, uid string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byUID[uid]; ok {
		return append([]string(nil), p.DeviceTokens...), nil
	}
	return nil, nil
}

// LeaveRepo is an in-memory LeaveRepo. Moderations are recorded instead of
// producing change events.
type LeaveRepo struct {
	mu          sync.Mutex
	byID        map[string]*models.Leave
	seq         int
	Moderations []models.Moderation
}

func (m *LeaveRepo) CreateLeave(ctx context.Context, l *models.Leave) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	l.ID = fmt.Sprintf("leave-%d", m.seq)
	l.Status = models.StatusPending
	l.AppliedAt = time.Now().UnixMilli()
	cp := *l
	m.byID[l.ID] = &cp
	return nil
}

func (m *LeaveRepo) GetLeave(ctx context.Context, id string) (*models.Leave, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.byID[id]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, nil
}

func (m *LeaveRepo) ListLeaves(ctx context.Context, studentID string) ([]models.Leave, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Leave
	for _, l := range m.byID {
		if studentID == "" || l.StudentID == studentID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *LeaveRepo) ModerateLeave(ctx context.Context, id string, mod models.Moderation) (*models.Leave, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	l.Status, l.Remarks, l.UpdatedAt = mod.Status, mod.Remarks, time.Now().UnixMilli()
	m.Moderations = append(m.Moderations, mod)
	cp := *l
	return &cp, nil
}

type ComplaintRepo struct {
	mu          sync.Mutex
	byID        map[string]*models.Complaint
	seq         int
	Moderations []models.Moderation
}

func (m *ComplaintRepo) CreateComplaint(ctx context.Context, c *models.Complaint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	c.ID = fmt.Sprintf("complaint-%d", m.seq)
	c.Status = models.StatusPending
	c.CreatedAt = time.Now().UnixMilli()
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

func (m *ComplaintRepo) GetComplaint(ctx context.Context, id string) (*models.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byID[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *ComplaintRepo) ListComplaints(ctx context.Context, studentID string) ([]models.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Complaint
	for _, c := range m.byID {
		if studentID == "" || c.StudentID == studentID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *ComplaintRepo) ModerateComplaint(ctx context.Context, id string, mod models.Moderation) (*models.Complaint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	c.Status, c.Remarks, c.UpdatedAt = mod.Status, mod.Remarks, time.Now().UnixMilli()
	m.Moderations = append(m.Moderations, mod)
	cp := *c
	return &cp, nil
}

// IdentityRepo is an in-memory IdentityRepo with case-insensitive email
// uniqueness.
type IdentityRepo struct {
	mu        sync.Mutex
	byUID     map[string]*imodels.Identity
	CreateErr error
	DeleteErr error
}

func (m *IdentityRepo) CreateIdentity(ctx context.Context, i *imodels.Identity) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i.Email = strings.ToLower(strings.TrimSpace(i.Email))
	for _, cur := range m.byUID {
		if cur.Email == i.Email {
			return repository.ErrDuplicateEmail
		}
	}
	cp := *i
	m.byUID[i.UID] = &cp
	return nil
}

func (m *IdentityRepo) GetIdentity(ctx context.Context, uid string) (*imodels.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.byUID[uid]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, nil
}

func (m *IdentityRepo) GetIdentityByEmail(ctx context.Context, email string) (*imodels.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, i := range m.byUID {
		if i.Email == email {
			cp := *i
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *IdentityRepo) SetPasswordHash(ctx context.Context, uid, current, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byUID[uid]
	if !ok || i.PasswordHash != current {
		return false, nil
	}
	i.PasswordHash = hash
	return true, nil
}

func (m *IdentityRepo) DeleteIdentity(ctx context.Context, uid string) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byUID, uid)
	return nil
}

func (m *IdentityRepo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byUID)
}
