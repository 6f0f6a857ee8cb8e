package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryDirectory is an in-process Directory used in development when no
// database is configured, and in tests.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]*Identity // subject -> identity
}

func NewMemoryDirectory(users ...*Identity) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]*Identity)}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

// NewDevDirectory returns a directory seeded with one doctor and one patient
// whose subjects match the development auth headers.
func NewDevDirectory() *MemoryDirectory {
	return NewMemoryDirectory(devSeed()...)
}

func (d *MemoryDirectory) Put(u *Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.Subject] = u
}

func (d *MemoryDirectory) FindBySubject(_ context.Context, subject string) (*Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.users[subject]; ok {
		cp := *u
		return &cp, nil
	}
	for _, u := range d.users {
		if u.Email == subject {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func int64Ptr(v int64) *int64 { return &v }

func devSeed() []*Identity {
	now := time.Now().UTC()
	return []*Identity{
		{
			UserID:    1,
			Subject:   "dev-doctor",
			Email:     "doctor@healthsphere.local",
			FirstName: "Dana",
			LastName:  "Reyes",
			Role:      RoleDoctor,
			DoctorID:  int64Ptr(1),
			CreatedAt: now,
		},
		{
			UserID:    2,
			Subject:   "dev-patient",
			Email:     "patient@healthsphere.local",
			FirstName: "Sam",
			LastName:  "Okafor",
			Role:      RolePatient,
			PatientID: int64Ptr(1),
			CreatedAt: now,
		},
		{
			UserID:    3,
			Subject:   "dev-admin",
			Email:     "admin@healthsphere.local",
			FirstName: "Alex",
			LastName:  "Kim",
			Role:      RoleAdmin,
			CreatedAt: now,
		},
	}
}
