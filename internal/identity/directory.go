// Package identity resolves participant ids to the public material other
// services need: role, signing key and registered address. The platform's
// user directory is an external collaborator; this package defines the
// contract and ships an in-memory implementation for wiring and tests.
package identity

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"

	"github.com/RossBrod/CareCred/internal/geo"
)

// ErrNotFound is returned when a participant id is unknown.
var ErrNotFound = errors.New("identity: participant not found")

// Role is a closed set of participant roles. Role-specific fields live on
// Participant and are interpreted by switching on Role rather than through
// subtype dispatch.
type Role string

const (
	RoleStudent Role = "student"
	RoleSenior  Role = "senior"
	RoleAdmin   Role = "admin"
)

// Participant is the directory view of a platform user.
type Participant struct {
	ID        string
	Role      Role
	Name      string
	PublicKey ed25519.PublicKey

	// Senior-specific: the registered address sessions are verified
	// against.
	RegisteredAddress geo.Location

	// Student-specific.
	InstitutionID string

	// Admin-specific.
	CanOverridePayout bool
}

// Directory resolves participants.
type Directory interface {
	Resolve(ctx context.Context, participantID string) (Participant, error)
}

// MemoryDirectory is a concurrency-safe in-memory Directory.
type MemoryDirectory struct {
	mu           sync.RWMutex
	participants map[string]Participant
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{participants: make(map[string]Participant)}
}

// Put registers or replaces a participant.
func (d *MemoryDirectory) Put(p Participant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.participants[p.ID] = p
}

// Resolve implements Directory.
func (d *MemoryDirectory) Resolve(_ context.Context, participantID string) (Participant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.participants[participantID]
	if !ok {
		return Participant{}, ErrNotFound
	}
	return p, nil
}
