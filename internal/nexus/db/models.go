package db

import (
	"fmt"
	"strconv"

	nsync "github.com/itou-labs/nexus-sync/internal/nexus/sync"
	"github.com/itou-labs/nexus-sync/internal/nexus/tracker"
)

// Membership roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

var (
	userColumns       = []string{"email", "first_name", "last_name", "kind", "is_active", "last_login"}
	userTracked       = []string{"email", "first_name", "last_name", "kind", "is_active"}
	structureTracked  = []string{"name", "kind", "siret", "is_active"}
	membershipTracked = []string{"user_id", "structure_id", "role", "is_active"}
)

// User is a person known to the local service.
type User struct {
	tracker.State

	ID        int64
	Email     string
	FirstName string
	LastName  string
	Kind      string
	IsActive  bool
	LastLogin string
}

// Field returns the value of the named column, or nil for unknown names.
func (u *User) Field(name string) any {
	switch name {
	case "email":
		return u.Email
	case "first_name":
		return u.FirstName
	case "last_name":
		return u.LastName
	case "kind":
		return u.Kind
	case "is_active":
		return u.IsActive
	case "last_login":
		return u.LastLogin
	}
	return nil
}

// SyncID returns the user id as sent to the remote directory.
func (u *User) SyncID() string {
	return strconv.FormatInt(u.ID, 10)
}

// ShouldSyncRemotely reports whether the user belongs in the directory.
func (u *User) ShouldSyncRemotely() (bool, error) {
	return u.IsActive && u.Email != "", nil
}

// Structure is an organization users can be members of.
type Structure struct {
	tracker.State

	ID       int64
	Name     string
	Kind     string
	Siret    string
	IsActive bool
}

// Field returns the value of the named column, or nil for unknown names.
func (s *Structure) Field(name string) any {
	switch name {
	case "name":
		return s.Name
	case "kind":
		return s.Kind
	case "siret":
		return s.Siret
	case "is_active":
		return s.IsActive
	}
	return nil
}

// SyncID returns the structure id as sent to the remote directory.
func (s *Structure) SyncID() string {
	return strconv.FormatInt(s.ID, 10)
}

// ShouldSyncRemotely reports whether the structure is active.
func (s *Structure) ShouldSyncRemotely() (bool, error) {
	return s.IsActive, nil
}

// Membership links a user to a structure.
type Membership struct {
	tracker.State

	ID          int64
	UserID      int64
	StructureID int64
	Role        string
	IsActive    bool

	// Loaded relations. Required by ShouldSyncRemotely.
	User      *User
	Structure *Structure
}

// Field returns the value of the named column. Relations are exposed
// through their id columns only.
func (m *Membership) Field(name string) any {
	switch name {
	case "user_id":
		return m.UserID
	case "structure_id":
		return m.StructureID
	case "role":
		return m.Role
	case "is_active":
		return m.IsActive
	}
	return nil
}

// SyncID returns the membership id as sent to the remote directory.
func (m *Membership) SyncID() string {
	return strconv.FormatInt(m.ID, 10)
}

// ShouldSyncRemotely requires both ends of the membership to be loaded and
// active.
func (m *Membership) ShouldSyncRemotely() (bool, error) {
	if m.User == nil || m.User.ID != m.UserID {
		return false, fmt.Errorf("membership %d user: %w", m.ID, nsync.ErrNotLoaded)
	}
	if m.Structure == nil || m.Structure.ID != m.StructureID {
		return false, fmt.Errorf("membership %d structure: %w", m.ID, nsync.ErrNotLoaded)
	}
	return m.IsActive && m.User.IsActive && m.Structure.IsActive, nil
}

// UserPayload is the remote representation of a User.
type UserPayload struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Kind      string `json:"kind"`
}

// SerializeUser builds the payload pushed for u.
func SerializeUser(u *User) UserPayload {
	return UserPayload{
		ID:        u.SyncID(),
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Kind:      u.Kind,
	}
}

// StructurePayload is the remote representation of a Structure.
type StructurePayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Siret string `json:"siret"`
}

// SerializeStructure builds the payload pushed for s.
func SerializeStructure(s *Structure) StructurePayload {
	return StructurePayload{
		ID:    s.SyncID(),
		Name:  s.Name,
		Kind:  s.Kind,
		Siret: s.Siret,
	}
}

// MembershipPayload is the remote representation of a Membership.
type MembershipPayload struct {
	ID          string `json:"id"`
	UserID      string `json:"user"`
	StructureID string `json:"structure"`
	Role        string `json:"role"`
}

// SerializeMembership builds the payload pushed for m. Both ends are sent
// by id.
func SerializeMembership(m *Membership) MembershipPayload {
	return MembershipPayload{
		ID:          m.SyncID(),
		UserID:      strconv.FormatInt(m.UserID, 10),
		StructureID: strconv.FormatInt(m.StructureID, 10),
		Role:        m.Role,
	}
}
