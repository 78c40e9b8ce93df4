package permissions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Permission is one privileged capability class a lapp may declare
type Permission string

const (
	FileRead      Permission = "file-read"
	FileWrite     Permission = "file-write"
	Network       Permission = "network"
	Database      Permission = "database"
	PeerMessaging Permission = "peer-messaging"
)

// All lists every known capability class in display order.
var All = []Permission{FileRead, FileWrite, Network, Database, PeerMessaging}

// ErrUnknownPermission is returned when a manifest names a capability that does not exist.
var ErrUnknownPermission = errors.New("unknown permission")

// Description returns a human readable description of the capability.
func (p Permission) Description() string {
	switch p {
	case FileRead:
		return "Read files in the lapp data directory"
	case FileWrite:
		return "Write files in the lapp data directory"
	case Network:
		return "Make outbound HTTP requests"
	case Database:
		return "Use the lapp database"
	case PeerMessaging:
		return "Publish and receive peer-to-peer gossip messages"
	default:
		return "unknown"
	}
}

// Valid reports whether p is a known capability class.
func (p Permission) Valid() bool {
	for _, known := range All {
		if p == known {
			return true
		}
	}
	return false
}

// Parse converts a manifest entry to a Permission
func Parse(s string) (Permission, error) {
	p := Permission(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPermission, s)
	}
	return p, nil
}

// Set is an immutable set of permissions. The zero value grants nothing.
type Set struct {
	bits uint8
}

func bit(p Permission) uint8 {
	for i, known := range All {
		if p == known {
			return 1 << uint(i)
		}
	}
	return 0
}

// NewSet builds a set from known permissions; unknown values are ignored.
func NewSet(perms ...Permission) Set {
	var s Set
	for _, p := range perms {
		s.bits |= bit(p)
	}
	return s
}

// ParseSet builds a set from manifest strings, rejecting unknown names.
func ParseSet(names []string) (Set, error) {
	perms := make([]Permission, 0, len(names))
	for _, name := range names {
		p, err := Parse(name)
		if err != nil {
			return Set{}, err
		}
		perms = append(perms, p)
	}
	return NewSet(perms...), nil
}

// Has reports whether the set grants p
func (s Set) Has(p Permission) bool {
	b := bit(p)
	return b != 0 && s.bits&b == b
}

// Empty reports whether the set grants nothing
func (s Set) Empty() bool {
	return s.bits == 0
}

// List returns the granted permissions in display order
func (s Set) List() []Permission {
	perms := make([]Permission, 0, len(All))
	for _, p := range All {
		if s.Has(p) {
			perms = append(perms, p)
		}
	}
	return perms
}

// Strings returns the granted permissions as sorted strings
func (s Set) Strings() []string {
	out := make([]string, 0, len(All))
	for _, p := range s.List() {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

func (s Set) String() string {
	return "{" + strings.Join(s.Strings(), ", ") + "}"
}
