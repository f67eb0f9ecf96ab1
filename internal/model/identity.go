package model

import (
	"fmt"
	"strings"
)

// Identity addresses exactly one record. It is either Final (assigned by the
// server) or Provisional (allocated locally before the server answers).
//
// Identity is comparable and is used directly as a map key. A Final and a
// Provisional identity never compare equal, even if their ids match.
type Identity struct {
	id          string
	provisional bool
}

// Final returns the identity of a server-owned record.
func Final(serverID string) Identity {
	return Identity{id: serverID}
}

// Provisional returns a locally allocated placeholder identity.
func Provisional(localID string) Identity {
	return Identity{id: localID, provisional: true}
}

// ID returns the raw id without the variant tag.
func (i Identity) ID() string { return i.id }

// IsProvisional reports whether i is a placeholder awaiting a server id.
func (i Identity) IsProvisional() bool { return i.provisional }

// IsZero reports whether i is the zero Identity.
func (i Identity) IsZero() bool { return i.id == "" }

// String renders the identity with its variant tag, e.g. "final:prod_1" or
// "provisional:tmp-1a2b-3".
func (i Identity) String() string {
	if i.provisional {
		return "provisional:" + i.id
	}
	return "final:" + i.id
}

// MarshalText implements encoding.TextMarshaler using String.
func (i Identity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. A bare id without a
// variant tag is treated as Final.
func (i *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// ParseIdentity parses the String form. Untagged input is a Final id.
func ParseIdentity(s string) (Identity, error) {
	switch {
	case strings.HasPrefix(s, "provisional:"):
		s = strings.TrimPrefix(s, "provisional:")
		if s == "" {
			return Identity{}, fmt.Errorf("empty provisional identity")
		}
		return Provisional(s), nil
	case strings.HasPrefix(s, "final:"):
		s = strings.TrimPrefix(s, "final:")
	}
	if s == "" {
		return Identity{}, fmt.Errorf("empty identity")
	}
	return Final(s), nil
}
