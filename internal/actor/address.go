package actor

import (
	"fmt"
	"net/url"
	"strings"
)

// Address is the location-transparent identifier of an actor. It is
// immutable once constructed and uniquely identifies an actor independent of
// where it is physically hosted.
type Address struct {
	// ID is the unique name of the actor within its type/node.
	ID string

	// Type is the behaviour family this actor belongs to, e.g. "worker"
	// or "room".
	Type string

	// Node is the name of the host that owns this actor. "local" is used
	// for actors that have not been assigned to a specific remote node.
	Node string
}

// NewAddress constructs an Address from its components.
func NewAddress(node, typ, id string) Address {
	return Address{ID: id, Type: typ, Node: node}
}

// Path renders the address as an "actor://node/type/id" URI, per the
// grammar in the external interfaces section.
func (a Address) Path() string {
	return fmt.Sprintf("actor://%s/%s/%s",
		url.PathEscape(a.Node), url.PathEscape(a.Type),
		url.PathEscape(a.ID))
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return a.Path()
}

// IsZero reports whether the address is the zero value (unaddressed).
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress parses an "actor://node/type/id" URI back into an Address.
func ParseAddress(raw string) (Address, error) {
	scheme, rest, found := strings.Cut(raw, "://")
	if !found || scheme != "actor" {
		return Address{}, fmt.Errorf("%w: scheme must be 'actor', got %q",
			ErrInvalidAddress, scheme)
	}

	// Path escapes every component, so a literal "/" only ever separates
	// node, type and id.
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Address{}, fmt.Errorf(
			"%w: expected actor://node/type/id, got %q",
			ErrInvalidAddress, raw)
	}

	node, err := url.PathUnescape(parts[0])
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	typ, err := url.PathUnescape(parts[1])
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	id, err := url.PathUnescape(parts[2])
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	return Address{ID: id, Type: typ, Node: node}, nil
}
