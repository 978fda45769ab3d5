package scanning

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPolicyNotFound indicates a policy could not be located on the scanner.
	ErrPolicyNotFound = errors.New("scan policy not found")

	// ErrAmbiguousPolicy indicates two builtin policies share a case-insensitive name.
	ErrAmbiguousPolicy = errors.New("scan policy name is ambiguous")
)

// PolicyKind distinguishes builtin policies from ones the caller uploaded.
type PolicyKind int

const (
	// PolicyKindNone means no policy override is sent with the scan.
	PolicyKindNone PolicyKind = iota
	// PolicyKindBuiltin is a policy that already exists on the scanner.
	PolicyKindBuiltin
	// PolicyKindCustom is a locally hosted policy uploaded before the scan.
	PolicyKindCustom
)

func (k PolicyKind) String() string {
	switch k {
	case PolicyKindBuiltin:
		return "builtin"
	case PolicyKindCustom:
		return "custom"
	default:
		return "none"
	}
}

// PolicyDescriptor is a policy as listed by the scanner service.
type PolicyDescriptor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PolicyReference is the resolved policy a scan runs with. It is either a
// builtin or a custom policy; the zero value means no override.
type PolicyReference struct {
	kind PolicyKind
	id   string
	name string
}

// BuiltinPolicy references a builtin policy by its server id.
func BuiltinPolicy(id, name string) PolicyReference {
	return PolicyReference{kind: PolicyKindBuiltin, id: id, name: name}
}

// CustomPolicy references an uploaded policy by name along with the id the
// server assigned to it.
func CustomPolicy(name, id string) PolicyReference {
	return PolicyReference{kind: PolicyKindCustom, id: id, name: name}
}

// Kind returns the policy kind.
func (p PolicyReference) Kind() PolicyKind { return p.kind }

// ID returns the server id sent with the scan.
func (p PolicyReference) ID() string { return p.id }

// Name returns the name the policy was requested with.
func (p PolicyReference) Name() string { return p.name }

// IsZero reports whether no policy override was resolved.
func (p PolicyReference) IsZero() bool { return p.kind == PolicyKindNone }

func (p PolicyReference) String() string {
	if p.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%s(%s)", p.kind, p.id)
}

// PolicyCatalog maps builtin policy names to ids, case-insensitively.
type PolicyCatalog struct {
	byName    map[string]string
	ambiguous map[string]struct{}
}

// NewPolicyCatalog builds a catalog from the scanner's builtin policy list.
// Names that map to more than one id are remembered as ambiguous.
func NewPolicyCatalog(policies []PolicyDescriptor) *PolicyCatalog {
	c := &PolicyCatalog{
		byName:    make(map[string]string, len(policies)),
		ambiguous: make(map[string]struct{}),
	}
	for _, p := range policies {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		if key == "" {
			continue
		}
		if existing, ok := c.byName[key]; ok && existing != p.ID {
			c.ambiguous[key] = struct{}{}
			continue
		}
		c.byName[key] = p.ID
	}
	return c
}

// Len returns the number of distinct builtin names.
func (c *PolicyCatalog) Len() int { return len(c.byName) }

// Lookup returns the id of the builtin policy called name. found is false when
// name is not a builtin. An ambiguous name returns ErrAmbiguousPolicy.
func (c *PolicyCatalog) Lookup(name string) (id string, found bool, err error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if _, ok := c.ambiguous[key]; ok {
		return "", true, fmt.Errorf("%w: %q", ErrAmbiguousPolicy, name)
	}
	id, found = c.byName[key]
	return id, found, nil
}
