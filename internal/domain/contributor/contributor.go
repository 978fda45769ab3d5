// Package contributor models the source repository whose contributors are
// told about scan results.
package contributor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrInvalidRepositoryURL reports a repository URL without an owner and
	// a name.
	ErrInvalidRepositoryURL = errors.New("invalid repository url")
	// ErrRepositoryNotFound is returned when the hosting service does not know
	// the repository or hides it from the caller.
	ErrRepositoryNotFound = errors.New("repository not found")
)

// Repository identifies a repository on a GitHub or GitHub Enterprise host.
type Repository struct {
	// Host is the web origin, e.g. https://github.com.
	Host  string
	Owner string
	Name  string
}

// ParseRepositoryURL extracts the host, owner and name from a repository's
// web URL, e.g. https://github.com/target/webapp. A trailing ".git" and any
// path below the repository are ignored.
func ParseRepositoryURL(raw string) (Repository, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return Repository{}, fmt.Errorf("%w: %q", ErrInvalidRepositoryURL, raw)
	}

	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(parts) < 2 {
		return Repository{}, fmt.Errorf("%w: %q has no owner/name path", ErrInvalidRepositoryURL, raw)
	}

	return Repository{
		Host:  u.Scheme + "://" + u.Host,
		Owner: parts[0],
		Name:  strings.TrimSuffix(parts[1], ".git"),
	}, nil
}

func (r Repository) String() string { return r.Owner + "/" + r.Name }

// EmailSource resolves the public email addresses of a repository's
// contributors.
type EmailSource interface {
	ContributorEmails(ctx context.Context, repo Repository) ([]string, error)
}
