// Package artifact models the vulnerability-management service that stores
// scan artifacts per application version, and the credentials used to talk to it.
package artifact

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is the service's "unauthorized" signal: the token was
	// rejected. It is the only error that may trigger re-authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrApplicationNotFound indicates the referenced application or project
	// does not exist on the server. It is a data error, not an auth error.
	ErrApplicationNotFound = errors.New("application not found")

	// ErrNoCredentials indicates credentials were needed but none could be obtained.
	ErrNoCredentials = errors.New("no credentials available")
)

// IsUnauthorized reports whether err carries the service's unauthorized signal.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// Credentials are the username and password exchanged for a token.
type Credentials struct {
	Username string
	Password string
}

// Valid reports whether both parts are present.
func (c Credentials) Valid() bool { return c.Username != "" && c.Password != "" }

// ProjectVersion is one version of an application on the service.
type ProjectVersion struct {
	ID          int64  `json:"id"`
	Application string `json:"application"`
	Name        string `json:"name"`
}

func (v ProjectVersion) String() string {
	return fmt.Sprintf("%s/%s (%d)", v.Application, v.Name, v.ID)
}

// VersionRef identifies an application version to resolve or create.
type VersionRef struct {
	Application string
	Version     string
	// Template is the issue template applied when the version has to be created.
	Template string
}

// ServiceClient is the set of vulnerability-management operations. Every
// operation except Authenticate takes the bearer token explicitly so the
// caller controls the token's lifecycle.
type ServiceClient interface {
	Authenticate(ctx context.Context, creds Credentials) (string, error)
	ListVersions(ctx context.Context, token string) ([]ProjectVersion, error)
	ListApplicationVersions(ctx context.Context, token, application string) ([]ProjectVersion, error)
	UploadArtifact(ctx context.Context, token, path string, ref VersionRef) error
	ProjectVersionURL(ctx context.Context, token string, ref VersionRef) (string, error)
}

// TokenStore persists the token between runs. LoadToken returns "" when no
// token is stored, including after ClearToken.
type TokenStore interface {
	LoadToken(ctx context.Context) (string, error)
	SaveToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
}

// CredentialSource supplies credentials when a token has to be minted,
// typically by prompting the user.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// AgentInfoWriter records values consumed by the downstream notification agent.
type AgentInfoWriter interface {
	WriteAgentInfo(key string, value any) error
}

// AgentInfoReader returns every value recorded for the agent so far.
type AgentInfoReader interface {
	Values() (map[string]any, error)
}

// AgentNotifier hands the recorded agent info to the build agent.
type AgentNotifier interface {
	PublishAgentInfo(ctx context.Context, info map[string]any) error
}
