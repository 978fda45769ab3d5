package config

import (
	"context"
)

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration so the CLI can be driven by a file, the environment or a
// fixed value in tests.
type Loader interface {
	// Load retrieves, defaults and validates the configuration.
	Load(ctx context.Context) (*Config, error)
}
