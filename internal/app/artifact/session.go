// Package artifact runs operations against the vulnerability-management
// service under a bearer token, re-authenticating once when a stored token
// has expired.
package artifact

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/dastctl/internal/domain/artifact"
	"github.com/ahrav/dastctl/internal/domain/shared"
	"github.com/ahrav/dastctl/pkg/common/logger"
)

// token is a bearer token and whether it was minted during this invocation.
type token struct {
	value string
	fresh bool
}

// Session owns the token lifecycle for one invocation.
type Session struct {
	client   artifact.ServiceClient
	store    artifact.TokenStore
	prompt   artifact.CredentialSource
	explicit artifact.Credentials

	logger *logger.Logger
	tracer trace.Tracer
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithExplicitCredentials makes the session mint a fresh token from creds
// instead of using the stored one.
func WithExplicitCredentials(creds artifact.Credentials) SessionOption {
	return func(s *Session) { s.explicit = creds }
}

// NewSession creates a Session. prompt supplies credentials whenever a token
// has to be minted and no explicit credentials were given.
func NewSession(
	client artifact.ServiceClient,
	store artifact.TokenStore,
	prompt artifact.CredentialSource,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...SessionOption,
) *Session {
	s := &Session{
		client: client,
		store:  store,
		prompt: prompt,
		logger: logger.With("component", "artifact_session"),
		tracer: tracer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithSession runs fn under a token from s. When fn rejects a stored token
// with artifact.ErrUnauthorized, the session discards it, prompts for
// credentials, mints and persists a new token and runs fn exactly once more.
// A freshly minted token is never retried. Errors are classified: a rejected token is an
// authentication error, a missing application a configuration error and any
// other unclassified failure a transport error.
func WithSession[T any](
	ctx context.Context,
	s *Session,
	op string,
	fn func(ctx context.Context, token string) (T, error),
) (T, error) {
	ctx, span := s.tracer.Start(ctx, "artifact_session."+op)
	defer span.End()

	logr := logger.NewLoggerContext(s.logger.With("operation", op))

	var zero T
	tok, err := s.acquire(ctx, logr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to obtain token")
		return zero, err
	}
	span.SetAttributes(attribute.Bool("fresh_token", tok.fresh))

	res, err := fn(ctx, tok.value)
	if err == nil {
		span.SetStatus(codes.Ok, "operation_succeeded")
		return res, nil
	}
	if !artifact.IsUnauthorized(err) || tok.fresh {
		return zero, s.finish(span, op, err)
	}

	span.AddEvent("stored_token_rejected")
	logr.Info(ctx, "Stored token rejected, re-authenticating")
	if err := s.store.ClearToken(ctx); err != nil {
		logr.Warn(ctx, "Failed to discard rejected token", "error", err)
	}

	creds, err := s.prompt.Credentials(ctx)
	if err != nil {
		err = shared.AuthenticationError(op, fmt.Errorf("%w: %w", artifact.ErrNoCredentials, err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to obtain credentials")
		return zero, err
	}
	if tok, err = s.mint(ctx, logr, creds); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to re-authenticate")
		return zero, err
	}

	logr.Info(ctx, "Retrying operation with new token")
	span.AddEvent("retrying_operation")
	if res, err = fn(ctx, tok.value); err != nil {
		return zero, s.finish(span, op, err)
	}
	span.SetStatus(codes.Ok, "operation_succeeded_after_retry")
	return res, nil
}

// Do is WithSession for operations without a result.
func (s *Session) Do(ctx context.Context, op string, fn func(ctx context.Context, token string) error) error {
	_, err := WithSession(ctx, s, op, func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, fn(ctx, token)
	})
	return err
}

// acquire returns the token to use for the first attempt.
func (s *Session) acquire(ctx context.Context, logr *logger.LoggerContext) (token, error) {
	if s.explicit.Valid() {
		return s.mint(ctx, logr, s.explicit)
	}

	stored, err := s.store.LoadToken(ctx)
	if err != nil {
		logr.Warn(ctx, "Failed to read stored token", "error", err)
	}
	if stored != "" {
		logr.Debug(ctx, "Using stored token")
		return token{value: stored}, nil
	}

	logr.Info(ctx, "No stored token, authenticating")
	creds, err := s.prompt.Credentials(ctx)
	if err != nil {
		return token{}, shared.AuthenticationError("authenticate", fmt.Errorf("%w: %w", artifact.ErrNoCredentials, err))
	}
	return s.mint(ctx, logr, creds)
}

// mint exchanges creds for a token and persists it. A token that cannot be
// persisted is still used.
func (s *Session) mint(ctx context.Context, logr *logger.LoggerContext, creds artifact.Credentials) (token, error) {
	if !creds.Valid() {
		return token{}, shared.AuthenticationError("authenticate", artifact.ErrNoCredentials)
	}

	value, err := s.client.Authenticate(ctx, creds)
	if err != nil {
		if artifact.IsUnauthorized(err) {
			return token{}, shared.AuthenticationError("authenticate", err)
		}
		return token{}, classify("authenticate", err)
	}

	if err := s.store.SaveToken(ctx, value); err != nil {
		logr.Warn(ctx, "Failed to persist token", "error", err)
	} else {
		logr.Info(ctx, "Token written to credential store", "user", creds.Username)
	}
	return token{value: value, fresh: true}, nil
}

func (s *Session) finish(span trace.Span, op string, err error) error {
	switch {
	case artifact.IsUnauthorized(err):
		err = shared.AuthenticationError(op, err)
	case errors.Is(err, artifact.ErrApplicationNotFound):
		err = shared.ConfigurationError(op, err)
	default:
		err = classify(op, err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	return err
}

func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if shared.KindOf(err) != shared.KindUnknown {
		return err
	}
	return shared.TransportError(op, err)
}
