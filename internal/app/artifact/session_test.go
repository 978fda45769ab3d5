package artifact

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/dastctl/internal/domain/artifact"
	"github.com/ahrav/dastctl/internal/domain/shared"
	"github.com/ahrav/dastctl/pkg/common/logger"
)

type mockServiceClient struct{ mock.Mock }

func (m *mockServiceClient) Authenticate(ctx context.Context, creds artifact.Credentials) (string, error) {
	args := m.Called(ctx, creds)
	return args.String(0), args.Error(1)
}

func (m *mockServiceClient) ListVersions(ctx context.Context, token string) ([]artifact.ProjectVersion, error) {
	args := m.Called(ctx, token)
	if v := args.Get(0); v != nil {
		return v.([]artifact.ProjectVersion), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockServiceClient) ListApplicationVersions(
	ctx context.Context,
	token, application string,
) ([]artifact.ProjectVersion, error) {
	args := m.Called(ctx, token, application)
	if v := args.Get(0); v != nil {
		return v.([]artifact.ProjectVersion), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockServiceClient) UploadArtifact(ctx context.Context, token, path string, ref artifact.VersionRef) error {
	return m.Called(ctx, token, path, ref).Error(0)
}

func (m *mockServiceClient) ProjectVersionURL(ctx context.Context, token string, ref artifact.VersionRef) (string, error) {
	args := m.Called(ctx, token, ref)
	return args.String(0), args.Error(1)
}

type mockTokenStore struct{ mock.Mock }

func (m *mockTokenStore) LoadToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockTokenStore) SaveToken(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}

func (m *mockTokenStore) ClearToken(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockPrompt struct{ mock.Mock }

func (m *mockPrompt) Credentials(ctx context.Context) (artifact.Credentials, error) {
	args := m.Called(ctx)
	return args.Get(0).(artifact.Credentials), args.Error(1)
}

var (
	promptCreds   = artifact.Credentials{Username: "analyst", Password: "hunter2"}
	explicitCreds = artifact.Credentials{Username: "ci-bot", Password: "s3cret"}
	testVersions  = []artifact.ProjectVersion{{ID: 10, Application: "shop", Name: "1.4"}}
)

type sessionSuite struct {
	client *mockServiceClient
	store  *mockTokenStore
	prompt *mockPrompt
}

func newSessionSuite() *sessionSuite {
	return &sessionSuite{
		client: new(mockServiceClient),
		store:  new(mockTokenStore),
		prompt: new(mockPrompt),
	}
}

func (s *sessionSuite) session(opts ...SessionOption) *Session {
	return NewSession(s.client, s.store, s.prompt, logger.Noop(), noop.NewTracerProvider().Tracer("test"), opts...)
}

func (s *sessionSuite) assertExpectations(t *testing.T) {
	s.client.AssertExpectations(t)
	s.store.AssertExpectations(t)
	s.prompt.AssertExpectations(t)
}

func unauthorized() error {
	return shared.TransportError("list_versions", artifact.ErrUnauthorized).WithStatus(401)
}

func TestSessionCachedTokenSucceeds(t *testing.T) {
	t.Parallel()
	s := newSessionSuite()

	s.store.On("LoadToken", mock.Anything).Return("cached-token", nil).Once()
	s.client.On("ListVersions", mock.Anything, "cached-token").Return(testVersions, nil).Once()

	got, err := WithSession(context.Background(), s.session(), "list_versions", s.client.ListVersions)
	require.NoError(t, err)

	assert.Equal(t, testVersions, got)
	s.client.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything)
	s.assertExpectations(t)
}

func TestSessionMintsTokenWhenNoneStored(t *testing.T) {
	t.Parallel()
	s := newSessionSuite()

	s.store.On("LoadToken", mock.Anything).Return("", nil).Once()
	s.prompt.On("Credentials", mock.Anything).Return(promptCreds, nil).Once()
	s.client.On("Authenticate", mock.Anything, promptCreds).Return("fresh-token", nil).Once()
	s.store.On("SaveToken", mock.Anything, "fresh-token").Return(nil).Once()
	s.client.On("ListVersions", mock.Anything, "fresh-token").Return(testVersions, nil).Once()

	got, err := WithSession(context.Background(), s.session(), "list_versions", s.client.ListVersions)
	require.NoError(t, err)

	assert.Equal(t, testVersions, got)
	s.assertExpectations(t)
}

func TestSessionFreshTokenIsNeverRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(s *sessionSuite)
		opts  []SessionOption
	}{
		{
			name: "minted from prompt",
			setup: func(s *sessionSuite) {
				s.store.On("LoadToken", mock.Anything).Return("", nil).Once()
				s.prompt.On("Credentials", mock.Anything).Return(promptCreds, nil).Once()
				s.client.On("Authenticate", mock.Anything, promptCreds).Return("fresh-token", nil).Once()
				s.store.On("SaveToken", mock.Anything, "fresh-token").Return(nil).Once()
			},
		},
		{
			name: "minted from explicit credentials",
			setup: func(s *sessionSuite) {
				s.client.On("Authenticate", mock.Anything, explicitCreds).Return("fresh-token", nil).Once()
				s.store.On("SaveToken", mock.Anything, "fresh-token").Return(nil).Once()
			},
			opts: []SessionOption{WithExplicitCredentials(explicitCreds)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newSessionSuite()
			tt.setup(s)
			s.client.On("ListVersions", mock.Anything, "fresh-token").Return(nil, unauthorized()).Once()

			_, err := WithSession(context.Background(), s.session(tt.opts...), "list_versions", s.client.ListVersions)
			require.Error(t, err)

			assert.Equal(t, shared.KindAuthentication, shared.KindOf(err))
			assert.ErrorIs(t, err, artifact.ErrUnauthorized)
			s.client.AssertNumberOfCalls(t, "ListVersions", 1)
			s.client.AssertNumberOfCalls(t, "Authenticate", 1)
			s.assertExpectations(t)
		})
	}
}

func TestSessionCachedTokenRetriedExactlyOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		retryErr  error
		wantErr   bool
		wantKind  shared.ErrorKind
		wantValue []artifact.ProjectVersion
	}{
		{
			name:      "retry succeeds",
			wantValue: testVersions,
		},
		{
			name:     "retry rejected again",
			retryErr: unauthorized(),
			wantErr:  true,
			wantKind: shared.KindAuthentication,
		},
		{
			name:     "retry hits a network failure",
			retryErr: errors.New("dial tcp 10.0.0.5:8443: connection refused"),
			wantErr:  true,
			wantKind: shared.KindTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newSessionSuite()

			s.store.On("LoadToken", mock.Anything).Return("expired-token", nil).Once()
			s.client.On("ListVersions", mock.Anything, "expired-token").Return(nil, unauthorized()).Once()
			s.store.On("ClearToken", mock.Anything).Return(nil).Once()
			s.prompt.On("Credentials", mock.Anything).Return(promptCreds, nil).Once()
			s.client.On("Authenticate", mock.Anything, promptCreds).Return("new-token", nil).Once()
			s.store.On("SaveToken", mock.Anything, "new-token").Return(nil).Once()
			if tt.retryErr != nil {
				s.client.On("ListVersions", mock.Anything, "new-token").Return(nil, tt.retryErr).Once()
			} else {
				s.client.On("ListVersions", mock.Anything, "new-token").Return(tt.wantValue, nil).Once()
			}

			got, err := WithSession(context.Background(), s.session(), "list_versions", s.client.ListVersions)

			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, shared.KindOf(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantValue, got)
			}
			s.client.AssertNumberOfCalls(t, "ListVersions", 2)
			s.client.AssertNumberOfCalls(t, "Authenticate", 1)
			s.assertExpectations(t)
		})
	}
}

func TestSessionRejectedTokenDiscardedWhenReauthenticationFails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(s *sessionSuite)
	}{
		{
			name: "no credentials available",
			setup: func(s *sessionSuite) {
				s.prompt.On("Credentials", mock.Anything).
					Return(artifact.Credentials{}, errors.New("stdin is not a terminal")).Once()
			},
		},
		{
			name: "new credentials rejected",
			setup: func(s *sessionSuite) {
				s.prompt.On("Credentials", mock.Anything).Return(promptCreds, nil).Once()
				s.client.On("Authenticate", mock.Anything, promptCreds).Return("", artifact.ErrUnauthorized).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newSessionSuite()

			s.store.On("LoadToken", mock.Anything).Return("expired-token", nil).Once()
			s.client.On("ListVersions", mock.Anything, "expired-token").Return(nil, unauthorized()).Once()
			s.store.On("ClearToken", mock.Anything).Return(nil).Once()
			tt.setup(s)

			_, err := WithSession(context.Background(), s.session(), "list_versions", s.client.ListVersions)
			require.Error(t, err)

			assert.Equal(t, shared.KindAuthentication, shared.KindOf(err))
			s.store.AssertCalled(t, "ClearToken", mock.Anything)
			s.store.AssertNotCalled(t, "SaveToken", mock.Anything, mock.Anything)
			s.client.AssertNumberOfCalls(t, "ListVersions", 1)
			s.assertExpectations(t)
		})
	}
}

func TestSessionClearTokenFailureDoesNotBlockRetry(t *testing.T) {
	t.Parallel()
	s := newSessionSuite()

	s.store.On("LoadToken", mock.Anything).Return("expired-token", nil).Once()
	s.client.On("ListVersions", mock.Anything, "expired-token").Return(nil, unauthorized()).Once()
	s.store.On("ClearToken", mock.Anything).Return(errors.New("read-only file system")).Once()
	s.prompt.On("Credentials", mock.Anything).Return(promptCreds, nil).Once()
	s.client.On("Authenticate", mock.Anything, promptCreds).Return("new-token", nil).Once()
	s.store.On("SaveToken", mock.Anything, "new-token").Return(nil).Once()
	s.client.On("ListVersions", mock.Anything, "new-token").Return(testVersions, nil).Once()

	got, err := WithSession(context.Background(), s.session(), "list_versions", s.client.ListVersions)
	require.NoError(t, err)
	assert.Equal(t, testVersions, got)
	s.assertExpectations(t)
}

func TestSessionNonAuthFailuresAreNotRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantKind shared.ErrorKind
		wantIs   error
	}{
		{
			name:     "application does not exist",
			err:      fmt.Errorf("application shop: %w", artifact.ErrApplicationNotFound),
			wantKind: shared.KindConfiguration,
			wantIs:   artifact.ErrApplicationNotFound,
		},
		{
			name:     "server error",
			err:      errors.New("500 internal server error"),
			wantKind: shared.KindTransport,
		},
		{
			name:     "cancelled",
			err:      context.Canceled,
			wantKind: shared.KindUnknown,
			wantIs:   context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newSessionSuite()
			ref := artifact.VersionRef{Application: "shop", Version: "1.4"}

			s.store.On("LoadToken", mock.Anything).Return("cached-token", nil).Once()
			s.client.On("UploadArtifact", mock.Anything, "cached-token", "nightly-1.fpr", ref).Return(tt.err).Once()

			err := s.session().Do(context.Background(), "upload_artifact", func(ctx context.Context, token string) error {
				return s.client.UploadArtifact(ctx, token, "nightly-1.fpr", ref)
			})
			require.Error(t, err)

			assert.Equal(t, tt.wantKind, shared.KindOf(err))
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			s.client.AssertNumberOfCalls(t, "UploadArtifact", 1)
			s.client.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything)
			s.prompt.AssertNotCalled(t, "Credentials", mock.Anything)
			s.assertExpectations(t)
		})
	}
}

func TestSessionAuthenticationFailures(t *testing.T) {
	t.Parallel()

	t.Run("credentials rejected", func(t *testing.T) {
		t.Parallel()
		s := newSessionSuite()
		s.store.On("LoadToken", mock.Anything).Return("", nil).Once()
		s.prompt.On("Credentials", mock.Anything).Return(promptCreds, nil).Once()
		s.client.On("Authenticate", mock.Anything, promptCreds).Return("", artifact.ErrUnauthorized).Once()

		_, err := WithSession(context.Background(), s.session(), "list_versions", s.client.ListVersions)
		require.Error(t, err)
		assert.Equal(t, shared.KindAuthentication, shared.KindOf(err))
		s.client.AssertNotCalled(t, "ListVersions", mock.Anything, mock.Anything)
		s.store.AssertNotCalled(t, "SaveToken", mock.Anything, mock.Anything)
	})

	t.Run("prompt unavailable", func(t *testing.T) {
		t.Parallel()
		s := newSessionSuite()
		s.store.On("LoadToken", mock.Anything).Return("", errors.New("open credentials.yaml: permission denied")).Once()
		s.prompt.On("Credentials", mock.Anything).
			Return(artifact.Credentials{}, errors.New("stdin is not a terminal")).Once()

		_, err := WithSession(context.Background(), s.session(), "list_versions", s.client.ListVersions)
		require.Error(t, err)
		assert.Equal(t, shared.KindAuthentication, shared.KindOf(err))
		assert.ErrorIs(t, err, artifact.ErrNoCredentials)
	})

	t.Run("token store write failure is not fatal", func(t *testing.T) {
		t.Parallel()
		s := newSessionSuite()
		s.store.On("LoadToken", mock.Anything).Return("", nil).Once()
		s.prompt.On("Credentials", mock.Anything).Return(promptCreds, nil).Once()
		s.client.On("Authenticate", mock.Anything, promptCreds).Return("fresh-token", nil).Once()
		s.store.On("SaveToken", mock.Anything, "fresh-token").Return(errors.New("read-only file system")).Once()
		s.client.On("ListVersions", mock.Anything, "fresh-token").Return(testVersions, nil).Once()

		got, err := WithSession(context.Background(), s.session(), "list_versions", s.client.ListVersions)
		require.NoError(t, err)
		assert.Equal(t, testVersions, got)
	})
}
