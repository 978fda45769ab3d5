// Package ssc implements artifact.ServiceClient over the vulnerability
// management service's v1 REST API.
package ssc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/dastctl/internal/domain/artifact"
	"github.com/ahrav/dastctl/internal/domain/shared"
	"github.com/ahrav/dastctl/pkg/common/logger"
)

var _ artifact.ServiceClient = (*Client)(nil)

const errorBodyLimit = 4 << 10

// Client talks to one service instance. BaseURL includes the application
// context, e.g. https://ssc.example.com/ssc.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient creates a Client.
func NewClient(baseURL string, httpClient *http.Client, logger *logger.Logger, tracer trace.Tracer) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, shared.ConfigurationError("ssc_client", fmt.Errorf("invalid service url %q", baseURL))
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		logger:     logger.With("component", "ssc_client", "service", base.Host),
		tracer:     tracer,
	}, nil
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type tokenDTO struct {
	Token string `json:"token"`
}

type projectDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type versionDTO struct {
	ID      int64      `json:"id"`
	Name    string     `json:"name"`
	Project projectDTO `json:"project"`
}

func (v versionDTO) toDomain() artifact.ProjectVersion {
	return artifact.ProjectVersion{ID: v.ID, Application: v.Project.Name, Name: v.Name}
}

type createVersionRequest struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Active          bool            `json:"active"`
	Committed       bool            `json:"committed"`
	IssueTemplateID string          `json:"issueTemplateId,omitempty"`
	Project         createProjectIn `json:"project"`
}

type createProjectIn struct {
	ID              int64  `json:"id,omitempty"`
	Name            string `json:"name"`
	IssueTemplateID string `json:"issueTemplateId,omitempty"`
}

// Authenticate exchanges creds for a token. Rejected credentials return
// artifact.ErrUnauthorized.
func (c *Client) Authenticate(ctx context.Context, creds artifact.Credentials) (string, error) {
	ctx, span := c.tracer.Start(ctx, "ssc_client.authenticate",
		trace.WithAttributes(attribute.String("user", creds.Username)))
	defer span.End()

	body, _ := json.Marshal(map[string]string{"type": "UnifiedLoginToken"})
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/tokens", nil, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(creds.Username, creds.Password)
	req.Header.Set("Content-Type", "application/json")

	var out envelope[tokenDTO]
	if err := c.do(req, "authenticate", &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")
		return "", err
	}
	if out.Data.Token == "" {
		return "", shared.TransportError("authenticate", errors.New("service returned an empty token"))
	}
	return out.Data.Token, nil
}

// ListVersions lists every project version visible to the token.
func (c *Client) ListVersions(ctx context.Context, token string) ([]artifact.ProjectVersion, error) {
	ctx, span := c.tracer.Start(ctx, "ssc_client.list_versions")
	defer span.End()

	q := url.Values{"fields": {"id,name,project"}, "limit": {"-1"}}
	var out envelope[[]versionDTO]
	if err := c.getJSON(ctx, token, "list_versions", "/api/v1/projectVersions", q, &out); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return toDomain(out.Data), nil
}

// ListApplicationVersions lists the versions of application. An unknown
// application returns artifact.ErrApplicationNotFound.
func (c *Client) ListApplicationVersions(ctx context.Context, token, application string) ([]artifact.ProjectVersion, error) {
	ctx, span := c.tracer.Start(ctx, "ssc_client.list_application_versions",
		trace.WithAttributes(attribute.String("application", application)))
	defer span.End()

	project, err := c.findProject(ctx, token, application)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	versions, err := c.projectVersions(ctx, token, project)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return toDomain(versions), nil
}

// UploadArtifact uploads the results file at filePath to ref's version.
func (c *Client) UploadArtifact(ctx context.Context, token, filePath string, ref artifact.VersionRef) error {
	ctx, span := c.tracer.Start(ctx, "ssc_client.upload_artifact",
		trace.WithAttributes(
			attribute.String("file", filePath),
			attribute.String("application", ref.Application),
			attribute.String("version", ref.Version),
		))
	defer span.End()

	version, err := c.findVersion(ctx, token, ref)
	if err != nil {
		span.RecordError(err)
		return err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		span.RecordError(err)
		return shared.ConfigurationError("upload_artifact", fmt.Errorf("failed to read %s: %w", filePath, err))
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to build upload form: %w", err)
	}

	endpoint := "/api/v1/projectVersions/" + strconv.FormatInt(version.ID, 10) + "/artifacts"
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, &body)
	if err != nil {
		return err
	}
	c.authorize(req, token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if err := c.do(req, "upload_artifact", nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return err
	}
	c.logger.Info(ctx, "Artifact uploaded", "file", filePath, "version", version.toDomain().String())
	return nil
}

// ProjectVersionURL returns the UI URL of ref's version, creating the
// application and version from ref.Template when they do not exist.
func (c *Client) ProjectVersionURL(ctx context.Context, token string, ref artifact.VersionRef) (string, error) {
	ctx, span := c.tracer.Start(ctx, "ssc_client.project_version_url",
		trace.WithAttributes(
			attribute.String("application", ref.Application),
			attribute.String("version", ref.Version),
		))
	defer span.End()

	version, err := c.findVersion(ctx, token, ref)
	if errors.Is(err, artifact.ErrApplicationNotFound) {
		span.AddEvent("creating_project_version")
		version, err = c.createVersion(ctx, token, ref)
	}
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	u := *c.baseURL
	u.Path = path.Join(u.Path, "html/ssc/index.jsp")
	u.Fragment = "!/version/" + strconv.FormatInt(version.ID, 10) + "/fix"
	return u.String(), nil
}

func (c *Client) findProject(ctx context.Context, token, application string) (projectDTO, error) {
	q := url.Values{"q": {fmt.Sprintf("name:%q", application)}, "fields": {"id,name"}}
	var out envelope[[]projectDTO]
	if err := c.getJSON(ctx, token, "find_project", "/api/v1/projects", q, &out); err != nil {
		return projectDTO{}, err
	}
	for _, p := range out.Data {
		if p.Name == application {
			return p, nil
		}
	}
	return projectDTO{}, fmt.Errorf("application %q: %w", application, artifact.ErrApplicationNotFound)
}

func (c *Client) projectVersions(ctx context.Context, token string, project projectDTO) ([]versionDTO, error) {
	endpoint := "/api/v1/projects/" + strconv.FormatInt(project.ID, 10) + "/versions"
	var out envelope[[]versionDTO]
	if err := c.getJSON(ctx, token, "list_project_versions", endpoint, url.Values{"limit": {"-1"}}, &out); err != nil {
		return nil, err
	}
	for i := range out.Data {
		out.Data[i].Project = project
	}
	return out.Data, nil
}

// findVersion resolves ref. A missing application or version returns
// artifact.ErrApplicationNotFound.
func (c *Client) findVersion(ctx context.Context, token string, ref artifact.VersionRef) (versionDTO, error) {
	project, err := c.findProject(ctx, token, ref.Application)
	if err != nil {
		return versionDTO{}, err
	}
	versions, err := c.projectVersions(ctx, token, project)
	if err != nil {
		return versionDTO{}, err
	}
	for _, v := range versions {
		if v.Name == ref.Version {
			return v, nil
		}
	}
	return versionDTO{}, fmt.Errorf("version %q of application %q: %w", ref.Version, ref.Application, artifact.ErrApplicationNotFound)
}

func (c *Client) createVersion(ctx context.Context, token string, ref artifact.VersionRef) (versionDTO, error) {
	in := createVersionRequest{
		Name:            ref.Version,
		Description:     "created by dastctl",
		Active:          true,
		Committed:       true,
		IssueTemplateID: ref.Template,
		Project:         createProjectIn{Name: ref.Application, IssueTemplateID: ref.Template},
	}
	if project, err := c.findProject(ctx, token, ref.Application); err == nil {
		in.Project.ID = project.ID
	} else if !errors.Is(err, artifact.ErrApplicationNotFound) {
		return versionDTO{}, err
	}

	body, err := json.Marshal(in)
	if err != nil {
		return versionDTO{}, fmt.Errorf("failed to marshal version request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/projectVersions", nil, bytes.NewReader(body))
	if err != nil {
		return versionDTO{}, err
	}
	c.authorize(req, token)
	req.Header.Set("Content-Type", "application/json")

	var out envelope[versionDTO]
	if err := c.do(req, "create_version", &out); err != nil {
		return versionDTO{}, err
	}
	c.logger.Info(ctx, "Project version created", "application", ref.Application, "version", ref.Version, "id", out.Data.ID)
	return out.Data, nil
}

func (c *Client) getJSON(ctx context.Context, token, op, endpoint string, q url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, q, nil)
	if err != nil {
		return err
	}
	c.authorize(req, token)
	return c.do(req, op, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, q url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(u.Path, endpoint)
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) authorize(req *http.Request, token string) {
	req.Header.Set("Authorization", "FortifyToken "+token)
}

// do sends req and decodes a 2xx body into out when out is non-nil. 401 and
// 403 responses return artifact.ErrUnauthorized.
func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return shared.TransportError(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))
		return shared.TransportError(op, artifact.ErrUnauthorized).WithStatus(resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return shared.TransportError(op, fmt.Errorf("unexpected response %s: %s", resp.Status, strings.TrimSpace(string(data)))).
			WithStatus(resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return shared.TransportError(op, fmt.Errorf("failed to decode response: %w", err)).WithStatus(resp.StatusCode)
	}
	return nil
}

func toDomain(in []versionDTO) []artifact.ProjectVersion {
	out := make([]artifact.ProjectVersion, 0, len(in))
	for _, v := range in {
		out = append(out, v.toDomain())
	}
	return out
}
