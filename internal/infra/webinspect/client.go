// Package webinspect implements scanning.RemoteJobClient over the scanner
// service's REST API.
package webinspect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/dastctl/internal/domain/scanning"
	"github.com/ahrav/dastctl/internal/domain/shared"
	"github.com/ahrav/dastctl/pkg/common/logger"
)

var _ scanning.RemoteJobClient = (*Client)(nil)

// errorBodyLimit caps how much of an error response is kept for diagnostics.
const errorBodyLimit = 4 << 10

// Config locates the scanner and the local artifacts uploaded to it.
type Config struct {
	BaseURL      string
	SettingsDir  string
	PoliciesDir  string
	WebmacrosDir string
	// ExportDir receives exported results as <scan_name>.<format>.
	ExportDir string
}

// Client talks to one scanner instance.
type Client struct {
	baseURL    *url.URL
	cfg        Config
	httpClient *http.Client

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient creates a Client. httpClient is expected to carry any rate
// limiting the deployment needs.
func NewClient(cfg Config, httpClient *http.Client, logger *logger.Logger, tracer trace.Tracer) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, shared.ConfigurationError("webinspect_client", fmt.Errorf("invalid scanner url %q", cfg.BaseURL))
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    base,
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With("component", "webinspect_client", "scanner", base.Host),
		tracer:     tracer,
	}, nil
}

type policyDTO struct {
	UniqueID string `json:"uniqueId"`
	Name     string `json:"name"`
}

type scanIDResponse struct {
	ScanID string `json:"ScanId"`
}

type scanStatusResponse struct {
	ScanStatus string `json:"ScanStatus"`
}

type scanSummaryDTO struct {
	ID     string `json:"ID"`
	Name   string `json:"Name"`
	Status string `json:"Status"`
}

type scanOverrides struct {
	ScanName       string   `json:"ScanName"`
	StartURLs      []string `json:"StartUrls,omitempty"`
	StartOption    string   `json:"StartOption,omitempty"`
	CrawlAuditMode string   `json:"CrawlAuditMode,omitempty"`
	ScanScope      string   `json:"ScanScope,omitempty"`
	AllowedHosts   []string `json:"AllowedHosts,omitempty"`
	PolicyID       string   `json:"PolicyId,omitempty"`
	LoginMacro     string   `json:"LoginMacro,omitempty"`
	WorkflowMacros []string `json:"WorkflowMacros,omitempty"`
}

type createScanRequest struct {
	SettingsName string        `json:"settingsName"`
	Overrides    scanOverrides `json:"overrides"`
}

var crawlAuditModes = map[scanning.ScanMode]string{
	scanning.ScanModeCrawl: "CrawlOnly",
	scanning.ScanModeScan:  "AuditOnly",
	scanning.ScanModeAll:   "CrawlAndAudit",
}

var scanScopes = map[scanning.ScanScope]string{
	scanning.ScanScopeAll:       "Unrestricted",
	scanning.ScanScopeStrict:    "Self",
	scanning.ScanScopeChildren:  "Children",
	scanning.ScanScopeAncestors: "Ancestors",
}

var startOptions = map[scanning.ScanStart]string{
	scanning.ScanStartURL:   "Url",
	scanning.ScanStartMacro: "Macro",
}

func newCreateScanRequest(sub scanning.ScanSubmission) createScanRequest {
	req := sub.Request
	return createScanRequest{
		SettingsName: req.Settings(),
		Overrides: scanOverrides{
			ScanName:       req.ScanName(),
			StartURLs:      req.StartURLs(),
			StartOption:    startOptions[req.Start()],
			CrawlAuditMode: crawlAuditModes[req.Mode()],
			ScanScope:      scanScopes[req.Scope()],
			AllowedHosts:   req.AllowedHosts(),
			PolicyID:       sub.Policy.ID(),
			LoginMacro:     req.LoginMacro(),
			WorkflowMacros: req.WorkflowMacros(),
		},
	}
}

// ListBuiltinPolicies returns the policies shipped with the scanner.
func (c *Client) ListBuiltinPolicies(ctx context.Context) ([]scanning.PolicyDescriptor, error) {
	var dtos []policyDTO
	q := url.Values{"type": {"builtin"}}
	if err := c.getJSON(ctx, "list_builtin_policies", "/webinspect/securebase/policy", q, &dtos); err != nil {
		return nil, err
	}
	out := make([]scanning.PolicyDescriptor, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, scanning.PolicyDescriptor{ID: d.UniqueID, Name: d.Name})
	}
	return out, nil
}

// PolicyExists reports whether the policy with id is present.
func (c *Client) PolicyExists(ctx context.Context, id string) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "webinspect_client.policy_exists",
		trace.WithAttributes(attribute.String("policy_id", id)))
	defer span.End()

	resp, err := c.send(ctx, "policy_exists", http.MethodGet, "/webinspect/securebase/policy/"+url.PathEscape(id), nil, nil, "")
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		err := responseError("policy_exists", resp)
		span.RecordError(err)
		return false, err
	}
}

// GetPolicyByName looks a policy up by name, ignoring case.
func (c *Client) GetPolicyByName(ctx context.Context, name string) (scanning.PolicyDescriptor, bool, error) {
	var dtos []policyDTO
	q := url.Values{"name": {name}}
	if err := c.getJSON(ctx, "get_policy_by_name", "/webinspect/securebase/policy", q, &dtos); err != nil {
		return scanning.PolicyDescriptor{}, false, err
	}
	for _, d := range dtos {
		if strings.EqualFold(d.Name, name) {
			return scanning.PolicyDescriptor{ID: d.UniqueID, Name: d.Name}, true, nil
		}
	}
	return scanning.PolicyDescriptor{}, false, nil
}

// UploadPolicy uploads <PoliciesDir>/<name>.policy.
func (c *Client) UploadPolicy(ctx context.Context, name string) error {
	return c.upload(ctx, "upload_policy", "/webinspect/securebase/policy", localArtifact(c.cfg.PoliciesDir, name, ".policy"))
}

// UploadSettings uploads <SettingsDir>/<name>.xml.
func (c *Client) UploadSettings(ctx context.Context, name string) error {
	return c.upload(ctx, "upload_settings", "/webinspect/scanner/settings", localArtifact(c.cfg.SettingsDir, name, ".xml"))
}

// UploadWebmacro uploads <WebmacrosDir>/<name>.webmacro.
func (c *Client) UploadWebmacro(ctx context.Context, name string) error {
	return c.upload(ctx, "upload_webmacro", "/webinspect/scanner/macro", localArtifact(c.cfg.WebmacrosDir, name, ".webmacro"))
}

// CreateJob submits the scan.
func (c *Client) CreateJob(ctx context.Context, sub scanning.ScanSubmission) (string, error) {
	ctx, span := c.tracer.Start(ctx, "webinspect_client.create_job",
		trace.WithAttributes(
			attribute.String("scan_name", sub.Request.ScanName()),
			attribute.String("policy", sub.Policy.String()),
		))
	defer span.End()

	body, err := json.Marshal(newCreateScanRequest(sub))
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal scan request: %w", err)
	}

	var out scanIDResponse
	if err := c.doJSON(ctx, "create_job", http.MethodPost, "/webinspect/scanner/scans", nil,
		bytes.NewReader(body), "application/json", &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create scan")
		return "", err
	}
	if out.ScanID == "" {
		err := shared.TransportError("create_job", errors.New("scanner returned an empty scan id"))
		span.RecordError(err)
		return "", err
	}

	span.SetAttributes(attribute.String("scan_id", out.ScanID))
	c.logger.Info(ctx, "Scan created", "scan_id", out.ScanID, "scan_name", sub.Request.ScanName())
	return out.ScanID, nil
}

// GetStatus returns the scan's current status.
func (c *Client) GetStatus(ctx context.Context, jobID string) (scanning.ScanStatus, error) {
	var out scanStatusResponse
	q := url.Values{"action": {"GetCurrentStatus"}}
	if err := c.getJSON(ctx, "get_status", "/webinspect/scanner/scans/"+url.PathEscape(jobID), q, &out); err != nil {
		return "", err
	}
	return scanning.ParseScanStatus(out.ScanStatus), nil
}

// GetLog returns the scan log as text.
func (c *Client) GetLog(ctx context.Context, jobID string) (string, error) {
	resp, err := c.expectOK(ctx, "get_log", http.MethodGet, "/webinspect/scanner/scans/"+url.PathEscape(jobID)+"/log", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", shared.TransportError("get_log", err)
	}
	return string(data), nil
}

// GetIssues returns the scan's findings.
func (c *Client) GetIssues(ctx context.Context, jobID string) ([]scanning.Issue, error) {
	var out []scanning.Issue
	if err := c.getJSON(ctx, "get_issues", "/webinspect/scanner/scans/"+url.PathEscape(jobID)+"/vulnerabilities", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExportResults downloads the results and writes them to
// <ExportDir>/<scanName>.<format>.
func (c *Client) ExportResults(ctx context.Context, jobID, scanName string, format scanning.ExportFormat) (string, error) {
	ctx, span := c.tracer.Start(ctx, "webinspect_client.export_results",
		trace.WithAttributes(
			attribute.String("scan_id", jobID),
			attribute.String("format", format.String()),
		))
	defer span.End()

	q := url.Values{"detailType": {"Full"}}
	resp, err := c.expectOK(ctx, "export_results", http.MethodGet,
		"/webinspect/scanner/scans/"+url.PathEscape(jobID)+"."+format.String(), q)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	defer resp.Body.Close()

	if c.cfg.ExportDir != "" {
		if err := os.MkdirAll(c.cfg.ExportDir, 0o755); err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("failed to create export dir: %w", err)
		}
	}
	dest := filepath.Join(c.cfg.ExportDir, scanName+"."+format.String())
	f, err := os.Create(dest)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to create export file %s: %w", dest, err)
	}

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		span.RecordError(err)
		// A truncated export must not be picked up by a later upload.
		if rerr := os.Remove(dest); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			c.logger.Warn(ctx, "Failed to remove partial export", "path", dest, "error", rerr)
		}
		return "", shared.TransportError("export_results", fmt.Errorf("writing %s: %w", dest, err))
	}

	span.SetAttributes(attribute.Int64("bytes_written", n))
	return dest, nil
}

// ListScans lists scans, filtered by name when name is set.
func (c *Client) ListScans(ctx context.Context, name string) ([]scanning.ScanSummary, error) {
	var q url.Values
	if name != "" {
		q = url.Values{"name": {name}}
	}
	var dtos []scanSummaryDTO
	if err := c.getJSON(ctx, "list_scans", "/webinspect/scanner/scans", q, &dtos); err != nil {
		return nil, err
	}
	out := make([]scanning.ScanSummary, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, scanning.ScanSummary{ID: d.ID, Name: d.Name, Status: scanning.ParseScanStatus(d.Status)})
	}
	return out, nil
}

// localArtifact returns the file uploaded for name. Names that already carry
// an extension or a directory are used as given.
func localArtifact(dir, name, ext string) string {
	if filepath.Ext(name) == "" {
		name += ext
	}
	if filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator) {
		return name
	}
	return filepath.Join(dir, name)
}

func (c *Client) upload(ctx context.Context, op, endpoint, file string) error {
	ctx, span := c.tracer.Start(ctx, "webinspect_client."+op,
		trace.WithAttributes(attribute.String("file", file)))
	defer span.End()

	data, err := os.ReadFile(file)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", file, scanning.ErrArtifactNotFound)
		}
		return fmt.Errorf("failed to read %s: %w", file, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(file))
	if err != nil {
		return fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to build upload form: %w", err)
	}

	resp, err := c.send(ctx, op, http.MethodPost, endpoint, nil, &body, mw.FormDataContentType())
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := responseError(op, resp)
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload rejected")
		return err
	}
	c.logger.Debug(ctx, "Uploaded artifact", "file", file, "endpoint", endpoint)
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, q url.Values, out any) error {
	return c.doJSON(ctx, op, http.MethodGet, endpoint, q, nil, "", out)
}

func (c *Client) doJSON(
	ctx context.Context,
	op, method, endpoint string,
	q url.Values,
	body io.Reader,
	contentType string,
	out any,
) error {
	ctx, span := c.tracer.Start(ctx, "webinspect_client."+op,
		trace.WithAttributes(attribute.String("endpoint", endpoint)))
	defer span.End()

	resp, err := c.send(ctx, op, method, endpoint, q, body, contentType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := responseError(op, resp)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected response")
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode response")
		return shared.TransportError(op, fmt.Errorf("failed to decode response: %w", err)).WithStatus(resp.StatusCode)
	}
	return nil
}

func (c *Client) expectOK(ctx context.Context, op, method, endpoint string, q url.Values) (*http.Response, error) {
	resp, err := c.send(ctx, op, method, endpoint, q, nil, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, responseError(op, resp)
	}
	return resp, nil
}

// send issues the request. Only failures to get any response are returned
// as errors; the caller inspects the status code.
func (c *Client) send(
	ctx context.Context,
	op, method, endpoint string,
	q url.Values,
	body io.Reader,
	contentType string,
) (*http.Response, error) {
	u := *c.baseURL
	u.Path = path.Join(u.Path, endpoint)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, shared.TransportError(op, err)
	}
	return resp, nil
}

func responseError(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	return shared.TransportError(op, fmt.Errorf("unexpected response %s: %s", resp.Status, strings.TrimSpace(string(data)))).
		WithStatus(resp.StatusCode)
}
