// Package github resolves repository contributors through the GitHub REST
// API, on github.com or a GitHub Enterprise host.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/dastctl/internal/domain/contributor"
	"github.com/ahrav/dastctl/internal/domain/shared"
	"github.com/ahrav/dastctl/pkg/common"
	"github.com/ahrav/dastctl/pkg/common/logger"
)

var _ contributor.EmailSource = (*Client)(nil)

const (
	publicHost    = "github.com"
	publicAPIBase = "https://api.github.com"
	pageSize      = 100
)

// Client is a rate-limited, traced GitHub REST client.
type Client struct {
	httpClient  *http.Client
	rateLimiter *common.RateLimiter
	token       string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewClient creates a Client. token may be empty for public repositories.
func NewClient(httpClient *http.Client, token string, logger *logger.Logger, tracer trace.Tracer) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	// Unauthenticated callers get 60 requests an hour; authenticated ones
	// 5000. Start at roughly 4500/hour and let the response headers steer.
	return &Client{
		httpClient:  httpClient,
		rateLimiter: common.NewRateLimiter(1.25, 5),
		token:       token,
		logger:      logger.With("component", "github_client"),
		tracer:      tracer,
	}
}

type contributorDTO struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

type userDTO struct {
	Login string  `json:"login"`
	Email *string `json:"email"`
}

// apiBase returns the REST root for the host a repository lives on.
func apiBase(repo contributor.Repository) string {
	if u, err := url.Parse(repo.Host); err == nil && strings.EqualFold(u.Host, publicHost) {
		return publicAPIBase
	}
	return strings.TrimSuffix(repo.Host, "/") + "/api/v3"
}

// ContributorEmails returns the public email of every user who contributed to
// repo, in contribution order and without duplicates. Bots and users without a
// public email are skipped.
func (c *Client) ContributorEmails(ctx context.Context, repo contributor.Repository) ([]string, error) {
	ctx, span := c.tracer.Start(ctx, "github_client.contributor_emails",
		trace.WithAttributes(attribute.String("repository", repo.String())))
	defer span.End()

	logins, err := c.contributors(ctx, repo)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list contributors")
		return nil, err
	}

	seen := make(map[string]struct{}, len(logins))
	emails := make([]string, 0, len(logins))
	for _, login := range logins {
		var user userDTO
		endpoint := apiBase(repo) + "/users/" + url.PathEscape(login)
		if err := c.getJSON(ctx, "get_user", endpoint, nil, &user); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to get user")
			return nil, err
		}
		if user.Email == nil || *user.Email == "" {
			continue
		}
		key := strings.ToLower(*user.Email)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		emails = append(emails, *user.Email)
	}

	span.SetAttributes(
		attribute.Int("contributors", len(logins)),
		attribute.Int("emails", len(emails)),
	)
	c.logger.Debug(ctx, "Resolved contributor emails",
		"repository", repo.String(), "contributors", len(logins), "emails", len(emails))
	return emails, nil
}

// contributors pages through the repository's contributors and returns the
// logins of human accounts.
func (c *Client) contributors(ctx context.Context, repo contributor.Repository) ([]string, error) {
	endpoint := apiBase(repo) + "/repos/" + url.PathEscape(repo.Owner) + "/" + url.PathEscape(repo.Name) + "/contributors"

	var logins []string
	for page := 1; ; page++ {
		q := url.Values{
			"per_page": {strconv.Itoa(pageSize)},
			"page":     {strconv.Itoa(page)},
		}
		var batch []contributorDTO
		if err := c.getJSON(ctx, "list_contributors", endpoint, q, &batch); err != nil {
			if shared.StatusOf(err) == http.StatusNotFound {
				return nil, shared.ConfigurationError("list_contributors",
					fmt.Errorf("%s: %w", repo, contributor.ErrRepositoryNotFound))
			}
			return nil, err
		}
		for _, ct := range batch {
			if ct.Type == "Bot" || ct.Login == "" {
				continue
			}
			logins = append(logins, ct.Login)
		}
		if len(batch) < pageSize {
			return logins, nil
		}
	}
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, q url.Values, out any) error {
	ctx, span := c.tracer.Start(ctx, "github_client."+op,
		trace.WithAttributes(attribute.String("endpoint", endpoint)))
	defer span.End()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return shared.TransportError(op, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(
		attribute.Int("status_code", resp.StatusCode),
		attribute.String("status", resp.Status),
	)
	c.updateRateLimits(resp.Header)

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		err := shared.TransportError(op,
			fmt.Errorf("unexpected response %s: %s", resp.Status, strings.TrimSpace(string(data)))).
			WithStatus(resp.StatusCode)
		span.RecordError(err)
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		return shared.TransportError(op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// updateRateLimits spreads the remaining quota reported by the X-RateLimit
// headers over the time left until the window resets, keeping 10% spare.
func (c *Client) updateRateLimits(headers http.Header) {
	remaining, _ := strconv.ParseInt(headers.Get("X-RateLimit-Remaining"), 10, 64)
	reset, _ := strconv.ParseInt(headers.Get("X-RateLimit-Reset"), 10, 64)
	limit, _ := strconv.ParseInt(headers.Get("X-RateLimit-Limit"), 10, 64)

	if remaining <= 0 || reset <= 0 || limit <= 0 {
		return
	}
	window := time.Until(time.Unix(reset, 0))
	if window <= 0 {
		return
	}
	rps := float64(remaining) / window.Seconds()
	c.rateLimiter.UpdateLimits(rps*0.9, max(int(remaining/10), 1))
}
