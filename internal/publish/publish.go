// Package publish posts finished review comments to a GitHub pull request
// through the REST API. Line-anchored comments land on the PR's head commit,
// zero-line comments become file-level review comments, and comments without
// a file fall back to plain PR conversation comments.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dictumlabs/dictum/internal/segment"
)

const defaultBaseURL = "https://api.github.com"

// Comment is one remark ready for publication.
type Comment struct {
	// Path is the repository-relative file, empty for a remark on the PR
	// itself.
	Path string

	// Line anchors the comment in the file's current version. Zero means
	// file-level.
	Line int

	// Text is the polished comment body.
	Text string

	// Classification, when set, is rendered as a bold prefix so readers see
	// the intent at a glance.
	Classification segment.Classification
}

// Result pairs one submitted comment with its outcome.
type Result struct {
	Comment Comment

	// URL is the created comment's web address when posting succeeded.
	URL string

	Err error
}

// Publisher is a GitHub REST client scoped to posting review comments.
type Publisher struct {
	client  *http.Client
	baseURL string
	token   string
}

// Option adjusts a Publisher.
type Option func(*Publisher)

// WithBaseURL points the publisher at a GitHub Enterprise or test server.
func WithBaseURL(u string) Option {
	return func(p *Publisher) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the default 30s-timeout client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Publisher) {
		if c != nil {
			p.client = c
		}
	}
}

// New builds a Publisher. The token is required.
func New(token string, opts ...Option) (*Publisher, error) {
	if token == "" {
		return nil, fmt.Errorf("publish: token is required")
	}
	p := &Publisher{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: defaultBaseURL,
		token:   token,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Publish posts each comment to the pull request, continuing past individual
// failures. The returned slice holds one Result per input comment in order.
// The error is non-nil only when publishing could not start at all, such as a
// malformed repo or an unreachable PR.
func (p *Publisher) Publish(ctx context.Context, repo string, pull int, comments []Comment) ([]Result, error) {
	if err := checkRepo(repo); err != nil {
		return nil, err
	}
	if len(comments) == 0 {
		return []Result{}, nil
	}

	sha, err := p.pullHeadSHA(ctx, repo, pull)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(comments))
	for i, c := range comments {
		url, err := p.postComment(ctx, repo, pull, sha, c)
		results[i] = Result{Comment: c, URL: url, Err: err}
	}
	return results, nil
}

// pullHeadSHA fetches the PR's current head commit, which anchors review
// comments to the version the reviewer was looking at.
func (p *Publisher) pullHeadSHA(ctx context.Context, repo string, pull int) (string, error) {
	var pr struct {
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
	}
	if err := p.getJSON(ctx, fmt.Sprintf("/repos/%s/pulls/%d", repo, pull), &pr); err != nil {
		return "", fmt.Errorf("publish: fetch PR #%d: %w", pull, err)
	}
	if pr.Head.SHA == "" {
		return "", fmt.Errorf("publish: PR #%d has no head SHA", pull)
	}
	return pr.Head.SHA, nil
}

func (p *Publisher) postComment(ctx context.Context, repo string, pull int, sha string, c Comment) (string, error) {
	var endpoint string
	var payload map[string]any

	switch {
	case c.Path == "":
		endpoint = fmt.Sprintf("/repos/%s/issues/%d/comments", repo, pull)
		payload = map[string]any{"body": renderBody(c)}
	case c.Line <= 0:
		endpoint = fmt.Sprintf("/repos/%s/pulls/%d/comments", repo, pull)
		payload = map[string]any{
			"body":         renderBody(c),
			"commit_id":    sha,
			"path":         c.Path,
			"subject_type": "file",
		}
	default:
		endpoint = fmt.Sprintf("/repos/%s/pulls/%d/comments", repo, pull)
		payload = map[string]any{
			"body":      renderBody(c),
			"commit_id": sha,
			"path":      c.Path,
			"line":      c.Line,
			"side":      "RIGHT",
		}
	}

	var created struct {
		HTMLURL string `json:"html_url"`
	}
	if err := p.postJSON(ctx, endpoint, payload, &created); err != nil {
		return "", fmt.Errorf("publish: post comment on %s: %w", describeTarget(c), err)
	}
	return created.HTMLURL, nil
}

// renderBody formats the comment for GitHub markdown.
func renderBody(c Comment) string {
	if c.Classification == "" {
		return c.Text
	}
	return fmt.Sprintf("**%s:** %s", c.Classification, c.Text)
}

func describeTarget(c Comment) string {
	switch {
	case c.Path == "":
		return "the pull request"
	case c.Line <= 0:
		return c.Path
	default:
		return fmt.Sprintf("%s:%d", c.Path, c.Line)
	}
}

func checkRepo(repo string) error {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("publish: repo %q is not owner/name", repo)
	}
	return nil
}

func (p *Publisher) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := p.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *Publisher) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := p.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (p *Publisher) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "dictum")
	req.Header.Set("Authorization", "Bearer "+p.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
