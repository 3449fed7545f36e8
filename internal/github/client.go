// Package github is a minimal client for the GitHub contents and git data
// APIs, covering exactly what the snapshot store needs: read a file (current
// or at a ref), conditional single-file writes, atomic multi-file commits,
// and commit metadata lookups.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const (
	defaultBaseURL = "https://api.github.com"
	userAgent      = "spotify-activity-sync/1.0"

	// blobMode is the git tree mode for a regular file.
	blobMode = "100644"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a file, ref or commit does not exist.
	// An absent file is a recoverable condition, not a failure.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional write loses to a concurrent
	// modification. The caller decides whether to retry; the client never
	// retries a conflicted write on its own.
	ErrConflict = errors.New("version conflict")
)

// File is the content of a repository file together with its blob SHA, which
// acts as the version for conditional writes.
type File struct {
	Content []byte
	SHA     string
}

// FileChange is one file in an atomic multi-file commit.
type FileChange struct {
	Path    string
	Content []byte
}

// Commit is the metadata of one commit.
type Commit struct {
	SHA        string
	Message    string
	AuthorDate time.Time
	Parents    []string
}

// Client talks to the GitHub API for a single repository and branch.
type Client struct {
	token      string
	repo       string // "owner/name"
	branch     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root. Used by tests.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a client for the given repository ("owner/name") and
// branch, authenticated with a bearer token.
func NewClient(token, repo, branch string, opts ...Option) *Client {
	c := &Client{
		token:   token,
		repo:    repo,
		branch:  branch,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	SHA      string `json:"sha"`
}

// GetFile reads a file from the head of the configured branch. Returns
// ErrNotFound when the path does not exist.
func (c *Client) GetFile(ctx context.Context, path string) (File, error) {
	return c.getContents(ctx, path, "")
}

// GetFileAtRef reads a file as it existed at the given ref (commit SHA,
// branch or tag).
func (c *Client) GetFileAtRef(ctx context.Context, path, ref string) ([]byte, error) {
	file, err := c.getContents(ctx, path, ref)
	if err != nil {
		return nil, err
	}
	return file.Content, nil
}

func (c *Client) getContents(ctx context.Context, path, ref string) (File, error) {
	url := fmt.Sprintf("%s/repos/%s/contents/%s", c.baseURL, c.repo, path)
	if ref != "" {
		url += "?ref=" + ref
	}

	body, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return File{}, err
	}

	var resp contentsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return File{}, fmt.Errorf("parsing contents response: %w", err)
	}

	content, err := decodeContent(resp)
	if err != nil {
		return File{}, fmt.Errorf("decoding %s: %w", path, err)
	}

	return File{Content: content, SHA: resp.SHA}, nil
}

// decodeContent unpacks the base64 payload the contents API returns. GitHub
// wraps the base64 text with newlines.
func decodeContent(resp contentsResponse) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, resp.Content)

	return base64.StdEncoding.DecodeString(clean)
}

type putFileRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch,omitempty"`
	SHA     string `json:"sha,omitempty"`
}

type putFileResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// PutFile writes one file. When expectedSHA is non-empty the write only
// succeeds if the file's current blob SHA still matches; a mismatch returns
// ErrConflict. An empty expectedSHA creates the file.
func (c *Client) PutFile(ctx context.Context, path string, content []byte, message, expectedSHA string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/contents/%s", c.baseURL, c.repo, path)

	reqBody, err := json.Marshal(putFileRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  c.branch,
		SHA:     expectedSHA,
	})
	if err != nil {
		return "", fmt.Errorf("encoding put request: %w", err)
	}

	body, err := c.doRequest(ctx, http.MethodPut, url, reqBody)
	if err != nil {
		return "", err
	}

	var resp putFileResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parsing put response: %w", err)
	}

	return resp.Content.SHA, nil
}

type commitResponse struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Date string `json:"date"`
		} `json:"author"`
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	} `json:"commit"`
	Parents []struct {
		SHA string `json:"sha"`
	} `json:"parents"`
}

// GetCommit fetches the metadata of one commit.
func (c *Client) GetCommit(ctx context.Context, sha string) (Commit, error) {
	resp, err := c.getCommit(ctx, sha)
	if err != nil {
		return Commit{}, err
	}

	commit := Commit{
		SHA:     resp.SHA,
		Message: resp.Commit.Message,
	}
	for _, p := range resp.Parents {
		commit.Parents = append(commit.Parents, p.SHA)
	}
	if resp.Commit.Author.Date != "" {
		date, err := time.Parse(time.RFC3339, resp.Commit.Author.Date)
		if err != nil {
			return Commit{}, fmt.Errorf("parsing author date: %w", err)
		}
		commit.AuthorDate = date
	}

	return commit, nil
}

func (c *Client) getCommit(ctx context.Context, sha string) (commitResponse, error) {
	url := fmt.Sprintf("%s/repos/%s/commits/%s", c.baseURL, c.repo, sha)

	body, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return commitResponse{}, err
	}

	var resp commitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return commitResponse{}, fmt.Errorf("parsing commit response: %w", err)
	}
	return resp, nil
}

type refResponse struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type treeEntry struct {
	Path    string `json:"path"`
	Mode    string `json:"mode"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

type createTreeRequest struct {
	BaseTree string      `json:"base_tree"`
	Tree     []treeEntry `json:"tree"`
}

type createCommitRequest struct {
	Message string   `json:"message"`
	Tree    string   `json:"tree"`
	Parents []string `json:"parents"`
}

type shaResponse struct {
	SHA string `json:"sha"`
}

type updateRefRequest struct {
	SHA string `json:"sha"`
}

// PutFiles writes several files as one commit using the git data API: read
// the branch head, build a tree on top of it, commit, advance the ref. The
// ref update is the atomicity and concurrency guard; if another writer moved
// the branch in between, the fast-forward update fails with ErrConflict and
// nothing is partially written.
func (c *Client) PutFiles(ctx context.Context, files []FileChange, message string) (string, error) {
	// Branch head and its tree.
	refURL := fmt.Sprintf("%s/repos/%s/git/ref/heads/%s", c.baseURL, c.repo, c.branch)
	body, err := c.doRequest(ctx, http.MethodGet, refURL, nil)
	if err != nil {
		return "", fmt.Errorf("reading branch head: %w", err)
	}
	var ref refResponse
	if err := json.Unmarshal(body, &ref); err != nil {
		return "", fmt.Errorf("parsing ref response: %w", err)
	}
	headSHA := ref.Object.SHA

	head, err := c.getCommit(ctx, headSHA)
	if err != nil {
		return "", fmt.Errorf("reading head commit: %w", err)
	}

	// New tree on top of the head tree.
	entries := make([]treeEntry, len(files))
	for i, f := range files {
		entries[i] = treeEntry{
			Path:    f.Path,
			Mode:    blobMode,
			Type:    "blob",
			Content: string(f.Content),
		}
	}
	treeBody, err := json.Marshal(createTreeRequest{BaseTree: head.Commit.Tree.SHA, Tree: entries})
	if err != nil {
		return "", fmt.Errorf("encoding tree request: %w", err)
	}

	treeURL := fmt.Sprintf("%s/repos/%s/git/trees", c.baseURL, c.repo)
	body, err = c.doRequest(ctx, http.MethodPost, treeURL, treeBody)
	if err != nil {
		return "", fmt.Errorf("creating tree: %w", err)
	}
	var tree shaResponse
	if err := json.Unmarshal(body, &tree); err != nil {
		return "", fmt.Errorf("parsing tree response: %w", err)
	}

	// Commit pointing at the new tree.
	commitBody, err := json.Marshal(createCommitRequest{
		Message: message,
		Tree:    tree.SHA,
		Parents: []string{headSHA},
	})
	if err != nil {
		return "", fmt.Errorf("encoding commit request: %w", err)
	}

	commitURL := fmt.Sprintf("%s/repos/%s/git/commits", c.baseURL, c.repo)
	body, err = c.doRequest(ctx, http.MethodPost, commitURL, commitBody)
	if err != nil {
		return "", fmt.Errorf("creating commit: %w", err)
	}
	var commit shaResponse
	if err := json.Unmarshal(body, &commit); err != nil {
		return "", fmt.Errorf("parsing commit response: %w", err)
	}

	// Fast-forward the branch.
	updateBody, err := json.Marshal(updateRefRequest{SHA: commit.SHA})
	if err != nil {
		return "", fmt.Errorf("encoding ref update: %w", err)
	}

	updateURL := fmt.Sprintf("%s/repos/%s/git/refs/heads/%s", c.baseURL, c.repo, c.branch)
	if _, err := c.doRequest(ctx, http.MethodPatch, updateURL, updateBody); err != nil {
		return "", fmt.Errorf("advancing branch: %w", err)
	}

	return commit.SHA, nil
}

// doRequest performs one HTTP request with retry on rate limiting and server
// errors. Retries up to 3 times with exponential backoff (1s, 2s, 4s).
func (c *Client) doRequest(ctx context.Context, method, url string, reqBody []byte) ([]byte, error) {
	delays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	var lastErr error

	for attempt := 0; attempt <= len(delays); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delays[attempt-1]):
			}
		}

		body, retryable, err := c.doSingleRequest(ctx, method, url, reqBody)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

func (c *Client) doSingleRequest(ctx context.Context, method, url string, reqBody []byte) ([]byte, bool, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		bodyReader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, false, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("%w: %s %s", ErrNotFound, method, url)
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, false, fmt.Errorf("%w: %s", ErrConflict, apiMessage(body))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("github api status %d: %s", resp.StatusCode, apiMessage(body))
	default:
		return nil, false, fmt.Errorf("github api status %d: %s", resp.StatusCode, apiMessage(body))
	}
}

// apiMessage pulls the "message" field out of a GitHub error body.
func apiMessage(body []byte) string {
	var errResp struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return errResp.Message
	}
	return string(body)
}
