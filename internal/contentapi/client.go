// Package contentapi is the only component that talks to the network. It
// wraps the branch scoped GitHub repository contents API: get, list,
// create-or-update and delete of a path.
//
// Not found is never an error at this level: Get and Delete return an empty
// optional.Option and List an empty slice.
package contentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/maruel/ghdocs/internal/codec"
	"github.com/maruel/ghdocs/internal/optional"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public GitHub REST endpoint.
	DefaultBaseURL = "https://api.github.com"
	// DefaultMessage is the commit message used when a caller passes none.
	DefaultMessage = "Edited with Sapphire CMS"

	apiVersion = "2022-11-28"
)

// ItemType is the kind of a repository entry.
type ItemType string

// Entry types returned by the contents API.
const (
	TypeFile      ItemType = "file"
	TypeDir       ItemType = "dir"
	TypeSymlink   ItemType = "symlink"
	TypeSubmodule ItemType = "submodule"
)

// Entry is one child of a directory listing.
type Entry struct {
	Type ItemType `json:"type"`
	Name string   `json:"name"`
	Path string   `json:"path"`
	SHA  string   `json:"sha"`
	Size int64    `json:"size"`
}

// Item is the content at a path: a file with its revision and base64 body,
// or a directory with its entries.
type Item struct {
	Entry
	Encoding string  `json:"encoding,omitempty"`
	Content  string  `json:"content,omitempty"`
	Entries  []Entry `json:"-"`
}

// Options configures a Client.
type Options struct {
	Owner string
	Repo  string
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// Limiter, if set, paces every request.
	Limiter *rate.Limiter
	// DefaultMessage defaults to DefaultMessage.
	DefaultMessage string
}

// Client accesses the contents of one repository.
//
// It holds no mutable state and is safe for concurrent use.
type Client struct {
	httpClient     *http.Client
	owner          string
	repo           string
	baseURL        string
	limiter        *rate.Limiter
	defaultMessage string
}

// New creates a Client. httpClient carries authentication; see package githubapp.
func New(httpClient *http.Client, opts Options) (*Client, error) {
	if opts.Owner == "" {
		return nil, errors.New("owner is required")
	}
	if opts.Repo == "" {
		return nil, errors.New("repo is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		httpClient:     httpClient,
		owner:          opts.Owner,
		repo:           opts.Repo,
		baseURL:        strings.TrimSuffix(opts.BaseURL, "/"),
		limiter:        opts.Limiter,
		defaultMessage: opts.DefaultMessage,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.defaultMessage == "" {
		c.defaultMessage = DefaultMessage
	}
	return c, nil
}

// Get returns the item at p on branch, or None if it does not exist.
func (c *Client) Get(ctx context.Context, branch, p string) (optional.Option[Item], error) {
	item, err := c.getContent(ctx, branch, p)
	if err != nil {
		return recoverNotFound(optional.None[Item](), err, optional.None[Item]())
	}
	return optional.Some(*item), nil
}

// List returns the entries of the directory p on branch. A missing directory
// has no entries.
func (c *Client) List(ctx context.Context, branch, p string) ([]Entry, error) {
	item, err := c.getContent(ctx, branch, p)
	if err != nil {
		return recoverNotFound[[]Entry](nil, err, []Entry{})
	}
	if item.Type != TypeDir {
		return nil, fmt.Errorf("list %s: %w", p, ErrNotDirectory)
	}
	return item.Entries, nil
}

// Save writes contentBase64 at p on branch.
//
// The write is skipped when the stored content is identical once whitespace
// is removed from both sides. When the file exists its revision is sent so
// that a concurrent update makes the store reject this one.
func (c *Client) Save(ctx context.Context, branch, p, contentBase64, message string) error {
	current, err := c.Get(ctx, branch, p)
	if err != nil {
		return err
	}
	content := codec.StripWhitespace(contentBase64)
	req := putRequest{
		Message: c.message(message),
		Content: content,
		Branch:  branch,
	}
	if item, ok := current.Get(); ok {
		if codec.StripWhitespace(item.Content) == content {
			slog.InfoContext(ctx, "Content is identical to already present, skip write", "branch", branch, "path", p)
			return nil
		}
		req.SHA = item.SHA
	}
	var resp commitResponse
	if err := c.do(ctx, "put", http.MethodPut, p, nil, &req, &resp); err != nil {
		return err
	}
	slog.DebugContext(ctx, "Saved content", "branch", branch, "path", p, "commit", resp.Commit.SHA)
	return nil
}

// Delete removes the file at p on branch and returns what it held. Deleting
// a missing file does nothing and returns None.
func (c *Client) Delete(ctx context.Context, branch, p, message string) (optional.Option[Item], error) {
	current, err := c.Get(ctx, branch, p)
	if err != nil {
		return optional.None[Item](), err
	}
	item, ok := current.Get()
	if !ok {
		return current, nil
	}
	req := deleteRequest{
		Message: c.message(message),
		SHA:     item.SHA,
		Branch:  branch,
	}
	var resp commitResponse
	if err := c.do(ctx, "delete", http.MethodDelete, p, nil, &req, &resp); err != nil {
		return optional.None[Item](), err
	}
	slog.DebugContext(ctx, "Deleted content", "branch", branch, "path", p, "commit", resp.Commit.SHA)
	return current, nil
}

// FetchJSON reads the file at p on branch and parses it as T.
//
// A missing file is None. Decoding failures are *codec.DecodingError,
// parsing failures *codec.ParsingError, everything else *TransportError.
func FetchJSON[T any](ctx context.Context, c *Client, branch, p string) (optional.Option[T], error) {
	current, err := c.Get(ctx, branch, p)
	if err != nil {
		return optional.None[T](), err
	}
	item, ok := current.Get()
	if !ok {
		return optional.None[T](), nil
	}
	raw, err := codec.DecodeBase64(item.Content)
	if err != nil {
		return optional.None[T](), err
	}
	v, err := codec.ParseJSON[T](raw)
	if err != nil {
		return optional.None[T](), err
	}
	return optional.Some(v), nil
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch"`
}

type deleteRequest struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

type commitResponse struct {
	Content *Entry `json:"content"`
	Commit  struct {
		SHA     string `json:"sha"`
		Message string `json:"message"`
	} `json:"commit"`
}

type apiError struct {
	Message string `json:"message"`
}

func (c *Client) message(m string) string {
	if m == "" {
		return c.defaultMessage
	}
	return m
}

// getContent fetches p on branch. The API returns an object for a file and
// an array for a directory.
func (c *Client) getContent(ctx context.Context, branch, p string) (*Item, error) {
	var raw json.RawMessage
	q := url.Values{"ref": {branch}}
	if err := c.do(ctx, "get", http.MethodGet, p, q, nil, &raw); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) != 0 && raw[0] == '[' {
		var entries []Entry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, &TransportError{Op: "get", Path: p, Err: fmt.Errorf("decode directory listing: %w", err)}
		}
		return &Item{Entry: Entry{Type: TypeDir, Name: lastSegment(p), Path: p}, Entries: entries}, nil
	}
	item := &Item{}
	if err := json.Unmarshal(raw, item); err != nil {
		return nil, &TransportError{Op: "get", Path: p, Err: fmt.Errorf("decode content: %w", err)}
	}
	return item, nil
}

// do sends one request and decodes a 2xx JSON response into out. Every
// failure is a *TransportError.
func (c *Client) do(ctx context.Context, op, method, p string, q url.Values, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &TransportError{Op: op, Path: p, Err: err}
		}
	}
	u := c.contentsURL(p)
	if len(q) != 0 {
		u += "?" + q.Encode()
	}
	body := io.Reader(http.NoBody)
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &TransportError{Op: op, Path: p, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return &TransportError{Op: op, Path: p, Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Path: p, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(b))
		var ae apiError
		if json.Unmarshal(b, &ae) == nil && ae.Message != "" {
			msg = ae.Message
		}
		return &TransportError{Op: op, Path: p, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, Path: p, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) contentsURL(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return c.baseURL + "/repos/" + url.PathEscape(c.owner) + "/" + url.PathEscape(c.repo) + "/contents/" + strings.Join(segs, "/")
}

func lastSegment(p string) string {
	p = strings.TrimSuffix(p, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
