// Package contentapitest emulates the GitHub repository contents API in
// memory for tests.
//
// Each branch is an in-memory filesystem. Revisions are git blob hashes, so
// they change exactly when content changes, like on GitHub. Writes are
// checked against the revision the way GitHub does: updating an existing
// file without a sha is rejected with 422, a stale sha with 409.
package contentapitest

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing"
)

// Commit records one mutation accepted by the server.
type Commit struct {
	Method  string // PUT or DELETE
	Branch  string
	Path    string
	Message string
	SHA     string // sha sent by the client, empty on create
}

// Server is a fake contents API for a single repository.
type Server struct {
	*httptest.Server
	Owner string
	Repo  string
	// DefaultBranch is used when a request does not name a branch.
	DefaultBranch string

	mu       sync.Mutex
	branches map[string]billy.Filesystem
	commits  []Commit
	requests map[string]int
	failures []failure
	token    string
}

type failure struct {
	method  string
	status  int
	message string
}

// NewServer starts a fake server; it is closed when the test ends.
func NewServer(t testing.TB, owner, repo string) *Server {
	t.Helper()
	s := &Server{
		Owner:         owner,
		Repo:          repo,
		DefaultBranch: "master",
		branches:      map[string]billy.Filesystem{},
		requests:      map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.Close)
	return s
}

// BlobSHA is the git blob hash of data, which is the revision GitHub reports
// for a file.
func BlobSHA(data []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, data).String()
}

// WriteFile stores data without recording a commit.
func (s *Server) WriteFile(branch, p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeLocked(branch, p, data); err != nil {
		panic(err)
	}
}

// Mkdir creates an empty directory, something git itself cannot hold but
// which lets tests cover folders without files.
func (s *Server) Mkdir(branch, p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs(branch).MkdirAll(p, 0o755); err != nil {
		panic(err)
	}
}

// ReadFile returns the content stored at p.
func (s *Server) ReadFile(branch, p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := util.ReadFile(s.fs(branch), p)
	if err != nil {
		return nil, false
	}
	return b, true
}

// Commits returns every accepted mutation in order.
func (s *Server) Commits() []Commit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Commit(nil), s.commits...)
}

// RequestCount returns how many requests with method were received.
func (s *Server) RequestCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method]
}

// FailNext makes the next request with method fail with status.
func (s *Server) FailNext(method string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{method: method, status: status, message: message})
}

// RequireToken makes every request without "Bearer <token>" fail with 401.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *Server) fs(branch string) billy.Filesystem {
	if branch == "" {
		branch = s.DefaultBranch
	}
	f, ok := s.branches[branch]
	if !ok {
		f = memfs.New()
		s.branches[branch] = f
	}
	return f
}

func (s *Server) writeLocked(branch, p string, data []byte) error {
	f := s.fs(branch)
	if dir := path.Dir(p); dir != "." {
		if err := f.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return util.WriteFile(f, p, data, 0o644)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.Method]++

	if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
		writeError(w, http.StatusUnauthorized, "Bad credentials")
		return
	}
	for i, f := range s.failures {
		if f.method == r.Method {
			s.failures = append(s.failures[:i], s.failures[i+1:]...)
			writeError(w, f.status, f.message)
			return
		}
	}

	prefix := "/repos/" + s.Owner + "/" + s.Repo + "/contents"
	if r.URL.Path != prefix && !strings.HasPrefix(r.URL.Path, prefix+"/") {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	p := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")

	switch r.Method {
	case http.MethodGet:
		s.get(w, r.URL.Query().Get("ref"), p)
	case http.MethodPut:
		s.put(w, r, p)
	case http.MethodDelete:
		s.delete(w, r, p)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	}
}

type entry struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding,omitempty"`
	Content  string `json:"content,omitempty"`
}

func (s *Server) get(w http.ResponseWriter, branch, p string) {
	f := s.fs(branch)
	fsPath := p
	if fsPath == "" {
		fsPath = "/"
	}
	fi, err := f.Stat(fsPath)
	if err != nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if !fi.IsDir() {
		data, err := util.ReadFile(f, p)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, entry{
			Type:     "file",
			Name:     path.Base(p),
			Path:     p,
			SHA:      BlobSHA(data),
			Size:     int64(len(data)),
			Encoding: "base64",
			Content:  wrap60(base64.StdEncoding.EncodeToString(data)),
		})
		return
	}
	infos, err := f.ReadDir(fsPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	entries := make([]entry, 0, len(infos))
	for _, info := range infos {
		child := path.Join(p, info.Name())
		e := entry{Name: info.Name(), Path: child}
		if info.IsDir() {
			e.Type = "dir"
			e.SHA = plumbing.ComputeHash(plumbing.TreeObject, []byte(child)).String()
		} else {
			data, _ := util.ReadFile(f, child)
			e.Type = "file"
			e.SHA = BlobSHA(data)
			e.Size = int64(len(data))
		}
		entries = append(entries, e)
	}
	writeJSON(w, http.StatusOK, entries)
}

type writeRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

func (s *Server) put(w http.ResponseWriter, r *http.Request, p string) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request.\n\n\"message\" wasn't supplied.")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "content is not valid Base64")
		return
	}
	f := s.fs(req.Branch)
	status := http.StatusCreated
	if fi, err := f.Stat(p); err == nil {
		if fi.IsDir() {
			writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("%s is a directory", p))
			return
		}
		cur, _ := util.ReadFile(f, p)
		switch req.SHA {
		case "":
			writeError(w, http.StatusUnprocessableEntity, "Invalid request.\n\n\"sha\" wasn't supplied.")
			return
		case BlobSHA(cur):
		default:
			writeError(w, http.StatusConflict, fmt.Sprintf("%s does not match %s", p, req.SHA))
			return
		}
		status = http.StatusOK
	}
	if err := s.writeLocked(req.Branch, p, data); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.commits = append(s.commits, Commit{Method: http.MethodPut, Branch: req.Branch, Path: p, Message: req.Message, SHA: req.SHA})
	writeJSON(w, status, map[string]any{
		"content": entry{Type: "file", Name: path.Base(p), Path: p, SHA: BlobSHA(data), Size: int64(len(data))},
		"commit":  map[string]string{"sha": s.commitSHA(), "message": req.Message},
	})
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request, p string) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	f := s.fs(req.Branch)
	fi, err := f.Stat(p)
	if err != nil || fi.IsDir() {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if req.SHA == "" {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request.\n\n\"sha\" wasn't supplied.")
		return
	}
	cur, _ := util.ReadFile(f, p)
	if req.SHA != BlobSHA(cur) {
		writeError(w, http.StatusConflict, fmt.Sprintf("%s does not match %s", p, req.SHA))
		return
	}
	if err := f.Remove(p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pruneEmptyParents(f, path.Dir(p))
	s.commits = append(s.commits, Commit{Method: http.MethodDelete, Branch: req.Branch, Path: p, Message: req.Message, SHA: req.SHA})
	writeJSON(w, http.StatusOK, map[string]any{
		"content": nil,
		"commit":  map[string]string{"sha": s.commitSHA(), "message": req.Message},
	})
}

func (s *Server) commitSHA() string {
	return plumbing.ComputeHash(plumbing.CommitObject, fmt.Appendf(nil, "commit %d", len(s.commits))).String()
}

// pruneEmptyParents removes directories left empty, since git does not
// track directories.
func pruneEmptyParents(f billy.Filesystem, dir string) {
	for dir != "." && dir != "/" && dir != "" {
		infos, err := f.ReadDir(dir)
		if err != nil || len(infos) != 0 {
			return
		}
		if err := f.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			return
		}
		dir = path.Dir(dir)
	}
}

// wrap60 formats base64 the way the contents API does: 60 columns per line.
func wrap60(s string) string {
	var b strings.Builder
	for len(s) > 60 {
		b.WriteString(s[:60])
		b.WriteByte('\n')
		s = s[60:]
	}
	b.WriteString(s)
	b.WriteByte('\n')
	return b.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"message":           message,
		"documentation_url": "https://docs.github.com/rest/repos/contents",
	})
}
