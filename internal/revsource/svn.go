package revsource

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sha1n/svn-river/internal/domain"
)

// svn error codes, as printed on stderr ("svn: E170013: Unable to connect ...").
var (
	unreachableCodes = []string{
		"E170013", // unable to connect
		"E175002", // connection failure (ra_serf)
		"E175012", // connection timed out
		"E210002", // network connection closed unexpectedly
		"E215004", // authentication failed
		"E170001", // authorization failed
		"E120108", // server connection closed
		"E670002", // name or service not known
		"E731001", // host not known
	}
	revisionNotFoundCodes = []string{
		"E160006", // no such revision
		"E195012", // unable to find repository location
	}
	pathNotFoundCodes = []string{
		"E160013", // path not found
		"W160013",
		"E200009", // target does not exist
		"E170000", // illegal repository URL
		"E195017", // path refers to a directory
		"E200005", // not under version control
	}
	propertyNotFoundCode = "W200017"
	// pathMissingAtRevisionCode reports a path that does not exist at a revision.
	pathMissingAtRevisionCode = "E195012"
)

// SVNSource reads a Subversion repository through the svn command line client.
type SVNSource struct {
	executor CommandExecutor
	url      string
	path     string
	login    string
	password string

	mu    sync.Mutex
	root  string // repository root URL
	scope string // watched path relative to the root, e.g. "/module1"
}

// NewSVNSource creates a source for opts.URL + opts.Path.
func NewSVNSource(opts Options) (*SVNSource, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("repository URL cannot be empty")
	}
	executor := opts.Executor
	if executor == nil {
		executor = &DefaultExecutor{}
	}
	return &SVNSource{
		executor: executor,
		url:      strings.TrimRight(strings.TrimSpace(opts.URL), "/"),
		path:     domain.NormalizePath(opts.Path),
		login:    opts.Login,
		password: opts.Password,
	}, nil
}

// target is the watched URL.
func (s *SVNSource) target() string {
	if s.path == "/" {
		return s.url
	}
	return s.url + escapePath(s.path)
}

// run executes an svn subcommand with the common non-interactive and credential flags.
func (s *SVNSource) run(ctx context.Context, args ...string) ([]byte, error) {
	full := make([]string, 0, len(args)+6)
	full = append(full, args...)
	full = append(full, "--non-interactive", "--no-auth-cache")
	if s.login != "" {
		full = append(full, "--username", s.login, "--password", s.password)
	}
	return s.executor.Run(ctx, "", "svn", full...)
}

// LatestRevision returns the last changed revision of the watched path at HEAD.
func (s *SVNSource) LatestRevision(ctx context.Context) (domain.Revision, error) {
	info, err := s.info(ctx, s.target()+"@HEAD")
	if err != nil {
		return 0, classify(err, ErrPathNotFound)
	}
	if err := s.learnRoot(info); err != nil {
		return 0, err
	}
	return info.Commit.Revision, nil
}

// Log lists the commits of [from, to] that touched the watched path with one svn log.
func (s *SVNSource) Log(ctx context.Context, from, to domain.Revision) ([]domain.Commit, error) {
	commits, err := s.log(ctx, fmt.Sprintf("%d:%d", from, to))
	if err != nil {
		return nil, err
	}

	result := commits[:0]
	for _, c := range commits {
		if len(c.Changes) > 0 {
			result = append(result, c)
		}
	}
	return result, nil
}

// ChangedPaths returns the log entry of a single revision.
func (s *SVNSource) ChangedPaths(ctx context.Context, rev domain.Revision) (domain.Commit, error) {
	commits, err := s.log(ctx, strconv.FormatInt(rev, 10))
	if err != nil {
		return domain.Commit{}, err
	}
	for _, c := range commits {
		if c.Revision == rev {
			return c, nil
		}
	}
	return domain.Commit{Revision: rev}, nil
}

// log runs svn log over a revision range of the repository root and keeps the
// changed paths within the watched scope. The root exists at every revision,
// so a watched path created after the range start does not fail the range.
func (s *SVNSource) log(ctx context.Context, revisions string) ([]domain.Commit, error) {
	root, err := s.rootURL(ctx)
	if err != nil {
		return nil, err
	}
	scope, err := s.scopePath(ctx)
	if err != nil {
		return nil, err
	}

	output, err := s.run(ctx, "log", "--xml", "--verbose",
		"--revision", revisions,
		root+"@HEAD",
	)
	if err != nil {
		if hasCode(err, pathMissingAtRevisionCode) {
			return nil, nil
		}
		return nil, classify(err, ErrRevisionNotFound)
	}
	return parseLog(output, scope)
}

// Stat returns the kind and size of a root-relative path at a revision.
func (s *SVNSource) Stat(ctx context.Context, path string, rev domain.Revision) (EntryInfo, error) {
	target, err := s.entryURL(ctx, path, rev)
	if err != nil {
		return EntryInfo{}, err
	}

	output, err := s.run(ctx, "list", "--xml", "--depth", "empty", target)
	if err != nil {
		return EntryInfo{}, classify(err, ErrEntryNotFound)
	}

	var list svnList
	if err := xml.Unmarshal(output, &list); err != nil {
		return EntryInfo{}, fmt.Errorf("failed to parse svn list output: %w", err)
	}
	if len(list.Lists) == 0 || len(list.Lists[0].Entries) == 0 {
		return EntryInfo{}, fmt.Errorf("%s@%d: %w", path, rev, ErrEntryNotFound)
	}
	entry := list.Lists[0].Entries[0]
	return EntryInfo{Kind: EntryKind(entry.Kind), Size: entry.Size}, nil
}

// ReadEntry returns the content of a file and its svn:mime-type property.
func (s *SVNSource) ReadEntry(ctx context.Context, path string, rev domain.Revision) ([]byte, string, error) {
	target, err := s.entryURL(ctx, path, rev)
	if err != nil {
		return nil, "", err
	}

	content, err := s.run(ctx, "cat", target)
	if err != nil {
		return nil, "", classify(err, ErrEntryNotFound)
	}

	mime, err := s.run(ctx, "propget", "svn:mime-type", target)
	if err != nil && !hasCode(err, propertyNotFoundCode) {
		return nil, "", classify(err, ErrEntryNotFound)
	}

	return content, strings.TrimSpace(string(mime)), nil
}

// entryURL builds <root><path>@<rev>. The trailing peg revision also protects
// paths that contain '@'.
func (s *SVNSource) entryURL(ctx context.Context, path string, rev domain.Revision) (string, error) {
	root, err := s.rootURL(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s@%d", root, escapePath(domain.NormalizePath(path)), rev), nil
}

func (s *SVNSource) rootURL(ctx context.Context) (string, error) {
	if err := s.ensureRoot(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root, nil
}

func (s *SVNSource) scopePath(ctx context.Context) (string, error) {
	if err := s.ensureRoot(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope, nil
}

// ensureRoot discovers the repository root and the watched path relative to it.
func (s *SVNSource) ensureRoot(ctx context.Context) error {
	s.mu.Lock()
	known := s.root != ""
	s.mu.Unlock()
	if known {
		return nil
	}

	info, err := s.info(ctx, s.target()+"@HEAD")
	if err != nil {
		return classify(err, ErrPathNotFound)
	}
	return s.learnRoot(info)
}

func (s *SVNSource) learnRoot(info svnInfoEntry) error {
	root := strings.TrimRight(info.Repository.Root, "/")
	if root == "" {
		return fmt.Errorf("svn info did not report a repository root for %s", s.target())
	}

	scope := "/"
	switch {
	case strings.HasPrefix(info.RelativeURL, "^"):
		unescaped, err := url.PathUnescape(strings.TrimPrefix(info.RelativeURL, "^"))
		if err != nil {
			return fmt.Errorf("invalid relative url %q: %w", info.RelativeURL, err)
		}
		scope = domain.NormalizePath(unescaped)
	case strings.HasPrefix(info.URL, root):
		// svn < 1.8 does not report relative-url
		unescaped, err := url.PathUnescape(strings.TrimPrefix(info.URL, root))
		if err != nil {
			return fmt.Errorf("invalid url %q: %w", info.URL, err)
		}
		scope = domain.NormalizePath(unescaped)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = root
	s.scope = scope
	return nil
}

func (s *SVNSource) info(ctx context.Context, target string) (svnInfoEntry, error) {
	output, err := s.run(ctx, "info", "--xml", target)
	if err != nil {
		return svnInfoEntry{}, err
	}
	var info svnInfo
	if err := xml.Unmarshal(output, &info); err != nil {
		return svnInfoEntry{}, fmt.Errorf("failed to parse svn info output: %w", err)
	}
	if len(info.Entries) == 0 {
		return svnInfoEntry{}, fmt.Errorf("svn info returned no entry for %s: %w", target, ErrPathNotFound)
	}
	return info.Entries[0], nil
}

// parseLog converts svn log XML into commits, keeping only paths within scope.
func parseLog(output []byte, scope string) ([]domain.Commit, error) {
	var log svnLog
	if err := xml.Unmarshal(output, &log); err != nil {
		return nil, fmt.Errorf("failed to parse svn log output: %w", err)
	}

	commits := make([]domain.Commit, 0, len(log.Entries))
	for _, e := range log.Entries {
		commit := domain.Commit{
			Revision: e.Revision,
			Author:   e.Author,
			Message:  e.Message,
		}
		if e.Date != "" {
			date, err := time.Parse(time.RFC3339Nano, e.Date)
			if err != nil {
				return nil, fmt.Errorf("revision %d: invalid date %q: %w", e.Revision, e.Date, err)
			}
			commit.Date = date
		}
		for _, p := range e.Paths {
			path := strings.TrimSpace(p.Path)
			if !inScope(scope, path) {
				continue
			}
			kind, ok := domain.ParseChangeKind(p.Action)
			if !ok {
				continue
			}
			commit.Changes = append(commit.Changes, domain.ChangeEntry{
				Path:               path,
				Kind:               kind,
				CopiedFromPath:     p.CopyFromPath,
				CopiedFromRevision: p.CopyFromRev,
			})
		}
		commits = append(commits, commit)
	}
	return commits, nil
}

// classify maps an svn command error to the error taxonomy. Errors carrying a
// not-found code are reported as notFound; unknown failures are treated as
// transport failures.
func classify(err error, notFound error) error {
	switch {
	case hasAnyCode(err, unreachableCodes):
		return fmt.Errorf("%w: %v", ErrRepositoryUnreachable, err)
	case hasAnyCode(err, revisionNotFoundCodes):
		if notFound == ErrEntryNotFound {
			return fmt.Errorf("%w: %v", ErrEntryNotFound, err)
		}
		return fmt.Errorf("%w: %v", ErrRevisionNotFound, err)
	case hasAnyCode(err, pathNotFoundCodes):
		return fmt.Errorf("%w: %v", notFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrRepositoryUnreachable, err)
	}
}

func hasAnyCode(err error, codes []string) bool {
	for _, code := range codes {
		if hasCode(err, code) {
			return true
		}
	}
	return false
}

func hasCode(err error, code string) bool {
	return err != nil && strings.Contains(err.Error(), code)
}

// escapePath URL-escapes a repository path segment by segment.
func escapePath(path string) string {
	return (&url.URL{Path: path}).EscapedPath()
}

type svnInfo struct {
	Entries []svnInfoEntry `xml:"entry"`
}

type svnInfoEntry struct {
	Kind        string `xml:"kind,attr"`
	Revision    int64  `xml:"revision,attr"`
	URL         string `xml:"url"`
	RelativeURL string `xml:"relative-url"`
	Repository  struct {
		Root string `xml:"root"`
		UUID string `xml:"uuid"`
	} `xml:"repository"`
	Commit struct {
		Revision int64 `xml:"revision,attr"`
	} `xml:"commit"`
}

type svnLog struct {
	Entries []svnLogEntry `xml:"logentry"`
}

type svnLogEntry struct {
	Revision int64        `xml:"revision,attr"`
	Author   string       `xml:"author"`
	Date     string       `xml:"date"`
	Message  string       `xml:"msg"`
	Paths    []svnLogPath `xml:"paths>path"`
}

type svnLogPath struct {
	Action       string `xml:"action,attr"`
	Kind         string `xml:"kind,attr"`
	CopyFromPath string `xml:"copyfrom-path,attr"`
	CopyFromRev  int64  `xml:"copyfrom-rev,attr"`
	Path         string `xml:",chardata"`
}

type svnList struct {
	Lists []struct {
		Entries []struct {
			Kind string `xml:"kind,attr"`
			Name string `xml:"name"`
			Size int64  `xml:"size"`
		} `xml:"entry"`
	} `xml:"list"`
}
