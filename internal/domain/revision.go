package domain

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"
)

// Revision is a repository revision number. Revisions start at 1 and only grow.
type Revision = int64

const (
	// HeadRevision asks for the latest revision. As a start revision it means
	// "index the tip only, skip prior history".
	HeadRevision Revision = -1

	// NotIndexedRevision is the checkpoint value of a repository that was never processed.
	NotIndexedRevision Revision = 0
)

// ChangeKind is the action recorded for a path in a revision's change set.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "A"
	ChangeModified ChangeKind = "M"
	ChangeDeleted  ChangeKind = "D"
	ChangeReplaced ChangeKind = "R"
)

// ParseChangeKind maps a Subversion action letter to a ChangeKind.
// Returns false for unknown actions.
func ParseChangeKind(action string) (ChangeKind, bool) {
	switch kind := ChangeKind(strings.ToUpper(strings.TrimSpace(action))); kind {
	case ChangeAdded, ChangeModified, ChangeDeleted, ChangeReplaced:
		return kind, true
	default:
		return "", false
	}
}

// HasContent reports whether the entry exists at its revision, i.e. whether
// its content and size can be read.
func (k ChangeKind) HasContent() bool {
	return k == ChangeAdded || k == ChangeModified
}

// ChangeEntry is one path of a revision's change set.
type ChangeEntry struct {
	// Path is relative to the repository root, e.g. "/module1/trunk/watchlist.txt".
	Path               string
	Kind               ChangeKind
	CopiedFromPath     string
	CopiedFromRevision Revision
}

// Commit is the log entry of one revision together with its ordered change set.
type Commit struct {
	Revision Revision
	Author   string
	Date     time.Time
	Message  string
	Changes  []ChangeEntry
}

// Identity identifies a synchronized (repository, sub-path) pair.
// ID is the checkpoint key and the name of the revision's index.
type Identity struct {
	ID   string
	URL  string
	Path string
}

// NewIdentity builds the identity of a repository URL and a watched sub-path.
func NewIdentity(url, path string) Identity {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	path = NormalizePath(path)
	sum := md5.Sum([]byte(url + path))
	return Identity{
		ID:   hex.EncodeToString(sum[:]),
		URL:  url,
		Path: path,
	}
}

// Display returns the human-readable form of the identity.
func (i Identity) Display() string {
	if i.Path == "/" {
		return i.URL
	}
	return i.URL + i.Path
}

// NormalizePath returns a repository path with a leading slash and without a
// trailing one. The empty path is the root "/".
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.Trim(path, "/")
	return "/" + path
}

// Checkpoint is the last revision fully processed for an identity.
type Checkpoint struct {
	Identity  string    `json:"identity"`
	URL       string    `json:"url,omitempty"`
	Path      string    `json:"path,omitempty"`
	Revision  Revision  `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// hashID is a stable md5 over the given string parts and a revision number.
func hashID(rev Revision, parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(rev))
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}
