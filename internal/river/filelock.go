package river

import (
	"errors"
	"path/filepath"

	"github.com/sha1n/svn-river/internal/domain"
	"github.com/sha1n/svn-river/internal/filelock"
)

// LocksDir is the directory below the base directory holding identity locks.
const LocksDir = "locks"

// ErrLockHeld indicates another process owns the identity
var ErrLockHeld = errors.New("identity is locked by another process")

// IdentityLock returns the lock guarding an identity below baseDir. A second
// river pointed at the same base directory cannot sync a locked identity.
func IdentityLock(baseDir string, identity domain.Identity) *filelock.FileLock {
	return filelock.New(filepath.Join(baseDir, LocksDir, identity.ID+".lock"))
}
