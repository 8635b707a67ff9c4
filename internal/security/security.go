package security

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/FairForge/armoire/internal/fs"
)

// systemRoots are the paths no file-manager mutation may touch.
// Enforcement is the caller's job; this layer only answers the
// question.
var systemRoots = []string{
	"/bin",
	"/boot",
	"/dev",
	"/etc",
	"/lib",
	"/lib64",
	"/proc",
	"/root",
	"/sbin",
	"/sys",
	"/usr/bin",
	"/usr/sbin",
	"/usr/lib",
	"/usr/lib64",
}

// Policy answers path-safety questions for the rest of the engine.
type Policy struct {
	logger *zap.Logger
}

// NewPolicy creates the policy checker.
func NewPolicy(logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{logger: logger}
}

// IsSystemPath reports whether path sits under a protected system
// root.
func IsSystemPath(path string) bool {
	clean := filepath.Clean(path)
	for _, root := range systemRoots {
		if clean == root || strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// RunningAsRoot reports whether the process has effective uid 0.
func RunningAsRoot() bool {
	return os.Geteuid() == 0
}

// ValidateOperation refuses mutations as root and mutations of system
// paths.
func (p *Policy) ValidateOperation(path string) error {
	if RunningAsRoot() {
		return fs.WrapError(fs.ErrInvalidOperation, "refusing to run file operations as root")
	}
	if IsSystemPath(path) {
		return fs.PermissionError{Path: path}
	}
	return nil
}

// ValidateSymlinkTarget warns when a link points into a system root.
// Advisory only.
func (p *Policy) ValidateSymlinkTarget(link, target string) {
	if filepath.IsAbs(target) && IsSystemPath(target) {
		p.logger.Warn("symlink points to system path",
			zap.String("link", link), zap.String("target", target))
	}
}
