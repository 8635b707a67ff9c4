package trash

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/armoire/internal/fs"
)

// maxNameAttempts bounds the unique trash-name probe.
const maxNameAttempts = 9999

const infoTimeLayout = "2006-01-02T15:04:05"

// Item describes one trashed object.
type Item struct {
	TrashName    string    `json:"trash_name"`
	OriginalPath string    `json:"original_path"`
	DeletedAt    time.Time `json:"deleted_at"`
	Size         int64     `json:"size"`
}

// Trash implements the freedesktop.org trash layout: files/ holds the
// payloads, info/ holds one .trashinfo per payload recording where it
// came from and when it was deleted.
type Trash struct {
	filesDir string
	infoDir  string
	logger   *zap.Logger
}

// NewTrash roots a trash at dir, creating the layout if needed.
func NewTrash(dir string, logger *zap.Logger) (*Trash, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	filesDir := filepath.Join(dir, "files")
	infoDir := filepath.Join(dir, "info")
	if err := os.MkdirAll(filesDir, 0o700); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(infoDir, 0o700); err != nil {
		return nil, err
	}

	return &Trash{filesDir: filesDir, infoDir: infoDir, logger: logger}, nil
}

// Default opens the user trash under the XDG data directory.
func Default(logger *zap.Logger) (*Trash, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return NewTrash(filepath.Join(dataHome, "Trash"), logger)
}

// Put moves a path into the trash, writing its .trashinfo first so a
// payload is never present without provenance.
func (t *Trash) Put(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return fs.ErrNotFound(path)
		}
		return err
	}

	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		return fs.ErrInvalidPath(path)
	}

	trashName, err := t.uniqueName(name)
	if err != nil {
		return err
	}

	original, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	infoPath := filepath.Join(t.infoDir, trashName+".trashinfo")
	if err := t.writeInfo(infoPath, original, time.Now()); err != nil {
		return err
	}

	if err := os.Rename(path, filepath.Join(t.filesDir, trashName)); err != nil {
		_ = os.Remove(infoPath)
		return fmt.Errorf("move to trash: %w", err)
	}

	return nil
}

// Restore puts a trashed object back at its recorded original path.
// Fails with already-exists if something reoccupied that path.
func (t *Trash) Restore(trashName string) (string, error) {
	filePath := filepath.Join(t.filesDir, trashName)
	infoPath := filepath.Join(t.infoDir, trashName+".trashinfo")

	if _, err := os.Lstat(filePath); err != nil {
		return "", fs.ErrNotFound(filePath)
	}

	original, _, err := t.readInfo(infoPath)
	if err != nil {
		return "", err
	}

	if _, err := os.Lstat(original); err == nil {
		return "", fs.AlreadyExistsError{Path: original}
	}

	if err := os.MkdirAll(filepath.Dir(original), 0o750); err != nil {
		return "", err
	}
	if err := os.Rename(filePath, original); err != nil {
		return "", err
	}
	if err := os.Remove(infoPath); err != nil {
		t.logger.Warn("orphaned trashinfo", zap.String("path", infoPath), zap.Error(err))
	}

	return original, nil
}

// List returns every trashed item with its recorded provenance.
func (t *Trash) List() ([]Item, error) {
	names, err := os.ReadDir(t.infoDir)
	if err != nil {
		return nil, err
	}

	var items []Item
	for _, dirent := range names {
		if !strings.HasSuffix(dirent.Name(), ".trashinfo") {
			continue
		}
		trashName := strings.TrimSuffix(dirent.Name(), ".trashinfo")

		infoPath := filepath.Join(t.infoDir, dirent.Name())
		original, deletedAt, err := t.readInfo(infoPath)
		if err != nil {
			t.logger.Warn("unreadable trashinfo",
				zap.String("path", infoPath), zap.Error(err))
			continue
		}

		var size int64
		if s, err := treeSize(filepath.Join(t.filesDir, trashName)); err == nil {
			size = s
		}

		items = append(items, Item{
			TrashName:    trashName,
			OriginalPath: original,
			DeletedAt:    deletedAt,
			Size:         size,
		})
	}

	return items, nil
}

// Remove permanently deletes one trashed item.
func (t *Trash) Remove(trashName string) error {
	filePath := filepath.Join(t.filesDir, trashName)
	if info, err := os.Lstat(filePath); err == nil {
		if info.IsDir() {
			if err := os.RemoveAll(filePath); err != nil {
				return err
			}
		} else if err := os.Remove(filePath); err != nil {
			return err
		}
	}

	infoPath := filepath.Join(t.infoDir, trashName+".trashinfo")
	if _, err := os.Lstat(infoPath); err == nil {
		return os.Remove(infoPath)
	}
	return nil
}

// Empty permanently deletes everything in the trash.
func (t *Trash) Empty() error {
	names, err := os.ReadDir(t.filesDir)
	if err != nil {
		return err
	}
	for _, dirent := range names {
		path := filepath.Join(t.filesDir, dirent.Name())
		if dirent.IsDir() {
			err = os.RemoveAll(path)
		} else {
			err = os.Remove(path)
		}
		if err != nil {
			return err
		}
	}

	infos, err := os.ReadDir(t.infoDir)
	if err != nil {
		return err
	}
	for _, dirent := range infos {
		if err := os.Remove(filepath.Join(t.infoDir, dirent.Name())); err != nil {
			return err
		}
	}

	return nil
}

// Size totals the bytes held in the trash.
func (t *Trash) Size() (int64, error) {
	return treeSize(t.filesDir)
}

func (t *Trash) writeInfo(infoPath, originalPath string, deletedAt time.Time) error {
	content := fmt.Sprintf("[Trash Info]\nPath=%s\nDeletionDate=%s\n",
		originalPath, deletedAt.UTC().Format(infoTimeLayout))
	return os.WriteFile(infoPath, []byte(content), 0o600)
}

func (t *Trash) readInfo(infoPath string) (string, time.Time, error) {
	data, err := os.ReadFile(infoPath)
	if err != nil {
		return "", time.Time{}, err
	}

	var original string
	deletedAt := time.Now()

	for _, line := range strings.Split(string(data), "\n") {
		if p, ok := strings.CutPrefix(line, "Path="); ok {
			original = p
		}
		if d, ok := strings.CutPrefix(line, "DeletionDate="); ok {
			if ts, err := time.Parse(infoTimeLayout, d); err == nil {
				deletedAt = ts
			} else if ts, err := time.Parse(time.RFC3339, d); err == nil {
				deletedAt = ts
			}
		}
	}

	if original == "" {
		return "", time.Time{}, fmt.Errorf("trashinfo missing Path: %s", infoPath)
	}
	return original, deletedAt, nil
}

// uniqueName probes "<stem>.<n><ext>" until free, so repeated deletes
// of equally named files coexist.
func (t *Trash) uniqueName(base string) (string, error) {
	if _, err := os.Lstat(filepath.Join(t.filesDir, base)); os.IsNotExist(err) {
		return base, nil
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for n := 1; n <= maxNameAttempts; n++ {
		candidate := fmt.Sprintf("%s.%d%s", stem, n, ext)
		if _, err := os.Lstat(filepath.Join(t.filesDir, candidate)); os.IsNotExist(err) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: too many equally named files in trash", fs.ErrInvalidOperation)
}

func treeSize(path string) (int64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	stack := []string{path}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		names, err := os.ReadDir(dir)
		if err != nil {
			return 0, err
		}
		for _, dirent := range names {
			child := filepath.Join(dir, dirent.Name())
			ci, err := os.Lstat(child)
			if err != nil {
				continue
			}
			if ci.IsDir() {
				stack = append(stack, child)
			} else {
				total += ci.Size()
			}
		}
	}
	return total, nil
}
