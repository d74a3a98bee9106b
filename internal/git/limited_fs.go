package git

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"

	billy "github.com/go-git/go-billy/v5"
)

var (
	// ErrTooManyFiles is returned when a clone creates more files than the limit allows
	ErrTooManyFiles = errors.New("repository exceeds file count limit")

	// ErrRepositoryTooLarge is returned when a clone writes more bytes than the limit allows
	ErrRepositoryTooLarge = errors.New("repository exceeds total size limit")
)

// LimitedFs wraps a billy.Filesystem and enforces limits on the number of
// files created and the total bytes written, so hostile or misconfigured
// repositories cannot exhaust process memory during an in-memory clone.
type LimitedFs struct {
	Fs            billy.Filesystem
	MaxFiles      int64
	TotalFileSize int64

	initOnce sync.Once
	counters *fsCounters
}

// fsCounters tracks usage across a filesystem and all its chroots
type fsCounters struct {
	files atomic.Int64
	bytes atomic.Int64
}

var _ billy.Filesystem = (*LimitedFs)(nil)

func (l *LimitedFs) c() *fsCounters {
	l.initOnce.Do(func() {
		if l.counters == nil {
			l.counters = &fsCounters{}
		}
	})
	return l.counters
}

func (l *LimitedFs) countFile() error {
	if l.c().files.Add(1) > l.MaxFiles {
		return ErrTooManyFiles
	}
	return nil
}

// Create creates a new file, counting it against the file limit
func (l *LimitedFs) Create(filename string) (billy.File, error) {
	if err := l.countFile(); err != nil {
		return nil, err
	}
	f, err := l.Fs.Create(filename)
	if err != nil {
		return nil, err
	}
	return &boundedFile{File: f, fs: l}, nil
}

// Open opens a file in read-only mode
func (l *LimitedFs) Open(filename string) (billy.File, error) {
	return l.Fs.Open(filename)
}

// OpenFile opens a file with the given flags, counting creations against the
// file limit
func (l *LimitedFs) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	if flag&os.O_CREATE != 0 {
		if err := l.countFile(); err != nil {
			return nil, err
		}
	}
	f, err := l.Fs.OpenFile(filename, flag, perm)
	if err != nil {
		return nil, err
	}
	return &boundedFile{File: f, fs: l}, nil
}

// Stat returns file information
func (l *LimitedFs) Stat(filename string) (os.FileInfo, error) {
	return l.Fs.Stat(filename)
}

// Rename renames a file
func (l *LimitedFs) Rename(oldpath, newpath string) error {
	return l.Fs.Rename(oldpath, newpath)
}

// Remove removes a file
func (l *LimitedFs) Remove(filename string) error {
	return l.Fs.Remove(filename)
}

// Join joins path elements
func (l *LimitedFs) Join(elem ...string) string {
	return l.Fs.Join(elem...)
}

// TempFile creates a temporary file, counting it against the file limit
func (l *LimitedFs) TempFile(dir, prefix string) (billy.File, error) {
	if err := l.countFile(); err != nil {
		return nil, err
	}
	f, err := l.Fs.TempFile(dir, prefix)
	if err != nil {
		return nil, err
	}
	return &boundedFile{File: f, fs: l}, nil
}

// ReadDir lists directory contents
func (l *LimitedFs) ReadDir(path string) ([]os.FileInfo, error) {
	return l.Fs.ReadDir(path)
}

// MkdirAll creates a directory tree
func (l *LimitedFs) MkdirAll(filename string, perm os.FileMode) error {
	return l.Fs.MkdirAll(filename, perm)
}

// Lstat returns file information without following symlinks
func (l *LimitedFs) Lstat(filename string) (os.FileInfo, error) {
	return l.Fs.Lstat(filename)
}

// Symlink creates a symbolic link
func (l *LimitedFs) Symlink(target, link string) error {
	return l.Fs.Symlink(target, link)
}

// Readlink returns the target of a symbolic link
func (l *LimitedFs) Readlink(link string) (string, error) {
	return l.Fs.Readlink(link)
}

// Chroot returns a filesystem rooted at path that shares this filesystem's
// limits and usage counters
func (l *LimitedFs) Chroot(path string) (billy.Filesystem, error) {
	fs, err := l.Fs.Chroot(path)
	if err != nil {
		return nil, err
	}
	return &LimitedFs{
		Fs:            fs,
		MaxFiles:      l.MaxFiles,
		TotalFileSize: l.TotalFileSize,
		counters:      l.c(),
	}, nil
}

// Root returns the root path of the filesystem
func (l *LimitedFs) Root() string {
	return l.Fs.Root()
}

// boundedFile counts written bytes against the owning filesystem's limit
type boundedFile struct {
	billy.File
	fs *LimitedFs
}

func (f *boundedFile) Write(p []byte) (int, error) {
	if f.fs.c().bytes.Add(int64(len(p))) > f.fs.TotalFileSize {
		return 0, ErrRepositoryTooLarge
	}
	return f.File.Write(p)
}
