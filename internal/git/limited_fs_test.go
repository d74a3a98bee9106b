package git

import (
	"errors"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
)

func TestLimitedFs_FileCountLimit(t *testing.T) {
	t.Parallel()

	fs := &LimitedFs{
		Fs:            memfs.New(),
		MaxFiles:      2,
		TotalFileSize: 1024,
	}

	if _, err := fs.Create("one.txt"); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := fs.Create("two.txt"); err != nil {
		t.Fatalf("second create failed: %v", err)
	}

	_, err := fs.Create("three.txt")
	if !errors.Is(err, ErrTooManyFiles) {
		t.Errorf("expected ErrTooManyFiles, got %v", err)
	}
}

func TestLimitedFs_TotalSizeLimit(t *testing.T) {
	t.Parallel()

	fs := &LimitedFs{
		Fs:            memfs.New(),
		MaxFiles:      10,
		TotalFileSize: 8,
	}

	f, err := fs.Create("data.bin")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := f.Write([]byte("12345678")); err != nil {
		t.Fatalf("write within limit failed: %v", err)
	}

	_, err = f.Write([]byte("9"))
	if !errors.Is(err, ErrRepositoryTooLarge) {
		t.Errorf("expected ErrRepositoryTooLarge, got %v", err)
	}
}

func TestLimitedFs_SizeLimitSharedAcrossFiles(t *testing.T) {
	t.Parallel()

	fs := &LimitedFs{
		Fs:            memfs.New(),
		MaxFiles:      10,
		TotalFileSize: 10,
	}

	first, err := fs.Create("a.txt")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := first.Write([]byte("123456")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	second, err := fs.Create("b.txt")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err = second.Write([]byte("78901"))
	if !errors.Is(err, ErrRepositoryTooLarge) {
		t.Errorf("expected shared limit to apply across files, got %v", err)
	}
}

func TestLimitedFs_ChrootSharesCounters(t *testing.T) {
	t.Parallel()

	fs := &LimitedFs{
		Fs:            memfs.New(),
		MaxFiles:      2,
		TotalFileSize: 1024,
	}

	if err := fs.MkdirAll("sub", 0750); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	sub, err := fs.Chroot("sub")
	if err != nil {
		t.Fatalf("chroot failed: %v", err)
	}

	if _, err := fs.Create("root.txt"); err != nil {
		t.Fatalf("create in root failed: %v", err)
	}
	if _, err := sub.Create("nested.txt"); err != nil {
		t.Fatalf("create in chroot failed: %v", err)
	}

	_, err = fs.Create("overflow.txt")
	if !errors.Is(err, ErrTooManyFiles) {
		t.Errorf("expected chrooted creations to count against the root limit, got %v", err)
	}
}

func TestLimitedFs_OpenDoesNotCountFiles(t *testing.T) {
	t.Parallel()

	fs := &LimitedFs{
		Fs:            memfs.New(),
		MaxFiles:      1,
		TotalFileSize: 1024,
	}

	if _, err := fs.Create("only.txt"); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := fs.Open("only.txt"); err != nil {
			t.Fatalf("open %d failed: %v", i, err)
		}
	}
}
