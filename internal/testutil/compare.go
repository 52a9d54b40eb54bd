package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stevegt/readercomp"
)

// AssertSameTree walks want and checks that got holds the same entries with
// the same kinds, permission bits, symlink targets and file contents. It also
// fails on entries present in got but not in want.
func AssertSameTree(t *testing.T, want, got string) {
	t.Helper()

	seen := make(map[string]bool)
	err := filepath.WalkDir(want, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(want, path)
		if err != nil {
			return err
		}
		seen[rel] = true
		assertSameEntry(t, path, filepath.Join(got, rel), rel)
		return nil
	})
	if err != nil {
		t.Fatalf("walking %s: %v", want, err)
	}

	err = filepath.WalkDir(got, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(got, path)
		if err != nil {
			return err
		}
		if !seen[rel] {
			t.Errorf("unexpected entry %s", rel)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walking %s: %v", got, err)
	}
}

func assertSameEntry(t *testing.T, wantPath, gotPath, rel string) {
	t.Helper()

	wantInfo, err := os.Lstat(wantPath)
	if err != nil {
		t.Fatalf("stat %s: %v", wantPath, err)
	}
	gotInfo, err := os.Lstat(gotPath)
	if err != nil {
		t.Errorf("%s: missing: %v", rel, err)
		return
	}

	if wantInfo.Mode().Type() != gotInfo.Mode().Type() {
		t.Errorf("%s: type = %v, want %v", rel, gotInfo.Mode().Type(), wantInfo.Mode().Type())
		return
	}

	switch {
	case wantInfo.Mode()&fs.ModeSymlink != 0:
		wantTarget, _ := os.Readlink(wantPath)
		gotTarget, err := os.Readlink(gotPath)
		if err != nil {
			t.Errorf("%s: readlink: %v", rel, err)
			return
		}
		if gotTarget != wantTarget {
			t.Errorf("%s: link target = %q, want %q", rel, gotTarget, wantTarget)
		}
		// Symlink permissions are not settable on Linux; nothing else to compare.
		return
	case wantInfo.Mode().IsRegular():
		if !sameContent(t, wantPath, gotPath) {
			t.Errorf("%s: content differs", rel)
		}
	}

	if rel != "." && wantInfo.Mode().Perm() != gotInfo.Mode().Perm() {
		t.Errorf("%s: perm = %v, want %v", rel, gotInfo.Mode().Perm(), wantInfo.Mode().Perm())
	}
}

func sameContent(t *testing.T, a, b string) bool {
	t.Helper()
	fa, err := os.Open(a)
	if err != nil {
		t.Fatalf("opening %s: %v", a, err)
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		t.Fatalf("opening %s: %v", b, err)
	}
	defer fb.Close()

	ok, err := readercomp.Equal(fa, fb, 4096)
	if err != nil {
		t.Fatalf("comparing %s and %s: %v", a, b, err)
	}
	return ok
}
