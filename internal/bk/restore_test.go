package bk_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bakker-go/internal/bk"
	"bakker-go/internal/cache"
	"bakker-go/internal/checkpoint"
	"bakker-go/internal/pkg/bkerrors"
	"bakker-go/internal/storage"
	"bakker-go/internal/testutil"
	"bakker-go/internal/tree"
)

func createCheckpoint(t *testing.T, svc *bk.Service, src, name string) checkpoint.Meta {
	t.Helper()
	res, err := svc.Create(context.Background(), resolve(t, src), name)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return res.Checkpoint.Meta()
}

// storeEmptyCheckpoint stores a checkpoint of an empty directory whose root
// carries the given checksum, so tests can control checksum prefixes.
func storeEmptyCheckpoint(t *testing.T, s bk.Storage, checksum, name string) checkpoint.Meta {
	t.Helper()
	root := &tree.Node{Name: "root", Checksum: checksum, Permissions: 0o755, Kind: tree.KindDirectory}
	cp, err := checkpoint.New(root, testutil.FixedClock().Now(), name)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.StoreCheckpoint(cp); err != nil {
		t.Fatalf("StoreCheckpoint() error = %v", err)
	}
	return cp.Meta()
}

func TestService_Retrieve(t *testing.T) {
	stores := map[string]func(t *testing.T) bk.Storage{
		"memory": func(*testing.T) bk.Storage { return storage.NewMemoryStorage() },
		"filesystem": func(t *testing.T) bk.Storage {
			return storage.NewFileSystemStorage(filepath.Join(t.TempDir(), "storage"))
		},
	}
	for name, newStorage := range stores {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			src := testutil.NewFixture(t)
			svc, _ := newService(t, newStorage(t))
			meta := createCheckpoint(t, svc, src, "")

			dst := filepath.Join(t.TempDir(), "restored", "nested")
			if err := svc.Retrieve(dst, meta); err != nil {
				t.Fatalf("Retrieve() error = %v", err)
			}
			testutil.AssertSameTree(t, src, dst)
		})
	}
}

func TestService_Retrieve_ReadOnlyDirectory(t *testing.T) {
	src := testutil.NewFixture(t)
	locked := filepath.Join(src, "locked")
	testutil.MkdirAll(t, filepath.Join(locked, "inner"))
	testutil.WriteFile(t, filepath.Join(locked, "inner", "data.txt"), []byte("data"), 0400)
	testutil.Chmod(t, filepath.Join(locked, "inner"), 0500)
	testutil.Chmod(t, locked, 0555)
	dst := filepath.Join(t.TempDir(), "restored")
	t.Cleanup(func() {
		// Let the temp dir cleanup remove what it contains.
		for _, root := range []string{src, dst} {
			os.Chmod(filepath.Join(root, "locked"), 0755)
			os.Chmod(filepath.Join(root, "locked", "inner"), 0755)
		}
	})

	svc, _ := newService(t, storage.NewMemoryStorage())
	meta := createCheckpoint(t, svc, src, "")
	if err := svc.Retrieve(dst, meta); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	testutil.AssertSameTree(t, src, dst)
}

func TestService_Retrieve_ExistingDirectoriesKeepMode(t *testing.T) {
	src := testutil.NewFixture(t)
	testutil.Chmod(t, src, 0777)
	svc, _ := newService(t, storage.NewMemoryStorage())
	meta := createCheckpoint(t, svc, src, "")

	dst := filepath.Join(t.TempDir(), "existing")
	testutil.MkdirAll(t, filepath.Join(dst, "folder1"))
	testutil.Chmod(t, filepath.Join(dst, "folder1"), 0700)
	testutil.Chmod(t, dst, 0700)

	if err := svc.Retrieve(dst, meta); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	tests := []struct {
		rel  string
		want os.FileMode
	}{
		{".", 0700},
		{"folder1", 0700},
		{"folder1/folder3", 0750},
		{"100000_lines.md", 0644},
		{"folder1/duplicate.md", 0640},
	}
	for _, tt := range tests {
		info, err := os.Lstat(filepath.Join(dst, filepath.FromSlash(tt.rel)))
		if err != nil {
			t.Fatalf("stat %s: %v", tt.rel, err)
		}
		if got := info.Mode().Perm(); got != tt.want {
			t.Errorf("%s: perm = %v, want %v", tt.rel, got, tt.want)
		}
	}
}

func TestService_Retrieve_NotFound(t *testing.T) {
	svc, _ := newService(t, storage.NewMemoryStorage())
	meta := checkpoint.Meta{Checksum: "0123456789abcdef", Time: testutil.FixedClock().Now()}
	if err := svc.Retrieve(t.TempDir(), meta); !errors.Is(err, bkerrors.ErrNotFound) {
		t.Errorf("Retrieve() error = %v, want ErrNotFound", err)
	}
}

func TestService_RetrieveByChecksum(t *testing.T) {
	store := storage.NewMemoryStorage()
	svc, _ := newService(t, store)
	first := storeEmptyCheckpoint(t, store, "abcde11100000000", "")
	storeEmptyCheckpoint(t, store, "abcde22200000000", "")

	tests := []struct {
		name    string
		prefix  string
		want    string
		wantErr error
	}{
		{"unique longer prefix", "abcde1", first.Checksum, nil},
		{"full checksum", first.Checksum, first.Checksum, nil},
		{"shared prefix", "abcde", "", bkerrors.ErrAmbiguousMatch},
		{"no match", "ffff", "", bkerrors.ErrNotFound},
		{"empty prefix", "", "", bkerrors.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dst := filepath.Join(t.TempDir(), "out")
			got, err := svc.RetrieveByChecksum(dst, tt.prefix)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("RetrieveByChecksum(%q) error = %v, want %v", tt.prefix, err, tt.wantErr)
				}
				if _, statErr := os.Stat(dst); !errors.Is(statErr, os.ErrNotExist) {
					t.Error("failed lookup must not touch the destination")
				}
				return
			}
			if err != nil {
				t.Fatalf("RetrieveByChecksum(%q) error = %v", tt.prefix, err)
			}
			if got.Checksum != tt.want {
				t.Errorf("RetrieveByChecksum(%q) = %s, want checksum %s", tt.prefix, got, tt.want)
			}
			if info, err := os.Stat(dst); err != nil || !info.IsDir() {
				t.Errorf("destination not restored: %v", err)
			}
		})
	}
}

func TestService_RetrieveByName(t *testing.T) {
	store := storage.NewMemoryStorage()
	svc, _ := newService(t, store)
	storeEmptyCheckpoint(t, store, "1111000000000000", "daily")
	storeEmptyCheckpoint(t, store, "2222000000000000", "daily")
	weekly := storeEmptyCheckpoint(t, store, "3333000000000000", "weekly")

	got, err := svc.RetrieveByName(filepath.Join(t.TempDir(), "w"), "weekly")
	if err != nil {
		t.Fatalf("RetrieveByName() error = %v", err)
	}
	if got.String() != weekly.String() {
		t.Errorf("RetrieveByName() = %s, want %s", got, weekly)
	}

	if _, err := svc.RetrieveByName(t.TempDir(), "daily"); !errors.Is(err, bkerrors.ErrAmbiguousMatch) {
		t.Errorf("RetrieveByName(daily) error = %v, want ErrAmbiguousMatch", err)
	}
	if _, err := svc.RetrieveByName(t.TempDir(), "monthly"); !errors.Is(err, bkerrors.ErrNotFound) {
		t.Errorf("RetrieveByName(monthly) error = %v, want ErrNotFound", err)
	}
}

func TestService_RetrieveByIdentifier(t *testing.T) {
	store := storage.NewMemoryStorage()
	svc, _ := newService(t, store)
	storeEmptyCheckpoint(t, store, "abcde11100000000", "")
	storeEmptyCheckpoint(t, store, "abcde22200000000", "")
	named := storeEmptyCheckpoint(t, store, "5555000000000000", "abcde")
	weekly := storeEmptyCheckpoint(t, store, "6666000000000000", "weekly")

	t.Run("checksum prefix", func(t *testing.T) {
		got, err := svc.RetrieveByIdentifier(filepath.Join(t.TempDir(), "out"), "5555")
		if err != nil || got.String() != named.String() {
			t.Errorf("RetrieveByIdentifier() = %s, %v; want %s", got, err, named)
		}
	})

	t.Run("falls back to name", func(t *testing.T) {
		got, err := svc.RetrieveByIdentifier(filepath.Join(t.TempDir(), "out"), "weekly")
		if err != nil || got.String() != weekly.String() {
			t.Errorf("RetrieveByIdentifier() = %s, %v; want %s", got, err, weekly)
		}
	})

	t.Run("ambiguous prefix is not retried as name", func(t *testing.T) {
		_, err := svc.RetrieveByIdentifier(t.TempDir(), "abcde")
		if !errors.Is(err, bkerrors.ErrAmbiguousMatch) {
			t.Errorf("RetrieveByIdentifier() error = %v, want ErrAmbiguousMatch", err)
		}
	})

	t.Run("nothing matches", func(t *testing.T) {
		_, err := svc.RetrieveByIdentifier(t.TempDir(), "nope")
		if !errors.Is(err, bkerrors.ErrNotFound) {
			t.Errorf("RetrieveByIdentifier() error = %v, want ErrNotFound", err)
		}
	})
}

func TestService_Restore(t *testing.T) {
	src := testutil.NewFixture(t)
	svc, _ := newService(t, storage.NewMemoryStorage())
	meta := createCheckpoint(t, svc, src, "snapshot")

	dst := t.TempDir()
	got, err := svc.Restore(resolve(t, dst), "snapshot", nil)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got.String() != meta.String() {
		t.Errorf("Restore() = %s, want %s", got, meta)
	}
	testutil.AssertSameTree(t, src, dst)
}

func TestService_Restore_LookupErrors(t *testing.T) {
	src := testutil.NewFixture(t)
	full := storage.NewMemoryStorage()
	svc, _ := newService(t, full)
	meta := createCheckpoint(t, svc, src, "snapshot")

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := svc.Restore(resolve(t, t.TempDir()), "nope", nil)
		var lookup *bk.LookupError
		if !errors.As(err, &lookup) || !errors.Is(err, bkerrors.ErrNotFound) {
			t.Fatalf("Restore() error = %v, want *LookupError wrapping ErrNotFound", err)
		}
		if lookup.ID != "nope" {
			t.Errorf("LookupError.ID = %q, want %q", lookup.ID, "nope")
		}
	})

	t.Run("missing blob", func(t *testing.T) {
		cp, err := full.LoadCheckpoint(meta)
		if err != nil {
			t.Fatalf("LoadCheckpoint() error = %v", err)
		}
		bare := storage.NewMemoryStorage()
		if err := bare.StoreCheckpoint(cp); err != nil {
			t.Fatalf("StoreCheckpoint() error = %v", err)
		}
		bareSvc, _ := newService(t, bare)

		_, err = bareSvc.Restore(resolve(t, t.TempDir()), "snapshot", nil)
		if !errors.Is(err, bkerrors.ErrNotFound) {
			t.Fatalf("Restore() error = %v, want ErrNotFound", err)
		}
		var lookup *bk.LookupError
		if errors.As(err, &lookup) {
			t.Errorf("Restore() error = %v, a missing blob is not a lookup failure", err)
		}
	})
}

func TestService_Resolve(t *testing.T) {
	store := storage.NewMemoryStorage()
	svc, _ := newService(t, store)
	meta := storeEmptyCheckpoint(t, store, "7777000000000000", "nightly")

	for _, id := range []string{"777", "nightly"} {
		got, err := svc.Resolve(id)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", id, err)
		}
		if got.String() != meta.String() {
			t.Errorf("Resolve(%q) = %s, want %s", id, got, meta)
		}
	}
	if _, err := svc.Resolve(""); !errors.Is(err, bkerrors.ErrInvalidArgument) {
		t.Errorf("Resolve(\"\") error = %v, want ErrInvalidArgument", err)
	}
}

func TestService_RetrieveWithCache(t *testing.T) {
	t.Run("moves then copies cached content", func(t *testing.T) {
		src := testutil.NewFixture(t)
		storageRoot := filepath.Join(t.TempDir(), "storage")
		svc, _ := newService(t, storage.NewFileSystemStorage(storageRoot))
		meta := createCheckpoint(t, svc, src, "")

		cacheDir := filepath.Join(t.TempDir(), "cached")
		if err := svc.Retrieve(cacheDir, meta); err != nil {
			t.Fatalf("Retrieve() error = %v", err)
		}
		index := cache.NewMemoryIndex()
		c, err := cache.BuildFrom(cacheDir, tree.NewBuilder(nil), index)
		if err != nil {
			t.Fatalf("BuildFrom() error = %v", err)
		}

		// With no blobs left every file and symlink has to come from the cache.
		if err := os.RemoveAll(filepath.Join(storageRoot, "files")); err != nil {
			t.Fatal(err)
		}

		dst := filepath.Join(t.TempDir(), "restored")
		if err := svc.RetrieveWithCache(dst, meta, c); err != nil {
			t.Fatalf("RetrieveWithCache() error = %v", err)
		}
		testutil.AssertSameTree(t, src, dst)

		err = index.Each(func(sum string, e cache.Entry) error {
			if !e.Moved {
				t.Errorf("entry %s was not relocated", sum)
			}
			if rel, err := filepath.Rel(dst, e.Path); err != nil || strings.HasPrefix(rel, "..") {
				t.Errorf("entry %s points to %s, outside %s", sum, e.Path, dst)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("ignores stale entries", func(t *testing.T) {
		src := testutil.NewFixture(t)
		svc, _ := newService(t, storage.NewMemoryStorage())
		meta := createCheckpoint(t, svc, src, "")

		cacheDir := filepath.Join(t.TempDir(), "cached")
		if err := svc.Retrieve(cacheDir, meta); err != nil {
			t.Fatal(err)
		}
		c, err := cache.BuildFrom(cacheDir, tree.NewBuilder(nil), cache.NewMemoryIndex())
		if err != nil {
			t.Fatal(err)
		}
		stale := filepath.Join(cacheDir, "script.sh")
		testutil.WriteFile(t, stale, []byte("changed since indexing\n"), 0755)

		dst := filepath.Join(t.TempDir(), "restored")
		if err := svc.RetrieveWithCache(dst, meta, c); err != nil {
			t.Fatalf("RetrieveWithCache() error = %v", err)
		}
		testutil.AssertSameTree(t, src, dst)

		if _, err := os.Stat(stale); err != nil {
			t.Errorf("stale cache file was consumed: %v", err)
		}
	})
}
