package tree_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/sys/unix"

	"bakker-go/internal/digest"
	"bakker-go/internal/pkg/bkerrors"
	"bakker-go/internal/testutil"
	"bakker-go/internal/tree"
)

type recordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

type prefixMatcher string

func (p prefixMatcher) Match(rel string) bool { return strings.HasPrefix(rel, string(p)) }

func TestBuilder_Build(t *testing.T) {
	root := testutil.NewFixture(t)

	node, result, err := tree.NewBuilder(nil).Build(root, "")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(result.Skipped) != 0 {
		t.Errorf("Skipped = %v, want none", result.Skipped)
	}

	if node.Kind != tree.KindDirectory || node.Name != "" {
		t.Fatalf("root = %s %q, want unnamed directory", node.Kind, node.Name)
	}
	if len(node.Children) != testutil.FixtureEntries {
		t.Fatalf("root has %d children, want %d", len(node.Children), testutil.FixtureEntries)
	}

	tests := []struct {
		name string
		kind tree.Kind
		perm uint32
	}{
		{"100000_lines.md", tree.KindFile, 0o644},
		{"100000_lines_symlink", tree.KindSymlink, 0o777},
		{"empty.txt", tree.KindFile, 0o600},
		{"script.sh", tree.KindFile, 0o755},
		{"broken_symlink", tree.KindSymlink, 0o777},
		{"folder1", tree.KindDirectory, 0o755},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			child, ok := node.Children[tt.name]
			if !ok {
				t.Fatalf("child %s missing", tt.name)
			}
			if child.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", child.Kind, tt.kind)
			}
			if child.Permissions != tt.perm {
				t.Errorf("Permissions = %o, want %o", child.Permissions, tt.perm)
			}
			if child.Name != tt.name {
				t.Errorf("Name = %q, want %q", child.Name, tt.name)
			}
		})
	}

	t.Run("leaf checksums match digest functions", func(t *testing.T) {
		want, err := digest.File(filepath.Join(root, "100000_lines.md"))
		if err != nil {
			t.Fatal(err)
		}
		if got := node.Children["100000_lines.md"].Checksum; got != want {
			t.Errorf("file checksum = %s, want %s", got, want)
		}
		want, err = digest.Symlink(filepath.Join(root, "100000_lines_symlink"))
		if err != nil {
			t.Fatal(err)
		}
		if got := node.Children["100000_lines_symlink"].Checksum; got != want {
			t.Errorf("symlink checksum = %s, want %s", got, want)
		}
	})

	t.Run("duplicate content shares a checksum", func(t *testing.T) {
		dup := node.Children["folder1"].Children["duplicate.md"]
		if dup.Checksum != node.Children["100000_lines.md"].Checksum {
			t.Error("identical files have different checksums")
		}
	})

	t.Run("directory checksum is over sorted child checksums", func(t *testing.T) {
		var sums []string
		for _, c := range node.SortedChildren() {
			sums = append(sums, c.Checksum)
		}
		if got, want := node.Checksum, digest.Directory(sums...); got != want {
			t.Errorf("root checksum = %s, want %s", got, want)
		}
	})
}

func TestBuilder_Build_Deterministic(t *testing.T) {
	root := testutil.NewFixture(t)

	first, _, err := tree.NewBuilder(nil).Build(root, "")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	second, _, err := tree.NewBuilder(nil).Build(root, "")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !first.Equal(second) {
		t.Error("two builds of an unchanged directory differ")
	}

	parallel, _, err := (&tree.Builder{Workers: 8}).Build(root, "")
	if err != nil {
		t.Fatalf("Build() with workers error = %v", err)
	}
	if !first.Equal(parallel) {
		t.Error("parallel build differs from sequential build")
	}
}

func TestBuilder_Build_OrderIndependent(t *testing.T) {
	names := []string{"c.txt", "a.txt", "b.txt", "sub"}

	build := func(order []string) *tree.Node {
		dir := filepath.Join(t.TempDir(), "d")
		testutil.MkdirAll(t, dir)
		for _, name := range order {
			if name == "sub" {
				testutil.MkdirAll(t, filepath.Join(dir, name))
				continue
			}
			testutil.WriteFile(t, filepath.Join(dir, name), []byte("content of "+name), 0644)
		}
		node, _, err := tree.NewBuilder(nil).Build(dir, "")
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		return node
	}

	forward := build(names)
	reversed := build([]string{names[3], names[2], names[1], names[0]})
	if forward.Checksum != reversed.Checksum {
		t.Errorf("checksum depends on creation order: %s != %s", forward.Checksum, reversed.Checksum)
	}

	// Directly built nodes with differently ordered maps agree as well.
	a := tree.NewDirectory("", 0o755, map[string]*tree.Node{
		"x": tree.NewFile("x", "1111111111111111", 0o644),
		"y": tree.NewFile("y", "2222222222222222", 0o644),
	})
	b := tree.NewDirectory("", 0o755, map[string]*tree.Node{
		"y": tree.NewFile("y", "2222222222222222", 0o644),
		"x": tree.NewFile("x", "1111111111111111", 0o644),
	})
	if a.Checksum != b.Checksum {
		t.Error("directory checksum depends on map insertion order")
	}
}

func TestBuilder_Build_SkipsUnsupported(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	testutil.MkdirAll(t, root)
	testutil.WriteFile(t, filepath.Join(root, "regular.txt"), []byte("data"), 0644)
	if err := unix.Mkfifo(filepath.Join(root, "pipe"), 0644); err != nil {
		t.Skipf("mkfifo not supported: %v", err)
	}

	logger := &recordingLogger{}
	node, result, err := tree.NewBuilder(logger).Build(root, "")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if _, ok := node.Children["pipe"]; ok {
		t.Error("fifo should not be part of the tree")
	}
	if _, ok := node.Children["regular.txt"]; !ok {
		t.Error("regular file missing from the tree")
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Path != "pipe" {
		t.Fatalf("Skipped = %v, want [pipe]", result.Skipped)
	}
	if len(logger.messages) != 1 {
		t.Errorf("logged %d warnings, want 1", len(logger.messages))
	}
}

func TestBuilder_Build_SkipsUnreadableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	root := filepath.Join(t.TempDir(), "root")
	locked := filepath.Join(root, "locked")
	testutil.MkdirAll(t, locked)
	testutil.Chmod(t, locked, 0o000)
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	node, result, err := tree.NewBuilder(nil).Build(root, "")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(node.Children) != 0 {
		t.Errorf("root has %d children, want 0", len(node.Children))
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Path != "locked" {
		t.Errorf("Skipped = %v, want [locked]", result.Skipped)
	}
}

func TestBuilder_Build_Ignore(t *testing.T) {
	root := testutil.NewFixture(t)

	b := &tree.Builder{Ignore: prefixMatcher("folder1/folder3")}
	node, result, err := b.Build(root, "")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if _, ok := node.Children["folder1"].Children["folder3"]; ok {
		t.Error("ignored directory is part of the tree")
	}
	if len(result.Ignored) != 1 || result.Ignored[0] != "folder1/folder3" {
		t.Errorf("Ignored = %v, want [folder1/folder3]", result.Ignored)
	}
}

func TestBuilder_Build_RootErrors(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		_, _, err := tree.NewBuilder(nil).Build(filepath.Join(t.TempDir(), "nope"), "")
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Build() error = %v, want ErrNotExist", err)
		}
	})

	t.Run("unsupported root", func(t *testing.T) {
		pipe := filepath.Join(t.TempDir(), "pipe")
		if err := unix.Mkfifo(pipe, 0644); err != nil {
			t.Skipf("mkfifo not supported: %v", err)
		}
		_, _, err := tree.NewBuilder(nil).Build(pipe, "")
		if !errors.Is(err, bkerrors.ErrInvalidArgument) {
			t.Errorf("Build() error = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("single file root", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "f.txt")
		testutil.WriteFile(t, path, []byte("x"), 0640)
		node, _, err := tree.NewBuilder(nil).Build(path, "")
		if err != nil {
			t.Fatalf("Build() error = %v", err)
		}
		if node.Kind != tree.KindFile || node.Permissions != 0o640 {
			t.Errorf("node = %s %o, want file 640", node.Kind, node.Permissions)
		}
	})
}
