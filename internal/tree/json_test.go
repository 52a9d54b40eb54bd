package tree_test

import (
	"encoding/json"
	"errors"
	"testing"

	"bakker-go/internal/pkg/bkerrors"
	"bakker-go/internal/testutil"
	"bakker-go/internal/tree"
)

func TestNode_JSONRoundTrip(t *testing.T) {
	root := testutil.NewFixture(t)
	node, _, err := tree.NewBuilder(nil).Build(root, "")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	data, err := json.Marshal(node)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got tree.Node
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !node.Equal(&got) {
		t.Error("decoded tree differs from original")
	}

	again, err := json.Marshal(&got)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(again) != string(data) {
		t.Error("serialization is not canonical")
	}
}

func TestNode_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
		check   func(t *testing.T, n *tree.Node)
	}{
		{
			name: "children in any order",
			input: `{"name":"","checksum":"abc","permissions":493,"type":"directory","children":[
				{"name":"z","checksum":"01","permissions":420,"type":"file"},
				{"name":"a","checksum":"02","permissions":511,"type":"symlink"}]}`,
			check: func(t *testing.T, n *tree.Node) {
				if len(n.Children) != 2 {
					t.Fatalf("got %d children, want 2", len(n.Children))
				}
				if n.Children["a"].Kind != tree.KindSymlink || n.Children["z"].Permissions != 0o644 {
					t.Errorf("children decoded incorrectly: %+v", n.Children)
				}
			},
		},
		{
			name:  "directory without children key",
			input: `{"name":"d","checksum":"ef46db3751d8e999","permissions":448,"type":"directory"}`,
			check: func(t *testing.T, n *tree.Node) {
				if n.Children == nil || len(n.Children) != 0 {
					t.Errorf("Children = %v, want empty map", n.Children)
				}
			},
		},
		{
			name:    "unknown type",
			input:   `{"name":"x","checksum":"01","permissions":420,"type":"fifo"}`,
			wantErr: bkerrors.ErrFormat,
		},
		{
			name:    "nested unknown type",
			input:   `{"name":"","checksum":"01","permissions":493,"type":"directory","children":[{"name":"x","checksum":"01","permissions":420,"type":"socket"}]}`,
			wantErr: bkerrors.ErrFormat,
		},
		{
			name:    "missing checksum",
			input:   `{"name":"x","permissions":420,"type":"file"}`,
			wantErr: bkerrors.ErrFormat,
		},
		{
			name:    "file with children",
			input:   `{"name":"x","checksum":"01","permissions":420,"type":"file","children":[]}`,
			wantErr: bkerrors.ErrFormat,
		},
		{
			name:    "duplicate child",
			input:   `{"name":"","checksum":"01","permissions":493,"type":"directory","children":[{"name":"a","checksum":"01","permissions":420,"type":"file"},{"name":"a","checksum":"02","permissions":420,"type":"file"}]}`,
			wantErr: bkerrors.ErrFormat,
		},
		{
			name:    "child name escapes parent",
			input:   `{"name":"","checksum":"01","permissions":493,"type":"directory","children":[{"name":"..","checksum":"01","permissions":420,"type":"file"}]}`,
			wantErr: bkerrors.ErrFormat,
		},
		{
			name:    "not json",
			input:   `{"name":`,
			wantErr: bkerrors.ErrFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n tree.Node
			err := n.UnmarshalJSON([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("UnmarshalJSON() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("UnmarshalJSON() error = %v", err)
			}
			tt.check(t, &n)
		})
	}
}

func TestKind(t *testing.T) {
	for _, k := range []tree.Kind{tree.KindFile, tree.KindSymlink, tree.KindDirectory} {
		got, err := tree.ParseKind(k.String())
		if err != nil {
			t.Fatalf("ParseKind(%q) error = %v", k.String(), err)
		}
		if got != k {
			t.Errorf("ParseKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
}

func TestModeBits(t *testing.T) {
	tests := []struct {
		bits uint32
	}{
		{0o644}, {0o777}, {0o4755}, {0o2750}, {0o1777}, {0o000},
	}
	for _, tt := range tests {
		if got := tree.ModeBits(tree.FileMode(tt.bits)); got != tt.bits {
			t.Errorf("ModeBits(FileMode(%o)) = %o", tt.bits, got)
		}
	}
}
