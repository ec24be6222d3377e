package pathutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestSandbox_Resolve(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "scenarios"), 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	sb, err := NewSandbox(root)
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	realRoot := sb.Dirs()[0]

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr error
		errText string
	}{
		{name: "relative", path: "scenarios/a.yaml", want: filepath.Join(realRoot, "scenarios", "a.yaml")},
		{name: "absolute inside", path: filepath.Join(root, "a.yaml"), want: filepath.Join(realRoot, "a.yaml")},
		{name: "missing directories", path: "new/dir/a.yaml", want: filepath.Join(realRoot, "new", "dir", "a.yaml")},
		{name: "root itself", path: root, want: realRoot},
		{name: "dot-dot escape", path: "../../etc/passwd", wantErr: ErrOutsideSandbox},
		{name: "absolute outside", path: filepath.Join(other, "a.yaml"), wantErr: ErrOutsideSandbox},
		{name: "null byte", path: "a\x00.yaml", errText: "null byte"},
		{name: "empty", path: "", errText: "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sb.Resolve(tt.path)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Resolve(%q) error = %v, want %v", tt.path, err, tt.wantErr)
				}
			case tt.errText != "":
				if err == nil || !strings.Contains(err.Error(), tt.errText) {
					t.Errorf("Resolve(%q) error = %v, want %q", tt.path, err, tt.errText)
				}
			default:
				if err != nil {
					t.Fatalf("Resolve(%q) error = %v", tt.path, err)
				}
				if got != tt.want {
					t.Errorf("Resolve(%q) = %s, want %s", tt.path, got, tt.want)
				}
			}
		})
	}
}

func TestSandbox_SymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := t.TempDir()
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.WriteFile(filepath.Join(outside, "secret.yaml"), []byte("x"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink(filepath.Join(outside, "secret.yaml"), filepath.Join(root, "file.yaml")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	sb, err := NewSandbox(root)
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	for _, p := range []string{"link/secret.yaml", "file.yaml"} {
		if _, err := sb.Resolve(p); !errors.Is(err, ErrOutsideSandbox) {
			t.Errorf("Resolve(%q) error = %v, want ErrOutsideSandbox", p, err)
		}
	}
}

func TestSandbox_MultipleDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	sb, err := NewSandbox(a, "", b)
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	if len(sb.Dirs()) != 2 {
		t.Errorf("Dirs() = %v, want 2 entries", sb.Dirs())
	}
	if _, err := sb.Resolve(filepath.Join(b, "x.yaml")); err != nil {
		t.Errorf("second directory rejected: %v", err)
	}
}

func TestNewSandbox_Empty(t *testing.T) {
	if _, err := NewSandbox(); err == nil {
		t.Error("NewSandbox() with no directories should fail")
	}
	if _, err := NewSandbox(""); err == nil {
		t.Error("NewSandbox(\"\") should fail")
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"a.yaml", "a.yaml"},
		{"/a.yaml", "a.yaml"},
		{"/home/user/.cellsim/config.yaml", ".../.cellsim/config.yaml"},
	}
	for _, tt := range tests {
		if got := Redact(tt.in); got != tt.want {
			t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
