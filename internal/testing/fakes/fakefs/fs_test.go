package fakefs

import (
	"io/fs"
	"os"
	"testing"
)

func TestFS_ReadWriteFile(t *testing.T) {
	f := New()

	// WriteFile auto-creates parent directories (like production behavior)
	err := f.WriteFile("/nonexistent/nested/file.txt", []byte("data"), 0644)
	if err != nil {
		t.Fatalf("WriteFile() should auto-create parents, got error: %v", err)
	}

	// Verify data was written
	data, err := f.ReadFile("/nonexistent/nested/file.txt")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "data" {
		t.Errorf("ReadFile() = %q, want %q", data, "data")
	}

	// Test overwrite
	err = f.WriteFile("/nonexistent/nested/file.txt", []byte("updated"), 0644)
	if err != nil {
		t.Fatalf("WriteFile() overwrite error = %v", err)
	}

	data, err = f.ReadFile("/nonexistent/nested/file.txt")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "updated" {
		t.Errorf("ReadFile() = %q, want %q", data, "updated")
	}
}

func TestFS_Stat(t *testing.T) {
	f := New()
	f.AddFile("/tmp/test.txt", []byte("hello"), 0644)

	info, err := f.Stat("/tmp/test.txt")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}

	if info.Name() != "test.txt" {
		t.Errorf("Name() = %q, want %q", info.Name(), "test.txt")
	}
	if info.Size() != 5 {
		t.Errorf("Size() = %d, want %d", info.Size(), 5)
	}
	if info.IsDir() {
		t.Error("IsDir() = true, want false")
	}
}

func TestFS_StatNotExist(t *testing.T) {
	f := New()

	_, err := f.Stat("/nonexistent")
	if err == nil {
		t.Error("Stat() should return error for nonexistent file")
	}
	if !isNotExist(err) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestFS_MkdirAll(t *testing.T) {
	f := New()

	err := f.MkdirAll("/a/b/c/d", 0755)
	if err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	// Verify directories exist via Stat
	for _, path := range []string{"/a", "/a/b", "/a/b/c", "/a/b/c/d"} {
		info, err := f.Stat(path)
		if err != nil {
			t.Errorf("Stat(%q) error = %v", path, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("Stat(%q).IsDir() = false, want true", path)
		}
	}
}

func TestFS_Remove(t *testing.T) {
	f := New()
	f.AddFile("/tmp/test.txt", []byte("data"), 0644)

	err := f.Remove("/tmp/test.txt")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	_, err = f.Stat("/tmp/test.txt")
	if err == nil {
		t.Error("file should not exist after Remove()")
	}
}

func TestFS_OpenFile(t *testing.T) {
	tests := []struct {
		name    string
		initial string
		exists  bool
		flag    int
		writes  []string
		want    string
		wantErr bool
	}{
		{"create new", "", false, os.O_CREATE | os.O_WRONLY, []string{"a", "b"}, "ab", false},
		{"append", "head\n", true, os.O_APPEND | os.O_WRONLY, []string{"tail\n"}, "head\ntail\n", false},
		{"truncate", "old data", true, os.O_TRUNC | os.O_WRONLY, []string{"new"}, "new", false},
		{"overwrite prefix", "abcdef", true, os.O_WRONLY, []string{"XY"}, "XYcdef", false},
		{"missing without create", "", false, os.O_WRONLY, nil, "", true},
		{"exclusive on existing", "x", true, os.O_CREATE | os.O_EXCL | os.O_WRONLY, nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New()
			if tt.exists {
				f.AddFile("/var/log/app.log", []byte(tt.initial), 0o644)
			}

			h, err := f.OpenFile("/var/log/app.log", tt.flag, 0o600)
			if tt.wantErr {
				if err == nil {
					t.Fatal("OpenFile() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("OpenFile() error = %v", err)
			}
			for _, w := range tt.writes {
				if _, err := h.Write([]byte(w)); err != nil {
					t.Fatalf("Write() error = %v", err)
				}
			}
			if err := h.Sync(); err != nil {
				t.Errorf("Sync() error = %v", err)
			}
			if err := h.Close(); err != nil {
				t.Errorf("Close() error = %v", err)
			}

			data, _ := f.ReadFile("/var/log/app.log")
			if string(data) != tt.want {
				t.Errorf("content = %q, want %q", data, tt.want)
			}
		})
	}
}

func TestFS_OpenFile_WriteAfterClose(t *testing.T) {
	f := New()
	h, err := f.OpenFile("/tmp/x", os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	h.Close()

	if _, err := h.Write([]byte("late")); err == nil {
		t.Error("Write() after Close should fail")
	}
	if err := h.Close(); err == nil {
		t.Error("second Close() should fail")
	}
}

func TestFS_EnvAndHome(t *testing.T) {
	f := New()
	if home, _ := f.UserHomeDir(); home != "/home/test" {
		t.Errorf("UserHomeDir() = %q, want /home/test", home)
	}
	f.SetHomeDir("/root")
	f.SetEnv("SSH_AUTH_SOCK", "/tmp/agent.sock")

	if home, _ := f.UserHomeDir(); home != "/root" {
		t.Errorf("UserHomeDir() = %q, want /root", home)
	}
	if got := f.Getenv("SSH_AUTH_SOCK"); got != "/tmp/agent.sock" {
		t.Errorf("Getenv() = %q", got)
	}
	if got := f.Getenv("UNSET"); got != "" {
		t.Errorf("Getenv(UNSET) = %q, want empty", got)
	}
}

func TestFS_AddFile(t *testing.T) {
	f := New()
	f.AddFile("/deep/nested/path/file.txt", []byte("content"), 0644)

	data, err := f.ReadFile("/deep/nested/path/file.txt")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "content" {
		t.Errorf("ReadFile() = %q, want %q", data, "content")
	}
}

func isNotExist(err error) bool {
	if pathErr, ok := err.(*fs.PathError); ok {
		return pathErr.Err == fs.ErrNotExist
	}
	return false
}
