package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bytemomo/armada/internal/domain"
)

func TestResetRemovesStaleContent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "run1")
	stale := filepath.Join(root, "old-device", "nested")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stale, "result.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("<html/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Reset(root); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	assertEmptyDir(t, root)
}

func TestResetIsIdempotent(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does-not-exist-yet")

	if err := Reset(root); err != nil {
		t.Fatalf("first Reset: %v", err)
	}
	assertEmptyDir(t, root)

	if err := Reset(root); err != nil {
		t.Fatalf("second Reset: %v", err)
	}
	assertEmptyDir(t, root)
}

func TestResetRejectsDangerousPaths(t *testing.T) {
	for _, p := range []string{"", "   ", string(filepath.Separator)} {
		err := Reset(p)
		if !errors.Is(err, domain.ErrWorkspacePrepFailed) {
			t.Errorf("Reset(%q): expected ErrWorkspacePrepFailed, got %v", p, err)
		}
	}
}

func TestResetFailsWhenParentIsAFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "blocker")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := Reset(filepath.Join(file, "out"))
	if !errors.Is(err, domain.ErrWorkspacePrepFailed) {
		t.Fatalf("expected ErrWorkspacePrepFailed, got %v", err)
	}
}

func TestDeviceDir(t *testing.T) {
	tests := []struct {
		serial string
		want   string
	}{
		{"emulator-5554", "emulator-5554"},
		{"192.168.1.20:5555", "192.168.1.20_3a5555"},
		{"192.168.1.20_5555", "192.168.1.20__5555"},
		{"adb-xyz._adb-tls-connect._tcp", "adb-xyz.__adb-tls-connect.__tcp"},
		{"../escape", ".._2fescape"},
		{"..", "_2e_2e"},
		{"[fe80::1]:5555", "_5bfe80_3a_3a1_5d_3a5555"},
	}
	for _, tt := range tests {
		got := DeviceDir("/out", domain.Device{Serial: tt.serial})
		if want := filepath.Join("/out", tt.want); got != want {
			t.Errorf("DeviceDir(%q) = %q, want %q", tt.serial, got, want)
		}
	}
}

func TestDeviceDirDistinctSerials(t *testing.T) {
	serials := []string{
		"192.168.1.20:5555",
		"192.168.1.20_5555",
		"192.168.1.20__5555",
		"192.168.1.20_3a5555",
		"R58M123",
		"r58m123",
		"r58M123",
		"emulator-5554",
		"_",
		"",
		".",
		"..",
	}
	seen := map[string]string{}
	for _, serial := range serials {
		name := strings.ToLower(dirName(serial))
		if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			t.Errorf("dirName(%q) = %q is not a single path element", serial, name)
		}
		if prev, ok := seen[name]; ok {
			t.Errorf("serials %q and %q share directory %q", prev, serial, name)
		}
		seen[name] = serial
	}
}

func TestDeviceDirUpperCaseSerial(t *testing.T) {
	name := dirName("R58M123")
	if !strings.HasPrefix(name, "R58M123-") || len(name) != len("R58M123-")+8 {
		t.Fatalf("dirName(R58M123) = %q", name)
	}
	if dirName("R58M123") != name {
		t.Fatal("dirName is not stable")
	}
}

func TestPrepareDevice(t *testing.T) {
	root := t.TempDir()
	dir, err := PrepareDevice(root, domain.Device{Serial: "emulator-5554"})
	if err != nil {
		t.Fatalf("PrepareDevice: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected %s to be a directory: %v", dir, err)
	}
}

func assertEmptyDir(t *testing.T, path string) {
	t.Helper()
	entries, err := os.ReadDir(path)
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", path, err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected %s to be empty, found %d entries", path, len(entries))
	}
}
