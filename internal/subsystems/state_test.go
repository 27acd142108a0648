package subsystems

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestRestoreStateDir(t *testing.T) {
	backup := t.TempDir()
	dest := t.TempDir()

	writeFile(t, filepath.Join(backup, "thread", "dataset.tlv"), "restored")
	writeFile(t, filepath.Join(backup, "thread", "nested", "extra"), "x")
	writeFile(t, filepath.Join(dest, "thread", "stale"), "old")

	restored, err := restoreStateDir(backup, dest, "thread")
	if err != nil || !restored {
		t.Fatalf("restoreStateDir() = %v, %v; want true, nil", restored, err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "thread", "dataset.tlv"))
	if err != nil || string(data) != "restored" {
		t.Errorf("dataset.tlv = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dest, "thread", "nested", "extra")); err != nil {
		t.Errorf("nested file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "thread", "stale")); !os.IsNotExist(err) {
		t.Errorf("stale file survived restore: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "thread.restoring")); !os.IsNotExist(err) {
		t.Errorf("staging directory left behind: %v", err)
	}
}

func TestRestoreStateDir_NothingToRestore(t *testing.T) {
	dest := t.TempDir()
	writeFile(t, filepath.Join(dest, "zigbee", "keep"), "current")

	restored, err := restoreStateDir(t.TempDir(), dest, "zigbee")
	if err != nil || restored {
		t.Fatalf("restoreStateDir() = %v, %v; want false, nil", restored, err)
	}
	if _, err := os.Stat(filepath.Join(dest, "zigbee", "keep")); err != nil {
		t.Errorf("current state touched: %v", err)
	}
}

func TestRestoreStateDir_NotADirectory(t *testing.T) {
	backup := t.TempDir()
	writeFile(t, filepath.Join(backup, "matter"), "not a dir")

	if _, err := restoreStateDir(backup, t.TempDir(), "matter"); err == nil {
		t.Error("restoreStateDir() expected error for a file in place of a directory")
	}
}

func TestFabricState(t *testing.T) {
	dir := t.TempDir()

	if _, ok, err := readFabric(dir); err != nil || ok {
		t.Fatalf("readFabric() on empty dir = %v, %v", ok, err)
	}

	want := FabricState{FabricID: 7, VendorID: 0xFFF1, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	if err := writeFabric(dir, want); err != nil {
		t.Fatalf("writeFabric() error = %v", err)
	}
	got, ok, err := readFabric(dir)
	if err != nil || !ok {
		t.Fatalf("readFabric() = %v, %v", ok, err)
	}
	if got.FabricID != want.FabricID || got.VendorID != want.VendorID || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("readFabric() = %+v, want %+v", got, want)
	}

	writeFile(t, filepath.Join(dir, fabricFile), "fabric_id: [")
	if _, _, err := readFabric(dir); err == nil {
		t.Error("readFabric() expected error for corrupt YAML")
	}
}
