package subsystems

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// stateDirPerm keeps subsystem state readable by the gateway user only.
const stateDirPerm = 0o750

// fabricFile holds the Matter fabric identity inside the matter state dir.
const fabricFile = "fabric.yaml"

// StateDir returns the state directory of subsystem name under root.
func StateDir(root, name string) string {
	return filepath.Join(root, name)
}

func ensureStateDir(dir string) error {
	if err := os.MkdirAll(dir, stateDirPerm); err != nil {
		return fmt.Errorf("creating state directory %s: %w", dir, err)
	}
	return nil
}

// restoreStateDir replaces destDir/name with tempDir/name. The copy is
// staged beside the destination and swapped in with a rename, so a failed
// copy leaves the current state in place. A backup without a directory for
// name restores nothing and reports false.
func restoreStateDir(tempDir, destDir, name string) (bool, error) {
	src := filepath.Join(tempDir, name)
	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading backup %s: %w", src, err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("backup %s is not a directory", src)
	}

	if err := os.MkdirAll(destDir, stateDirPerm); err != nil {
		return false, fmt.Errorf("creating %s: %w", destDir, err)
	}
	dst := filepath.Join(destDir, name)
	staging := dst + ".restoring"
	if err := os.RemoveAll(staging); err != nil {
		return false, fmt.Errorf("clearing %s: %w", staging, err)
	}
	if err := os.CopyFS(staging, os.DirFS(src)); err != nil {
		_ = os.RemoveAll(staging) //nolint:errcheck // best-effort cleanup of a failed copy
		return false, fmt.Errorf("copying %s: %w", src, err)
	}
	if err := os.RemoveAll(dst); err != nil {
		return false, fmt.Errorf("removing %s: %w", dst, err)
	}
	if err := os.Rename(staging, dst); err != nil {
		return false, fmt.Errorf("installing %s: %w", dst, err)
	}
	return true, nil
}

// FabricState is the persisted identity of the gateway's Matter fabric.
type FabricState struct {
	FabricID  uint64    `yaml:"fabric_id"`
	VendorID  uint16    `yaml:"vendor_id"`
	CreatedAt time.Time `yaml:"created_at"`
}

func readFabric(dir string) (FabricState, bool, error) {
	var st FabricState
	data, err := os.ReadFile(filepath.Join(dir, fabricFile))
	if errors.Is(err, fs.ErrNotExist) {
		return st, false, nil
	}
	if err != nil {
		return st, false, fmt.Errorf("reading fabric state: %w", err)
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return st, false, fmt.Errorf("parsing fabric state: %w", err)
	}
	return st, true, nil
}

func writeFabric(dir string, st FabricState) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding fabric state: %w", err)
	}
	path := filepath.Join(dir, fabricFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing fabric state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("installing fabric state: %w", err)
	}
	return nil
}
