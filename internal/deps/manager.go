package deps

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// lockFiles maps package-manager lock files to the manager that owns them,
// in detection priority order.
var lockFiles = []struct {
	file string
	pm   string
}{
	{"pnpm-lock.yaml", "pnpm"},
	{"yarn.lock", "yarn"},
	{"bun.lockb", "bun"},
	{"bun.lock", "bun"},
	{"package-lock.json", "npm"},
}

// DetectManager infers the project's package manager from its lock file.
// Falls back to npm when no lock file is present.
func DetectManager(root string) string {
	for _, lf := range lockFiles {
		if _, err := os.Stat(filepath.Join(root, lf.file)); err == nil {
			return lf.pm
		}
	}
	return "npm"
}

// minVersions are the oldest package-manager releases the runner drives.
// Older releases mishandle the batched add/install argument forms.
var minVersions = map[string]string{
	"npm":  "8.0.0",
	"yarn": "1.22.0",
	"pnpm": "7.0.0",
	"bun":  "1.0.0",
}

// Preflight probes the package manager's version and rejects releases
// older than the supported minimum before any batch runs.
func Preflight(ctx context.Context, pm string) error {
	got, err := ProbeVersion(ctx, pm)
	if err != nil {
		return err
	}
	minimum, ok := minVersions[pm]
	if !ok {
		return nil
	}
	return CheckMinVersion(pm, got, minimum)
}

// ProbeVersion runs `<pm> --version` and returns the reported version.
func ProbeVersion(ctx context.Context, pm string) (string, error) {
	bin, err := exec.LookPath(pm)
	if err != nil {
		return "", fmt.Errorf("package manager %q not found on PATH: %w", pm, err)
	}
	out, err := exec.CommandContext(ctx, bin, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("probing %s version: %w", pm, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CheckMinVersion reports an error when the probed version is older than
// the required minimum. Unparsable versions are rejected rather than
// waved through.
func CheckMinVersion(pm, got, minimum string) error {
	gv, err := semver.NewVersion(strings.TrimPrefix(got, "v"))
	if err != nil {
		return fmt.Errorf("cannot parse %s version %q: %w", pm, got, err)
	}
	mv, err := semver.NewVersion(minimum)
	if err != nil {
		return fmt.Errorf("cannot parse minimum version %q: %w", minimum, err)
	}
	if gv.LessThan(mv) {
		return fmt.Errorf("%s %s is older than required %s", pm, got, minimum)
	}
	return nil
}
