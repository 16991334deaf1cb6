package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/modkit-labs/modkit/internal/deps"
	"github.com/modkit-labs/modkit/internal/modulator"
	"github.com/modkit-labs/modkit/internal/project"
	"github.com/modkit-labs/modkit/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	initTarget   string
	initLanguage string
	initPM       string
	initDir      string
)

var initCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Scaffold a new project and its manifest",
	Long: `Generate a project skeleton with the runtime composition file and write
the initial manifest. Existing files are never overwritten; rerunning init
inside a partially scaffolded directory fills in only the missing pieces.`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initTarget, "target", "expo", "Project target (expo or bare)")
	initCmd.Flags().StringVar(&initLanguage, "language", "ts", "Source language (ts or js)")
	initCmd.Flags().StringVar(&initPM, "package-manager", "npm", "Package manager (npm, yarn, pnpm, bun; detected from a lock file when unset)")
	initCmd.Flags().StringVar(&initDir, "dir", "", "Output directory (defaults to the slugified name)")
	rootCmd.AddCommand(initCmd)
}

var validTargets = map[string]bool{"expo": true, "bare": true}
var validLanguages = map[string]bool{"ts": true, "js": true}
var validManagers = map[string]bool{"npm": true, "yarn": true, "pnpm": true, "bun": true}

func runInit(cmd *cobra.Command, args []string) error {
	name := args[0]
	out := cmd.OutOrStdout()

	if !validTargets[initTarget] {
		return &modulator.Error{Kind: modulator.KindValidation, Err: fmt.Errorf("unknown target %q (expected expo or bare)", initTarget)}
	}
	if !validLanguages[initLanguage] {
		return &modulator.Error{Kind: modulator.KindValidation, Err: fmt.Errorf("unknown language %q (expected ts or js)", initLanguage)}
	}
	if !validManagers[initPM] {
		return &modulator.Error{Kind: modulator.KindValidation, Err: fmt.Errorf("unknown package manager %q", initPM)}
	}

	data := scaffold.NewData(name, initTarget, initLanguage, initPM, buildVersion)

	dir := initDir
	if dir == "" {
		dir = data.Slug
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving output directory: %w", err)
	}

	store := project.NewStore(root)
	if store.Exists() {
		return &modulator.Error{
			Kind: modulator.KindValidation,
			Err:  fmt.Errorf("%s is already a project (found %s)", root, project.ManifestFile),
		}
	}

	// Without an explicit flag, an existing lock file in the output
	// directory decides the package manager.
	if !cmd.Flags().Changed("package-manager") {
		if detected := deps.DetectManager(root); detected != data.PackageManager {
			fmt.Fprintf(out, "Using %s (detected from its lock file)\n", detected)
			data.PackageManager = detected
		}
	}

	result, err := scaffold.Generate(data, root)
	if err != nil {
		return fmt.Errorf("scaffolding project: %w", err)
	}

	now := time.Now().UTC()
	manifest := &project.Manifest{
		SchemaVersion: project.SchemaVersion,
		CLI: project.CLIInfo{
			Version:      buildVersion,
			CreatedAt:    now,
			LastModified: now,
		},
		Identity: project.Identity{Name: name, Slug: data.Slug},
		Project: project.Settings{
			Target:         initTarget,
			Language:       initLanguage,
			PackageManager: data.PackageManager,
		},
		Plugins: map[string]*project.Record{},
	}
	if err := store.Init(manifest); err != nil {
		return &modulator.Error{Kind: modulator.KindManifestIO, Err: err}
	}

	fmt.Fprintf(out, "✓ Created project %s in %s\n", name, root)
	fmt.Fprintf(out, "  %d files generated", len(result.Files))
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, ", %d existing files kept", len(result.Skipped))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "\nNext steps:\n  cd %s\n  %s plugin add <capability>\n", dir, cmd.Root().Name())
	return nil
}
