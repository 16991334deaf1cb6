package cli

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/modkit-labs/modkit/internal/capability"
	"github.com/modkit-labs/modkit/internal/modulator"
	"github.com/modkit-labs/modkit/internal/project"
	"github.com/spf13/cobra"
)

var (
	addDryRun  bool
	addForce   bool
	addYes     bool
	addOptions string

	removeDryRun bool
	removeYes    bool
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage capabilities installed in a project",
}

var pluginAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Install a capability into the project",
	Long: `Plan and apply the installation of a capability (e.g. auth.firebase).
Dependencies are merged and installed, the pack is attached, runtime wiring
and declarative patches are applied, and the project manifest is updated.`,
	Args: cobra.ExactArgs(1),
	RunE: runPluginAdd,
}

var pluginRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an installed capability from the project",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginRemove,
}

var pluginStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show installed capabilities and aggregated permissions",
	Args:  cobra.NoArgs,
	RunE:  runPluginStatus,
}

func init() {
	pluginAddCmd.Flags().BoolVar(&addDryRun, "dry-run", false, "Print the plan without applying it")
	pluginAddCmd.Flags().BoolVar(&addForce, "force", false, "Bypass the slot conflict gate")
	pluginAddCmd.Flags().BoolVarP(&addYes, "yes", "y", false, "Skip confirmation prompt")
	pluginAddCmd.Flags().StringVar(&addOptions, "options", "", "Pack options key for template variant selection")

	pluginRemoveCmd.Flags().BoolVar(&removeDryRun, "dry-run", false, "Print the plan without applying it")
	pluginRemoveCmd.Flags().BoolVarP(&removeYes, "yes", "y", false, "Skip confirmation prompt")

	pluginCmd.AddCommand(pluginAddCmd)
	pluginCmd.AddCommand(pluginRemoveCmd)
	pluginCmd.AddCommand(pluginStatusCmd)
	rootCmd.AddCommand(pluginCmd)
}

// buildModulator wires the registry and manifest store for the project
// root given by --project.
func buildModulator() (*modulator.Modulator, string, error) {
	root, err := filepath.Abs(flagProject)
	if err != nil {
		return nil, "", fmt.Errorf("resolving project root: %w", err)
	}

	store := project.NewStore(root)
	if !store.Exists() {
		return nil, "", &modulator.Error{
			Kind: modulator.KindValidation,
			Err:  fmt.Errorf("%s is not a modkit project (no %s); run 'modkit init' first", root, project.ManifestFile),
		}
	}

	sources, err := capability.DefaultSources()
	if err != nil {
		return nil, "", &modulator.Error{Kind: modulator.KindValidation, Err: err}
	}
	registry, err := capability.LoadRegistry(sources)
	if err != nil {
		return nil, "", &modulator.Error{Kind: modulator.KindValidation, Err: err}
	}

	mod := modulator.New(registry, store, buildVersion)
	return mod, root, nil
}

func runPluginAdd(cmd *cobra.Command, args []string) error {
	id := args[0]
	out := cmd.OutOrStdout()

	mod, root, err := buildModulator()
	if err != nil {
		return err
	}

	// The lock spans planning as well as apply; a plan computed against an
	// unlocked manifest could be invalidated by a concurrent invocation.
	lock, err := project.AcquireLock(root)
	if err != nil {
		return &modulator.Error{Kind: modulator.KindManifestIO, Err: err}
	}
	defer lock.Release()

	plan, err := mod.PlanInstall(id, addOptions)
	if err != nil {
		return err
	}

	printInstallPlan(out, plan)

	if addDryRun {
		return nil
	}

	if !plan.Allowed && !addForce {
		return &modulator.Error{
			Kind: modulator.KindConflict,
			Err:  fmt.Errorf("refusing to install %s: %d slot conflict(s); rerun with --force to override", id, len(plan.ConflictHits)),
		}
	}

	if !addYes && !confirm(cmd, "Proceed with installation?") {
		fmt.Fprintln(out, "Installation cancelled.")
		return nil
	}

	result, err := mod.Apply(cmd.Context(), plan, modulator.ApplyOptions{Force: addForce})
	printResult(out, result)
	if err != nil {
		return err
	}
	if !result.Success {
		return &silentError{code: exitForKind(result.FailureKind)}
	}
	return nil
}

func runPluginRemove(cmd *cobra.Command, args []string) error {
	id := args[0]
	out := cmd.OutOrStdout()

	mod, root, err := buildModulator()
	if err != nil {
		return err
	}

	lock, err := project.AcquireLock(root)
	if err != nil {
		return &modulator.Error{Kind: modulator.KindManifestIO, Err: err}
	}
	defer lock.Release()

	plan, err := mod.PlanRemove(id)
	if err != nil {
		return err
	}

	if plan.NoOp {
		fmt.Fprintf(out, "Capability %s is not installed — nothing to do.\n", id)
		return nil
	}

	printRemovePlan(out, plan)

	if removeDryRun {
		return nil
	}

	if !removeYes && !confirm(cmd, "Proceed with removal?") {
		fmt.Fprintln(out, "Removal cancelled.")
		return nil
	}

	result, err := mod.Apply(cmd.Context(), plan, modulator.ApplyOptions{})
	printResult(out, result)
	if err != nil {
		return err
	}
	if !result.Success {
		return &silentError{code: exitForKind(result.FailureKind)}
	}
	return nil
}

func runPluginStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	root, err := filepath.Abs(flagProject)
	if err != nil {
		return fmt.Errorf("resolving project root: %w", err)
	}
	store := project.NewStore(root)
	if !store.Exists() {
		return &modulator.Error{
			Kind: modulator.KindValidation,
			Err:  fmt.Errorf("%s is not a modkit project", root),
		}
	}

	manifest, err := store.Load()
	if err != nil {
		return &modulator.Error{Kind: modulator.KindManifestIO, Err: err}
	}

	fmt.Fprintf(out, "Project: %s (%s, %s, %s)\n",
		manifest.Identity.Name,
		manifest.Project.Target,
		manifest.Project.Language,
		manifest.Project.PackageManager)

	if len(manifest.Plugins) == 0 {
		fmt.Fprintln(out, "No capabilities installed.")
		return nil
	}

	ids := manifest.InstalledIDs()
	sort.Strings(ids)
	fmt.Fprintf(out, "\nInstalled capabilities (%d):\n", len(ids))
	for _, id := range ids {
		rec := manifest.Plugins[id]
		fmt.Fprintf(out, "  %s  %s  (installed %s)\n",
			id, rec.Version, rec.InstalledAt.Format("2006-01-02"))
	}

	if len(manifest.Permissions) > 0 {
		fmt.Fprintln(out, "\nPermissions:")
		for _, p := range manifest.Permissions {
			fmt.Fprintf(out, "  [%s] %s (required by %s)\n",
				p.Platform, p.Key, strings.Join(p.Sources, ", "))
		}
	}
	return nil
}

// confirm prompts on stdin and returns true for an empty or affirmative
// answer.
func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "? %s (Y/n) ", prompt)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		return false
	}
	answer := strings.TrimSpace(strings.ToLower(scanner.Text()))
	return answer == "" || answer == "y" || answer == "yes"
}

func printInstallPlan(w io.Writer, plan *modulator.Plan) {
	fmt.Fprintf(w, "Plan: install %s %s\n", plan.CapabilityID, plan.Version)

	if plan.Dependencies != nil && !plan.Dependencies.Empty() {
		fmt.Fprintf(w, "  Dependencies: %d runtime, %d dev\n",
			len(plan.Dependencies.Runtime), len(plan.Dependencies.Dev))
	}
	if plan.Attachment != nil {
		fmt.Fprintf(w, "  Pack: %d files to attach\n", len(plan.Attachment.Files))
		for _, c := range plan.Attachment.Conflicts {
			fmt.Fprintf(w, "  ✗ conflict: %s (%s)\n", c.Path, c.Reason)
		}
	}
	if n := len(plan.WiringAdded); n > 0 {
		fmt.Fprintf(w, "  Wiring: %d new symbols\n", n)
	}
	if n := len(plan.Patches); n > 0 {
		fmt.Fprintf(w, "  Patches: %d ops\n", n)
	}

	if !plan.Allowed {
		for _, hit := range plan.ConflictHits {
			fmt.Fprintf(w, "  ✗ slot %s is already occupied by %s\n", hit.Slot, hit.InstalledID)
		}
	}
	fmt.Fprintln(w)
}

func printRemovePlan(w io.Writer, plan *modulator.Plan) {
	fmt.Fprintf(w, "Plan: remove %s %s\n", plan.CapabilityID, plan.Version)
	fmt.Fprintf(w, "  Owned files to delete: %d\n", len(plan.RemoveOwnedPaths))
	fmt.Fprintf(w, "  Modified files to restore: %d\n", len(plan.RemoveModifiedFiles))
	fmt.Fprintln(w)
}

func printResult(w io.Writer, result *modulator.Result) {
	if result == nil {
		return
	}
	for _, phase := range result.Phases {
		mark := "✓"
		if !phase.Success {
			mark = "✗"
		}
		fmt.Fprintf(w, "  %s %s", mark, phase.Phase)
		if phase.Action == modulator.ActionSkipped {
			fmt.Fprint(w, " (skipped)")
		}
		if phase.Detail != "" {
			fmt.Fprintf(w, ": %s", phase.Detail)
		}
		fmt.Fprintln(w)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "  ⚠️  %s\n", warning)
	}
	if result.Success {
		fmt.Fprintf(w, "\n✓ %s of %s succeeded.\n", result.Operation, result.CapabilityID)
	} else {
		fmt.Fprintf(w, "\n✗ %s of %s failed.\n", result.Operation, result.CapabilityID)
	}
}
