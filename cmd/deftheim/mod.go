package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"deftheim/internal/core"
	"deftheim/internal/domain"
)

var modCmd = &cobra.Command{
	Use:   "mod",
	Short: "Manage mods in the repository",
	Long: `Manage the mods in the local repository.

Installed mods live in the repository; enabled mods are also deployed into
the game's BepInEx plugins directory.`,
}

var modListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog entries",
	Long: `List the mods known to the catalog.

Examples:
  deftheim mod list
  deftheim mod list --enabled`,
	Args: cobra.NoArgs,
	RunE: runModList,
}

var modScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Rescan the repository",
	Long: `Reconcile the catalog with the repository and the plugins directory.

Mods whose packages were removed by hand become not installed; mods whose
deployment was removed become disabled.`,
	Args: cobra.NoArgs,
	RunE: runModScan,
}

var modRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch the remote package listings",
	Long: `Refetch every remote repository listing and add the mods it offers to the
catalog as not installed. Installed mods keep their version and state.`,
	Args: cobra.NoArgs,
	RunE: runModRefresh,
}

var modInfoCmd = &cobra.Command{
	Use:   "info <mod-id>",
	Short: "Show details of a mod",
	Args:  cobra.ExactArgs(1),
	RunE:  runModInfo,
}

var modInstallCmd = &cobra.Command{
	Use:   "install <mod-id>",
	Short: "Download and install a mod",
	Long: `Download a mod from the configured repositories and install it into the
local repository. The mod is installed disabled.

Examples:
  deftheim mod install RandyKnapp-EquipmentAndQuickSlots
  deftheim mod install ValheimModding-Jotunn --with-deps`,
	Args: cobra.ExactArgs(1),
	RunE: runModInstall,
}

var modUninstallCmd = &cobra.Command{
	Use:   "uninstall <mod-id>",
	Short: "Remove a mod from the repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runModUninstall,
}

var modEnableCmd = &cobra.Command{
	Use:   "enable <mod-id>",
	Short: "Deploy an installed mod into the game",
	Args:  cobra.ExactArgs(1),
	RunE:  runModEnable,
}

var modDisableCmd = &cobra.Command{
	Use:   "disable <mod-id>",
	Short: "Remove a mod's deployment from the game",
	Args:  cobra.ExactArgs(1),
	RunE:  runModDisable,
}

var (
	modListEnabled   bool
	modListInstalled bool
	modInstallDeps   bool
)

func init() {
	modListCmd.Flags().BoolVar(&modListEnabled, "enabled", false, "only show enabled mods")
	modListCmd.Flags().BoolVar(&modListInstalled, "installed", false, "only show installed mods")
	modInstallCmd.Flags().BoolVar(&modInstallDeps, "with-deps", false, "also install missing dependencies")

	modCmd.AddCommand(modListCmd, modScanCmd, modRefreshCmd, modInfoCmd, modInstallCmd, modUninstallCmd, modEnableCmd, modDisableCmd)
	rootCmd.AddCommand(modCmd)
}

func runModList(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	mods, err := svc.ListMods(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing mods: %w", err)
	}
	return printMods(cmd, filterMods(mods, modListInstalled, modListEnabled))
}

func runModScan(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	mods, err := svc.ScanMods(cmd.Context())
	if err != nil {
		return err
	}
	return printMods(cmd, mods)
}

func runModRefresh(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	mods, err := svc.RefreshCatalog(cmd.Context())
	if err != nil {
		return err
	}
	return printMods(cmd, mods)
}

func filterMods(mods []domain.Mod, installed, enabled bool) []domain.Mod {
	out := make([]domain.Mod, 0, len(mods))
	for _, m := range mods {
		if enabled && !m.Enabled() {
			continue
		}
		if installed && !m.Installed() {
			continue
		}
		out = append(out, m)
	}
	return out
}

func printMods(cmd *cobra.Command, mods []domain.Mod) error {
	w := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(w, mods)
	}
	if len(mods) == 0 {
		fmt.Fprintln(w, "No mods found.")
		return nil
	}

	st := styles()
	tw := newTable(w)
	fmt.Fprintln(tw, st.header.Render("ID")+"\tVERSION\tSTATE\tSIZE\tSOURCE")
	for _, m := range mods {
		state := m.State.String()
		switch m.State {
		case domain.StateEnabled:
			state = st.ok.Render(state)
		case domain.StateNotInstalled:
			state = st.dim.Render(state)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", truncate(m.ID, 48), m.Version, state, formatSize(m.Size), m.Source)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d mod(s)\n", len(mods))
	return nil
}

func runModInfo(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	m, err := svc.GetMod(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(w, m)
	}
	st := styles()
	fmt.Fprintln(w, st.header.Render(m.Name))
	fmt.Fprintf(w, "  ID:           %s\n", m.ID)
	fmt.Fprintf(w, "  Version:      %s\n", m.Version)
	fmt.Fprintf(w, "  Author:       %s\n", m.Author)
	fmt.Fprintf(w, "  State:        %s\n", m.State)
	fmt.Fprintf(w, "  Size:         %s\n", formatSize(m.Size))
	if m.Source != "" {
		fmt.Fprintf(w, "  Source:       %s\n", m.Source)
	}
	if len(m.Dependencies) > 0 {
		fmt.Fprintf(w, "  Dependencies: %s\n", strings.Join(m.Dependencies, ", "))
	}
	if m.Description != "" {
		fmt.Fprintf(w, "\n  %s\n", m.Description)
	}
	return nil
}

func runModInstall(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx := cmd.Context()
	if !jsonOutput() {
		ctx = core.WithDownloadProgress(ctx, progressPrinter(cmd.ErrOrStderr(), args[0]))
	}
	m, err := svc.InstallMod(ctx, args[0], modInstallDeps)
	if err != nil {
		return err
	}
	return success(cmd.OutOrStdout(), m, "Installed %s %s", m.ID, m.Version)
}

func runModUninstall(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.UninstallMod(cmd.Context(), args[0]); err != nil {
		return err
	}
	return success(cmd.OutOrStdout(), map[string]string{"uninstalled": args[0]}, "Uninstalled %s", args[0])
}

func runModEnable(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.EnableMod(cmd.Context(), args[0]); err != nil {
		return err
	}
	return success(cmd.OutOrStdout(), map[string]string{"enabled": args[0]}, "Enabled %s", args[0])
}

func runModDisable(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.DisableMod(cmd.Context(), args[0]); err != nil {
		return err
	}
	return success(cmd.OutOrStdout(), map[string]string{"disabled": args[0]}, "Disabled %s", args[0])
}
