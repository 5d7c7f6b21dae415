package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"deftheim/internal/core"
)

var systemCmd = &cobra.Command{
	Use:   "system",
	Short: "Game installation and BepInEx",
}

var systemDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Find the Valheim installation",
	Long: `Look for Valheim in the Steam libraries and common install locations.

Use --save to store the detected path in the settings.`,
	Args: cobra.NoArgs,
	RunE: runSystemDetect,
}

var systemFrameworkCmd = &cobra.Command{
	Use:   "framework",
	Short: "Check or install BepInEx",
	Long: `Report whether BepInEx is installed in the game directory. With --install
the BepInExPack for Valheim is downloaded and copied into the game.`,
	Args: cobra.NoArgs,
	RunE: runSystemFramework,
}

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch Valheim",
	Long: `Launch Valheim, switching to a profile first when --profile is given.

With BepInEx installed the game is started through its start script;
otherwise the launch is handed to Steam.`,
	Args: cobra.NoArgs,
	RunE: runLaunch,
}

var (
	detectSave       bool
	frameworkInstall bool
	launchProfile    string
)

func init() {
	systemDetectCmd.Flags().BoolVar(&detectSave, "save", false, "store the detected path in the settings")
	systemFrameworkCmd.Flags().BoolVar(&frameworkInstall, "install", false, "download and install BepInEx")
	launchCmd.Flags().StringVarP(&launchProfile, "profile", "p", "", "profile to switch to before launching")

	systemCmd.AddCommand(systemDetectCmd, systemFrameworkCmd)
	rootCmd.AddCommand(systemCmd, launchCmd)
}

func runSystemDetect(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	path, err := svc.DetectInstallPath(cmd.Context())
	if err != nil {
		return err
	}
	if detectSave {
		s := svc.LoadSettings(cmd.Context())
		s.ValheimPath = path
		if err := svc.SaveSettings(cmd.Context(), s); err != nil {
			return err
		}
	}
	return success(cmd.OutOrStdout(), map[string]any{"path": path, "saved": detectSave}, "Found Valheim at %s", path)
}

func runSystemFramework(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	if frameworkInstall {
		ctx := cmd.Context()
		if !jsonOutput() {
			ctx = core.WithDownloadProgress(ctx, progressPrinter(cmd.ErrOrStderr(), "BepInEx"))
		}
		if err := svc.InstallModFramework(ctx); err != nil {
			return err
		}
	}

	installed := svc.CheckModFramework()
	w := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(w, map[string]bool{"installed": installed})
	}
	if installed {
		fmt.Fprintln(w, styles().ok.Render("BepInEx is installed."))
	} else {
		fmt.Fprintln(w, styles().warn.Render("BepInEx is not installed.")+" Run 'deftheim system framework --install'.")
	}
	return nil
}

func runLaunch(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	id := ""
	if launchProfile != "" {
		p, err := resolveProfile(cmd.Context(), svc, launchProfile)
		if err != nil {
			return err
		}
		id = p.ID
	}
	result, err := svc.LaunchGame(cmd.Context(), id)
	if err != nil {
		return err
	}
	return success(cmd.OutOrStdout(), result, "Launched Valheim (%s)", result.Method)
}
