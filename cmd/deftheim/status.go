package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current status",
	Long: `Show the game path, BepInEx state, mod counts, the active profile and
pending updates.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	st, err := svc.Status(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(w, st)
	}

	s := styles()
	game := st.GamePath
	if game == "" {
		game = s.warn.Render("not set") + " (run 'deftheim system detect --save')"
	}
	framework := s.ok.Render("installed")
	if !st.FrameworkInstalled {
		framework = s.warn.Render("not installed")
	}
	active := s.dim.Render("none")
	if st.ActiveProfile != nil {
		active = st.ActiveProfile.Name
	}

	fmt.Fprintln(w, s.header.Render("Deftheim"))
	fmt.Fprintf(w, "  Game:       %s\n", game)
	fmt.Fprintf(w, "  BepInEx:    %s\n", framework)
	fmt.Fprintf(w, "  Repository: %s\n", st.RepositoryPath)
	fmt.Fprintf(w, "  Mods:       %d installed, %d enabled\n", st.Installed, st.Enabled)
	fmt.Fprintf(w, "  Profile:    %s\n", active)
	fmt.Fprintf(w, "  Updates:    %d pending\n", st.PendingUpdates)
	fmt.Fprintf(w, "  Backups:    %d\n", st.Backups)
	fmt.Fprintf(w, "  Sources:    %v\n", st.Sources)
	if st.Inconsistent != "" {
		fmt.Fprintln(w, s.err.Render(fmt.Sprintf("\n  Restoring backup %s did not complete; restore it again.", st.Inconsistent)))
	}
	return nil
}
