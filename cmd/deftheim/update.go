package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"deftheim/internal/domain"
)

var updateCmd = &cobra.Command{
	Use:   "update [mod-id]",
	Short: "Check for and apply mod updates",
	Long: `Check the remote repositories for newer releases of installed mods.

Without --apply the available updates are only listed. With --apply and a
mod id that mod is updated; with --apply alone every pending update from the
last check is applied.

Examples:
  deftheim update
  deftheim update --apply
  deftheim update --apply Azumatt-AzuCraftyBoxes`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUpdate,
}

var updateApply bool

func init() {
	updateCmd.Flags().BoolVar(&updateApply, "apply", false, "apply updates instead of listing them")
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx := cmd.Context()
	w := cmd.OutOrStdout()
	st := styles()

	if !updateApply {
		if len(args) > 0 {
			return &usageError{errors.New("a mod id requires --apply")}
		}
		plan, err := svc.CheckUpdates(ctx)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(w, plan)
		}
		if len(plan) == 0 {
			fmt.Fprintln(w, st.ok.Render("All mods are up to date."))
			return nil
		}
		tw := newTable(w)
		fmt.Fprintln(tw, st.header.Render("MOD")+"\tCURRENT\tAVAILABLE\tSOURCE")
		for _, u := range plan {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ModID, u.CurrentVersion, st.ok.Render(u.AvailableVersion), u.Source)
		}
		tw.Flush()
		fmt.Fprintf(w, "\n%d update(s) available. Run 'deftheim update --apply' to install them.\n", len(plan))
		return nil
	}

	if len(args) == 1 {
		m, err := svc.UpdateMod(ctx, "", args[0])
		if err != nil {
			return err
		}
		return success(w, m, "%s is at %s", m.ID, m.Version)
	}

	if !jsonOutput() {
		ctx = context.WithValue(ctx, domain.UpdateProgressContextKey, domain.UpdateProgressFunc(func(n, total int, modID string) {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%d/%d] %s\n", n, total, modID)
		}))
	}
	results, runErr := svc.UpdateAllMods(ctx, "")
	var batchErr *domain.BatchUpdateError
	if runErr != nil && !errors.As(runErr, &batchErr) {
		return runErr
	}

	if jsonOutput() {
		if err := printJSON(w, results); err != nil {
			return err
		}
		return runErr
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No pending updates. Run 'deftheim update' to check.")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, st.header.Render("MOD")+"\tFROM\tTO\tRESULT")
	for _, r := range results {
		status := string(r.Status)
		switch r.Status {
		case domain.UpdateApplied:
			status = st.ok.Render(status)
		case domain.UpdateFailed:
			status = st.err.Render(status + ": " + r.Error)
		case domain.UpdateNotReached:
			status = st.warn.Render(status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ModID, r.FromVersion, r.ToVersion, status)
	}
	tw.Flush()
	return runErr
}
