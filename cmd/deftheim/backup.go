package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage backups",
	Long: `Manage backups of the mod repository, the deployed plugins, the plugin
configuration and the catalog.

Backups are also taken automatically before installs, updates and profile
switches when auto backup is enabled.`,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Take a backup now",
	Args:  cobra.NoArgs,
	RunE:  runBackupCreate,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Restore a backup",
	Long: `Replace the repository, plugins, plugin configuration and catalog with
the contents of a backup.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupRestore,
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <backup-id>",
	Short: "Delete a backup",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupDelete,
}

var backupDescription string

func init() {
	backupCreateCmd.Flags().StringVarP(&backupDescription, "description", "d", "", "backup description")

	backupCmd.AddCommand(backupListCmd, backupCreateCmd, backupRestoreCmd, backupDeleteCmd)
	rootCmd.AddCommand(backupCmd)
}

func runBackupList(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	backups, err := svc.ListBackups(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(w, backups)
	}
	if len(backups) == 0 {
		fmt.Fprintln(w, "No backups found.")
		return nil
	}

	st := styles()
	tw := newTable(w)
	fmt.Fprintln(tw, st.header.Render("ID")+"\tTAKEN\tTRIGGER\tSIZE\tDESCRIPTION")
	for _, b := range backups {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", b.ID, formatWhen(&b.Created), b.Trigger, formatSize(b.Size), truncate(b.Description, 40))
	}
	return tw.Flush()
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	b, err := svc.CreateBackup(cmd.Context(), backupDescription)
	if err != nil {
		return err
	}
	return success(cmd.OutOrStdout(), b, "Created backup %s (%s)", b.ID, formatSize(b.Size))
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.RestoreBackup(cmd.Context(), args[0]); err != nil {
		return err
	}
	return success(cmd.OutOrStdout(), map[string]string{"restored": args[0]}, "Restored backup %s", args[0])
}

func runBackupDelete(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.DeleteBackup(cmd.Context(), args[0]); err != nil {
		return err
	}
	return success(cmd.OutOrStdout(), map[string]string{"deleted": args[0]}, "Deleted backup %s", args[0])
}
