package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and edit BepInEx plugin configuration files",
	Long: `Read and edit the plugin configuration files under BepInEx/config.

Paths are relative to the configuration directory and may not leave it.`,
}

var configListCmd = &cobra.Command{
	Use:   "list [path]",
	Short: "List configuration files",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigList,
}

var configTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "List every file below the configuration directory",
	Args:  cobra.NoArgs,
	RunE:  runConfigTree,
}

var configShowCmd = &cobra.Command{
	Use:   "show <file>",
	Short: "Print a configuration file",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigShow,
}

var configSaveCmd = &cobra.Command{
	Use:   "save <file>",
	Short: "Replace a configuration file with standard input",
	Long: `Replace a configuration file with the content read from standard input.

Examples:
  deftheim config save com.example.mod.cfg < edited.cfg`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigSave,
}

var configPath string

func init() {
	for _, c := range []*cobra.Command{configShowCmd, configSaveCmd} {
		c.Flags().StringVar(&configPath, "path", "", "subdirectory of the configuration directory")
	}
	configCmd.AddCommand(configListCmd, configTreeCmd, configShowCmd, configSaveCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigList(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	path := ""
	if len(args) == 1 {
		path = args[0]
	}
	files, err := svc.ListConfigFiles(cmd.Context(), path)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(w, files)
	}
	for _, f := range files {
		fmt.Fprintln(w, f)
	}
	return nil
}

func runConfigTree(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	files, err := svc.ConfigTree(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(w, files)
	}
	tw := newTable(w)
	fmt.Fprintln(tw, styles().header.Render("PATH")+"\tSIZE\tMODIFIED")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Path, formatSize(f.Size), formatWhen(&f.Modified))
	}
	return tw.Flush()
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	content, err := svc.ReadConfigFile(cmd.Context(), configPath, args[0])
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), map[string]string{"filename": args[0], "content": content})
	}
	fmt.Fprint(cmd.OutOrStdout(), content)
	return nil
}

func runConfigSave(cmd *cobra.Command, args []string) error {
	content, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("reading standard input: %w", err)
	}

	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.SaveConfigFile(cmd.Context(), configPath, args[0], string(content)); err != nil {
		return err
	}
	return success(cmd.OutOrStdout(), map[string]string{"saved": args[0]}, "Saved %s", args[0])
}
