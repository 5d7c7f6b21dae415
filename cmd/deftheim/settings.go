package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"deftheim/internal/domain"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show and change application settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long: `Change one setting. Paths must be absolute.

Keys: valheim-path, bepinex-path, repository-path, backup-path, theme,
auto-update, auto-backup, language, link-method, backup-retention

Examples:
  deftheim settings set valheim-path ~/.steam/steam/steamapps/common/Valheim
  deftheim settings set auto-backup false`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

var settingsNexusKeyCmd = &cobra.Command{
	Use:   "nexus-key <api-key>",
	Short: "Store the Nexus Mods API key",
	Long: `Store the Nexus Mods API key used to look up and download mods from Nexus
Mods. Pass an empty string to remove the stored key.`,
	Args: cobra.ExactArgs(1),
	RunE: runSettingsNexusKey,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsNexusKeyCmd)
	rootCmd.AddCommand(settingsCmd)
}

type settingSetter func(s *domain.AppSettings, value string) error

func stringSetting(field func(*domain.AppSettings) *string) settingSetter {
	return func(s *domain.AppSettings, value string) error {
		*field(s) = value
		return nil
	}
}

func boolSetting(field func(*domain.AppSettings) *bool) settingSetter {
	return func(s *domain.AppSettings, value string) error {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return &usageError{fmt.Errorf("expected true or false, got %q", value)}
		}
		*field(s) = b
		return nil
	}
}

func setRetention(s *domain.AppSettings, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return &usageError{fmt.Errorf("expected a number, got %q", value)}
	}
	s.BackupRetention = n
	return nil
}

var settingKeys = map[string]settingSetter{
	"valheim-path":     stringSetting(func(s *domain.AppSettings) *string { return &s.ValheimPath }),
	"bepinex-path":     stringSetting(func(s *domain.AppSettings) *string { return &s.BepInExPath }),
	"repository-path":  stringSetting(func(s *domain.AppSettings) *string { return &s.RepositoryPath }),
	"backup-path":      stringSetting(func(s *domain.AppSettings) *string { return &s.BackupPath }),
	"theme":            stringSetting(func(s *domain.AppSettings) *string { return &s.Theme }),
	"language":         stringSetting(func(s *domain.AppSettings) *string { return &s.Language }),
	"link-method":      stringSetting(func(s *domain.AppSettings) *string { return &s.LinkMethod }),
	"auto-update":      boolSetting(func(s *domain.AppSettings) *bool { return &s.AutoUpdate }),
	"auto-backup":      boolSetting(func(s *domain.AppSettings) *bool { return &s.AutoBackup }),
	"backup-retention": setRetention,
}

func settingKeyNames() []string {
	names := make([]string, 0, len(settingKeys))
	for k := range settingKeys {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	s := svc.LoadSettings(cmd.Context())
	w := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(w, s)
	}

	orUnset := func(v string) string {
		if v == "" {
			return styles().dim.Render("(not set)")
		}
		return v
	}
	tw := newTable(w)
	fmt.Fprintf(tw, "valheim-path\t%s\n", orUnset(s.ValheimPath))
	fmt.Fprintf(tw, "bepinex-path\t%s\n", orUnset(s.BepInExPath))
	fmt.Fprintf(tw, "repository-path\t%s\n", s.RepositoryPath)
	fmt.Fprintf(tw, "backup-path\t%s\n", s.BackupPath)
	fmt.Fprintf(tw, "theme\t%s\n", s.Theme)
	fmt.Fprintf(tw, "language\t%s\n", s.Language)
	fmt.Fprintf(tw, "link-method\t%s\n", domain.ParseLinkMethod(s.LinkMethod))
	fmt.Fprintf(tw, "auto-update\t%t\n", s.AutoUpdate)
	fmt.Fprintf(tw, "auto-backup\t%t\n", s.AutoBackup)
	fmt.Fprintf(tw, "backup-retention\t%d\n", s.Retention())
	fmt.Fprintf(tw, "sources\t%v\n", svc.Sources())
	return tw.Flush()
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	set, ok := settingKeys[args[0]]
	if !ok {
		return &usageError{fmt.Errorf("unknown setting %q; valid keys: %v", args[0], settingKeyNames())}
	}

	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	s := svc.LoadSettings(cmd.Context())
	if err := set(&s, args[1]); err != nil {
		return err
	}
	if err := svc.SaveSettings(cmd.Context(), s); err != nil {
		return err
	}
	return success(cmd.OutOrStdout(), svc.LoadSettings(cmd.Context()), "Set %s to %s", args[0], args[1])
}

func runSettingsNexusKey(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.SetNexusAPIKey(cmd.Context(), args[0]); err != nil {
		return err
	}
	if args[0] == "" {
		return success(cmd.OutOrStdout(), map[string]bool{"stored": false}, "Removed the Nexus Mods API key")
	}
	return success(cmd.OutOrStdout(), map[string]bool{"stored": true}, "Stored the Nexus Mods API key")
}
