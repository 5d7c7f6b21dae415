package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"deftheim/internal/domain"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage mod profiles",
	Long: `Manage mod profiles.

A profile is a named selection of mods. Switching to a profile deploys
exactly its mods and undeploys everything else. Profiles can be referred to
by id or by name.`,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all profiles",
	Args:  cobra.NoArgs,
	RunE:  runProfileList,
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new profile",
	Long: `Create a new profile.

Examples:
  deftheim profile create "Vanilla+"
  deftheim profile create Building --mods Azumatt-PlanBuild,Jotunn-Jotunn`,
	Args: cobra.ExactArgs(1),
	RunE: runProfileCreate,
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <profile>",
	Short: "Delete a profile",
	Long: `Delete a profile. Installed mods are not touched.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileDelete,
}

var profileSwitchCmd = &cobra.Command{
	Use:   "switch <profile>",
	Short: "Switch to a different profile",
	Long: `Switch to a profile, deploying its mods and undeploying all others.

If a step fails the previous deployment is restored.`,
	Args: cobra.ExactArgs(1),
	RunE: runProfileSwitch,
}

var profileDuplicateCmd = &cobra.Command{
	Use:   "duplicate <profile>",
	Short: "Copy a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileDuplicate,
}

var profileExportCmd = &cobra.Command{
	Use:   "export <profile>",
	Short: "Print a share code for a profile",
	Long: `Print a share code that others can import with 'deftheim profile import'.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileExport,
}

var profileImportCmd = &cobra.Command{
	Use:   "import <code>",
	Short: "Create a profile from a share code",
	Long: `Create a new profile from a share code. Existing profiles are never
overwritten: a taken name gets a numeric suffix.`,
	Args: cobra.ExactArgs(1),
	RunE: runProfileImport,
}

var profileTemplatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List built-in profile templates",
	Args:  cobra.NoArgs,
	RunE:  runProfileTemplates,
}

var profileFromTemplateCmd = &cobra.Command{
	Use:   "from-template <template-id>",
	Short: "Create a profile from a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileFromTemplate,
}

var (
	profileMods        []string
	profileDescription string
	profileName        string
)

func init() {
	profileCreateCmd.Flags().StringSliceVar(&profileMods, "mods", nil, "comma separated mod ids")
	profileCreateCmd.Flags().StringVar(&profileDescription, "description", "", "profile description")
	for _, c := range []*cobra.Command{profileDuplicateCmd, profileImportCmd, profileFromTemplateCmd} {
		c.Flags().StringVar(&profileName, "name", "", "name for the new profile")
	}

	profileCmd.AddCommand(
		profileListCmd, profileCreateCmd, profileDeleteCmd, profileSwitchCmd,
		profileDuplicateCmd, profileExportCmd, profileImportCmd,
		profileTemplatesCmd, profileFromTemplateCmd,
	)
	rootCmd.AddCommand(profileCmd)
}

type profileLister interface {
	ListProfiles(ctx context.Context) ([]domain.Profile, error)
}

// resolveProfile finds a profile by id, then by case-insensitive name.
func resolveProfile(ctx context.Context, svc profileLister, ref string) (*domain.Profile, error) {
	profiles, err := svc.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		if profiles[i].ID == ref {
			return &profiles[i], nil
		}
	}
	for i := range profiles {
		if strings.EqualFold(profiles[i].Name, ref) {
			return &profiles[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrProfileNotFound, ref)
}

func runProfileList(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	profiles, err := svc.ListProfiles(cmd.Context())
	if err != nil {
		return fmt.Errorf("listing profiles: %w", err)
	}

	w := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(w, profiles)
	}
	if len(profiles) == 0 {
		fmt.Fprintln(w, "No profiles found.")
		fmt.Fprintln(w, "\nUse 'deftheim profile create' to add one.")
		return nil
	}

	st := styles()
	tw := newTable(w)
	fmt.Fprintln(tw, st.header.Render("NAME")+"\tMODS\tLAST USED\tPLAY TIME\tID")
	for _, p := range profiles {
		name := p.Name
		if p.Active {
			name = st.ok.Render(name + " *")
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", name, len(p.Mods), formatWhen(p.LastUsed), formatDuration(p.PlayTime), st.dim.Render(p.ID))
	}
	return tw.Flush()
}

func runProfileCreate(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	p, err := svc.CreateProfile(cmd.Context(), domain.Profile{
		Name:        args[0],
		Description: profileDescription,
		Mods:        profileMods,
	})
	if err != nil {
		return err
	}
	return success(cmd.OutOrStdout(), p, "Created profile %s (%d mods)", p.Name, len(p.Mods))
}

func runProfileDelete(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	p, err := resolveProfile(cmd.Context(), svc, args[0])
	if err != nil {
		return err
	}
	if err := svc.DeleteProfile(cmd.Context(), p.ID); err != nil {
		return err
	}
	return success(cmd.OutOrStdout(), map[string]string{"deleted": p.ID}, "Deleted profile %s", p.Name)
}

func runProfileSwitch(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	p, err := resolveProfile(cmd.Context(), svc, args[0])
	if err != nil {
		return err
	}
	report, err := svc.SwitchProfile(cmd.Context(), p.ID)
	if err != nil {
		var switchErr *domain.ProfileSwitchError
		if errors.As(err, &switchErr) && switchErr.RolledBack && !jsonOutput() {
			fmt.Fprintln(cmd.ErrOrStderr(), styles().warn.Render("The previous deployment was restored."))
		}
		return err
	}

	w := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(w, report)
	}
	fmt.Fprintln(w, styles().ok.Render("Switched to "+p.Name))
	fmt.Fprintf(w, "  Enabled:  %d\n", len(report.Enabled))
	fmt.Fprintf(w, "  Disabled: %d\n", len(report.Disabled))
	if report.BackupID != "" {
		fmt.Fprintf(w, "  Backup:   %s\n", report.BackupID)
	}
	return nil
}

func runProfileDuplicate(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	p, err := resolveProfile(cmd.Context(), svc, args[0])
	if err != nil {
		return err
	}
	dup, err := svc.DuplicateProfile(cmd.Context(), p.ID, profileName)
	if err != nil {
		return err
	}
	return success(cmd.OutOrStdout(), dup, "Created profile %s", dup.Name)
}

func runProfileExport(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	p, err := resolveProfile(cmd.Context(), svc, args[0])
	if err != nil {
		return err
	}
	code, err := svc.ExportProfileToCode(cmd.Context(), p.ID)
	if err != nil {
		return err
	}
	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), map[string]string{"code": code})
	}
	fmt.Fprintln(cmd.OutOrStdout(), code)
	return nil
}

func runProfileImport(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	p, err := svc.ImportProfileFromCode(cmd.Context(), args[0], profileName)
	if err != nil {
		return err
	}
	return success(cmd.OutOrStdout(), p, "Imported profile %s (%d mods)", p.Name, len(p.Mods))
}

func runProfileTemplates(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	templates := svc.ProfileTemplates()
	w := cmd.OutOrStdout()
	if jsonOutput() {
		return printJSON(w, templates)
	}
	tw := newTable(w)
	fmt.Fprintln(tw, styles().header.Render("ID")+"\tNAME\tMODS\tDESCRIPTION")
	for _, t := range templates {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.ID, t.Name, len(t.Mods), truncate(t.Description, 50))
	}
	return tw.Flush()
}

func runProfileFromTemplate(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	p, err := svc.CreateProfileFromTemplate(cmd.Context(), args[0], profileName)
	if err != nil {
		return err
	}
	return success(cmd.OutOrStdout(), p, "Created profile %s from template %s", p.Name, args[0])
}
