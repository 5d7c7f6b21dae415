package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"deftheim/internal/rpc"
)

var invokeCmd = &cobra.Command{
	Use:   "invoke <command> [json-args]",
	Short: "Run an API command and print its JSON result",
	Long: `Run one API command in-process, exactly as 'deftheim serve' would, and
print the result as JSON.

Examples:
  deftheim invoke list_profiles
  deftheim invoke install_mod '{"modId":"ValheimModding-Jotunn","withDependencies":true}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runInvoke,
}

var invokeList bool

func init() {
	invokeCmd.Flags().BoolVar(&invokeList, "list", false, "list the available commands")
	rootCmd.AddCommand(invokeCmd)
}

func runInvoke(cmd *cobra.Command, args []string) error {
	svc, err := initService()
	if err != nil {
		return err
	}
	defer svc.Close()

	d := rpc.NewDispatcher(svc.Service, svc.log)
	if invokeList {
		return printJSON(cmd.OutOrStdout(), d.Commands())
	}

	var raw json.RawMessage
	if len(args) == 2 {
		raw = json.RawMessage(args[1])
	}
	result, err := d.Invoke(cmd.Context(), args[0], raw)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), result)
}
