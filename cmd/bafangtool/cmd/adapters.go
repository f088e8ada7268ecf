package cmd

import (
	"fmt"

	"github.com/roffe/bafangcan"
	"github.com/spf13/cobra"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "list available adapters and com-ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Adapters:")
		for _, a := range bafangcan.ListAdapters() {
			fmt.Fprintf(out, "  %s\n", a.String())
		}
		ports, err := serialPorts()
		if err != nil {
			return fmt.Errorf("failed to list com-ports: %w", err)
		}
		fmt.Fprintln(out, "Com-ports:")
		if len(ports) == 0 {
			fmt.Fprintln(out, "  none")
		}
		for _, p := range ports {
			fmt.Fprintf(out, "  %s\n", p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}
