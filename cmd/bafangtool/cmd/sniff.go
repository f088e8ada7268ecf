package cmd

import (
	"context"
	"time"

	"github.com/roffe/bafangcan/pkg/sniffer"
	"github.com/spf13/cobra"
)

const (
	flagDuration = "duration"
	flagFilter   = "filter"
)

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "log bus traffic, repeated frames are collapsed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		duration, err := cmd.Flags().GetDuration(flagDuration)
		if err != nil {
			return err
		}
		filter, err := cmd.Flags().GetStringSlice(flagFilter)
		if err != nil {
			return err
		}
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}

		c, err := initCAN(ctx, cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		s := sniffer.New(
			sniffer.WithFilter(filter...),
			sniffer.WithOutput(func(line string) {
				logger.Info("%s", line)
			}),
		)
		return s.Run(ctx, c)
	},
}

func init() {
	f := sniffCmd.Flags()
	f.Duration(flagDuration, 0*time.Second, "stop after this long, 0 runs until ctrl-c")
	f.StringSlice(flagFilter, sniffer.DefaultFilter, "identifiers to ignore, empty to log everything")
	rootCmd.AddCommand(sniffCmd)
}
