package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "bafangtool",
	Short:        "Bafang CAN firmware tool",
	Long:         `Flash firmware to Bafang motor controllers and displays over CAN, and watch bus traffic.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeLogFile()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagAdapter  = "adapter"
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagCANRate  = "canrate"
	flagDebug    = "debug"
	flagLogLevel = "log-level"
	flagLogFile  = "logfile"
)

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagAdapter, "a", "SLCan", "what adapter to use, see the adapters command")
	pf.StringP(flagPort, "p", "*", "com-port, * = print available")
	pf.IntP(flagBaudrate, "b", 115200, "com-port baudrate")
	pf.Float64(flagCANRate, 250, "CAN bus rate in kbit/s")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.String(flagLogLevel, "info", "log level: error, warn, info or debug")
	pf.Bool(flagLogFile, false, "also write the log to logs/log-<date>-<time>.log")
}

func setupLogging(cmd *cobra.Command) error {
	pf := cmd.Flags()
	levelName, err := pf.GetString(flagLogLevel)
	if err != nil {
		return err
	}
	level, err := ParseLogLevel(levelName)
	if err != nil {
		return err
	}
	if debug, _ := pf.GetBool(flagDebug); debug {
		level = LogLevelDebug
	}
	logger.SetLevel(level)

	toFile, err := pf.GetBool(flagLogFile)
	if err != nil {
		return err
	}
	if toFile {
		f, err := openLogFile("logs")
		if err != nil {
			return err
		}
		logFile = f
		logger.SetFile(f)
		logger.Info("logging to %s", f.Name())
	}
	return nil
}

var logFile *os.File

func closeLogFile() {
	if logFile == nil {
		return
	}
	logger.SetFile(nil)
	if err := logFile.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	logFile = nil
}
