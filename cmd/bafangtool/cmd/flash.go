package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/roffe/bafangcan"
	"github.com/roffe/bafangcan/pkg/bafang"
	"github.com/roffe/bafangcan/pkg/bar"
	"github.com/roffe/bafangcan/pkg/status"
	"github.com/spf13/cobra"
)

const (
	flagVariant  = "variant"
	flagTimeout  = "timeout"
	flagYes      = "yes"
	flagResend   = "resend"
	flagRedis    = "redis"
	flagRedisKey = "redis-key"
	flagSimulate = "simulate"
)

var flashCmd = &cobra.Command{
	Use:   "flash <filename>",
	Short: "flash firmware to a controller or display",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f := cmd.Flags()

		variantName, err := f.GetString(flagVariant)
		if err != nil {
			return err
		}
		variant, err := bafang.ParseVariant(variantName)
		if err != nil {
			return err
		}
		timeout, err := f.GetDuration(flagTimeout)
		if err != nil {
			return err
		}
		resend, err := f.GetBool(flagResend)
		if err != nil {
			return err
		}
		simulate, err := f.GetBool(flagSimulate)
		if err != nil {
			return err
		}

		filename := args[0]
		img, err := bafang.LoadImage(filename)
		if err != nil {
			return err
		}
		logger.Info("loaded %d bytes from %s, %d chunks", img.Size(), filepath.Base(filename), img.Chunks())
		logger.Debug("File header data: % X", img.Header())

		if yes, _ := f.GetBool(flagYes); !yes {
			logger.Info("Flash %s with %s?", variant, filepath.Base(filename))
			if !yesNo() {
				return nil
			}
		}

		var c *bafangcan.Client
		if simulate {
			c, err = simulatedCAN(ctx, cmd, variant)
		} else {
			c, err = initCAN(ctx, cmd)
		}
		if err != nil {
			return err
		}
		defer c.Close()

		pub, err := redisPublisher(ctx, cmd)
		if err != nil {
			return err
		}

		pb := bar.NewPercent("flashing")
		onEvent := logger.Event
		onProgress := pb.Update
		if pub != nil {
			defer pub.Close()
			if err := pub.Start(variant, filepath.Base(filename), img.Size()); err != nil {
				logger.Warn("%v", err)
			}
			onEvent = func(e bafangcan.Event) {
				logger.Event(e)
				if err := pub.Event(e); err != nil {
					logger.Debug("%v", err)
				}
			}
			onProgress = func(p int) {
				pb.Update(p)
				if err := pub.Progress(p); err != nil {
					logger.Debug("%v", err)
				}
			}
		}

		engine := bafang.New(c,
			bafang.WithTimeout(timeout),
			bafang.WithResendOnRequest(resend),
			bafang.WithEventHandler(onEvent),
			bafang.WithProgressHandler(onProgress),
		)
		start := time.Now()
		out := engine.FlashImage(ctx, img, variant)
		if out.Status == bafang.Succeeded {
			pb.Close()
		}
		fmt.Println()

		if pub != nil {
			if err := pub.Outcome(out); err != nil {
				logger.Warn("%v", err)
			}
		}
		if out.Status != bafang.Succeeded {
			return out.Err
		}
		logger.Info("flashed %s in %s", filepath.Base(filename), time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	f := flashCmd.Flags()
	f.String(flagVariant, "new-motor", "device to flash: new-motor, old-motor, hmi or dpc18")
	f.Duration(flagTimeout, 10*time.Second, "how long to wait for each controller answer")
	f.BoolP(flagYes, "y", false, "do not ask for confirmation")
	f.Bool(flagResend, false, "answer chunk retransmission requests from the device")
	f.String(flagRedis, "", "publish progress to the redis server at host:port")
	f.String(flagRedisKey, status.DefaultKey, "redis hash and channel prefix")
	f.Bool(flagSimulate, false, "flash a simulated device on a virtual bus")
	rootCmd.AddCommand(flashCmd)
}

func simulatedCAN(ctx context.Context, cmd *cobra.Command, variant bafang.Variant) (*bafangcan.Client, error) {
	_, cfg, err := getAdapterOpts(cmd)
	if err != nil {
		return nil, err
	}
	ctrl, err := bafang.NewController(variant)
	if err != nil {
		return nil, err
	}
	return newClient(ctx, bafangcan.NewVirtualBus(cfg, ctrl.Respond))
}

func redisPublisher(ctx context.Context, cmd *cobra.Command) (*status.Publisher, error) {
	addr, err := cmd.Flags().GetString(flagRedis)
	if err != nil || addr == "" {
		return nil, err
	}
	key, err := cmd.Flags().GetString(flagRedisKey)
	if err != nil {
		return nil, err
	}
	return status.Dial(ctx, addr, key)
}

func yesNo() bool {
	prompt := promptui.Select{
		Label:    "[Yes/No]",
		HideHelp: true,
		Items:    []string{"Yes", "No"},
	}
	_, result, err := prompt.Run()
	if err != nil {
		logger.Error("Prompt failed %v", err)
		return false
	}
	return result == "Yes"
}
