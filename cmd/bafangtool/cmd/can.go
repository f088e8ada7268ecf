package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roffe/bafangcan"
	"github.com/spf13/cobra"
	"go.bug.st/serial/enumerator"
)

func getAdapterOpts(cmd *cobra.Command) (string, *bafangcan.AdapterConfig, error) {
	pf := cmd.Flags()
	adapter, err := pf.GetString(flagAdapter)
	if err != nil {
		return "", nil, err
	}
	port, err := pf.GetString(flagPort)
	if err != nil {
		return "", nil, err
	}
	baudrate, err := pf.GetInt(flagBaudrate)
	if err != nil {
		return "", nil, err
	}
	canrate, err := pf.GetFloat64(flagCANRate)
	if err != nil {
		return "", nil, err
	}
	debug, err := pf.GetBool(flagDebug)
	if err != nil {
		return "", nil, err
	}
	return adapter, &bafangcan.AdapterConfig{
		Debug:        debug,
		Port:         port,
		PortBaudrate: baudrate,
		CANRate:      canrate,
	}, nil
}

func adapterInfo(name string) (bafangcan.AdapterInfo, bool) {
	for _, a := range bafangcan.ListAdapters() {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return bafangcan.AdapterInfo{}, false
}

func initCAN(ctx context.Context, cmd *cobra.Command) (*bafangcan.Client, error) {
	name, cfg, err := getAdapterOpts(cmd)
	if err != nil {
		return nil, err
	}
	info, ok := adapterInfo(name)
	if !ok {
		return nil, fmt.Errorf("unknown adapter %q, available: %s", name, strings.Join(bafangcan.ListAdapterNames(), ", "))
	}
	if info.RequiresSerialPort && (cfg.Port == "" || cfg.Port == "*") {
		printPorts()
		return nil, errors.New("adapter needs a com-port, pass one with --port")
	}
	adapter, err := bafangcan.NewAdapter(name, cfg)
	if err != nil {
		return nil, err
	}
	return newClient(ctx, adapter)
}

func newClient(ctx context.Context, adapter bafangcan.Adapter) (*bafangcan.Client, error) {
	c, err := bafangcan.New(ctx, adapter, bafangcan.OptOnEvent(logger.Event))
	if err != nil {
		return nil, err
	}
	logger.Info("connected using %s", adapter.Name())
	return c, nil
}

func serialPorts() ([]string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, port := range ports {
		if port.IsUSB {
			out = append(out, fmt.Sprintf("%s (USB %s:%s %s)", port.Name, port.VID, port.PID, port.SerialNumber))
			continue
		}
		out = append(out, port.Name)
	}
	sort.Strings(out)
	return out, nil
}

func printPorts() {
	ports, err := serialPorts()
	if err != nil {
		logger.Error("failed to list com-ports: %v", err)
		return
	}
	if len(ports) == 0 {
		logger.Warn("No serial ports found!")
		return
	}
	logger.Info("available com-ports:")
	for _, p := range ports {
		logger.Info("  %s", p)
	}
}
