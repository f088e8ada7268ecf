package cmd

import (
	"context"
	"testing"
)

func TestAdapterInfo(t *testing.T) {
	info, ok := adapterInfo("virtual")
	if !ok || info.Name != "Virtual" || info.RequiresSerialPort {
		t.Errorf("adapterInfo(virtual) = %+v, %v", info, ok)
	}
	if _, ok := adapterInfo("canusb"); ok {
		t.Error("adapterInfo(canusb) found an adapter")
	}
}

func TestInitCANUnknownAdapter(t *testing.T) {
	if err := rootCmd.PersistentFlags().Set(flagAdapter, "nope"); err != nil {
		t.Fatal(err)
	}
	defer rootCmd.PersistentFlags().Set(flagAdapter, "SLCan")
	// merge the root flags into the subcommand like Execute does
	flashCmd.InheritedFlags()
	if _, err := initCAN(context.Background(), flashCmd); err == nil {
		t.Error("initCAN() with unknown adapter expected error")
	}
}
