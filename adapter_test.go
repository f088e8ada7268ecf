package bafangcan

import (
	"context"
	"testing"
)

func TestAdapterRegistry(t *testing.T) {
	names := ListAdapterNames()
	var foundSL, foundVirtual bool
	for _, n := range names {
		switch n {
		case "SLCan":
			foundSL = true
		case "Virtual":
			foundVirtual = true
		}
	}
	if !foundSL || !foundVirtual {
		t.Errorf("ListAdapterNames() = %v", names)
	}
	if len(ListAdapters()) != len(names) {
		t.Errorf("ListAdapters() and ListAdapterNames() disagree")
	}

	err := RegisterAdapter(&AdapterInfo{Name: "slcan", New: NewSLCan})
	if err == nil {
		t.Error("registering a duplicate adapter name succeeded")
	}
}

func TestNewAdapter(t *testing.T) {
	a, err := NewAdapter("VIRTUAL", &AdapterConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if a.Name() != "Virtual" {
		t.Errorf("Name() = %q", a.Name())
	}
	if _, err := NewAdapter("nope", &AdapterConfig{}); err == nil {
		t.Error("NewAdapter(nope) expected error")
	}
}

func TestSLCanUnsupportedRate(t *testing.T) {
	a, err := NewSLCan(&AdapterConfig{Port: "/dev/null", CANRate: 33.3})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Open(context.Background()); err == nil {
		t.Error("Open() with 33.3 kbit/s expected error")
	}
}
