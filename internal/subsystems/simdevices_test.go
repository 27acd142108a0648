package subsystems

import (
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/matter"
)

func plugConfig() config.SimulatedDeviceConfig {
	return config.SimulatedDeviceConfig{
		Name:          "Kitchen Plug",
		NodeID:        0x51,
		Discriminator: 1234,
		Passcode:      20202021,
		VendorName:    "Acme",
		ProductName:   "Acme Plug",
		SerialNumber:  "PLUG-001",
		MACAddress:    "AA:BB:CC:DD:EE:01",
		NetworkType:   "wifi",
		Unsupported:   []string{"software_version_string"},
		Endpoints: []config.SimulatedEndpointConfig{
			{ID: 0, DeviceTypes: []uint32{0x0016}, Servers: []uint32{0x001D, 0x0028}, Parts: []uint16{1}},
			{ID: 1, DeviceTypes: []uint32{0x010A}, Servers: []uint32{0x0006}},
		},
		Attributes: []config.SimulatedAttributeConfig{
			{Endpoint: 1, Cluster: 0x0006, Attribute: 0x0000, Value: true},
		},
	}
}

func TestBuildSimulatedDevices(t *testing.T) {
	devices, err := BuildSimulatedDevices([]config.SimulatedDeviceConfig{plugConfig()})
	if err != nil {
		t.Fatalf("BuildSimulatedDevices() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("built %d devices, want 1", len(devices))
	}
	d := devices[0]
	if d.NodeID != 0x51 || d.Discriminator != 1234 || d.Passcode != 20202021 {
		t.Errorf("identity = node %v disc %d passcode %d", d.NodeID, d.Discriminator, d.Passcode)
	}

	attrs := map[matter.AttributePath]any{
		{Endpoint: 0, Cluster: matter.ClusterBasicInformation, Attribute: matter.AttrProductName}: "Acme Plug",
		{Endpoint: 1, Cluster: matter.ClusterOnOff, Attribute: matter.AttrOnOff}:                    true,
	}
	for path, want := range attrs {
		if got := d.Attributes[path]; got != want {
			t.Errorf("attribute %v = %v, want %v", path, got, want)
		}
	}
	if _, ok := d.Attributes[matter.AttributePath{Endpoint: 0, Cluster: matter.ClusterBasicInformation, Attribute: matter.AttrSoftwareVersionString}]; ok {
		t.Error("unsupported attribute was populated")
	}

	ifaces, ok := d.Attributes[matter.AttributePath{Endpoint: 0, Cluster: matter.ClusterGeneralDiagnostics, Attribute: matter.AttrNetworkInterfaces}].([]matter.NetworkInterface)
	if !ok || len(ifaces) != 1 || ifaces[0].Type != matter.InterfaceWiFi || ifaces[0].Name != "wlan0" {
		t.Errorf("network interfaces = %#v", ifaces)
	}

	parts, ok := d.Attributes[matter.AttributePath{Endpoint: 0, Cluster: matter.ClusterDescriptor, Attribute: matter.AttrPartsList}].([]matter.EndpointID)
	if !ok || len(parts) != 1 || parts[0] != 1 {
		t.Errorf("root parts = %#v", parts)
	}
}

func TestBuildSimulatedDevices_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cs []config.SimulatedDeviceConfig) []config.SimulatedDeviceConfig
	}{
		{"unknown unsupported attribute", func(cs []config.SimulatedDeviceConfig) []config.SimulatedDeviceConfig {
			cs[0].Unsupported = []string{"colour"}
			return cs
		}},
		{"unknown network type", func(cs []config.SimulatedDeviceConfig) []config.SimulatedDeviceConfig {
			cs[0].NetworkType = "lora"
			return cs
		}},
		{"missing network type", func(cs []config.SimulatedDeviceConfig) []config.SimulatedDeviceConfig {
			cs[0].NetworkType = ""
			return cs
		}},
		{"no endpoints", func(cs []config.SimulatedDeviceConfig) []config.SimulatedDeviceConfig {
			cs[0].Endpoints = nil
			return cs
		}},
		{"duplicate node id", func(cs []config.SimulatedDeviceConfig) []config.SimulatedDeviceConfig {
			return append(cs, cs[0])
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgs := tt.mutate([]config.SimulatedDeviceConfig{plugConfig()})
			if _, err := BuildSimulatedDevices(cfgs); !errors.Is(err, ErrInvalidSimulatedDevice) {
				t.Errorf("BuildSimulatedDevices() error = %v, want ErrInvalidSimulatedDevice", err)
			}
		})
	}
}
