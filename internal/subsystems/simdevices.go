package subsystems

import (
	"fmt"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/matter"
)

// basicAttributeNames maps the names accepted in a simulated device's
// unsupported list to Basic Information attribute ids.
var basicAttributeNames = map[string]matter.AttributeID{
	"vendor_name":             matter.AttrVendorName,
	"product_name":            matter.AttrProductName,
	"hardware_version":        matter.AttrHardwareVersion,
	"software_version":        matter.AttrSoftwareVersion,
	"software_version_string": matter.AttrSoftwareVersionString,
	"serial_number":           matter.AttrSerialNumber,
}

// interfaceNames is the NetworkInterfaces name reported per interface type.
var interfaceNames = map[matter.InterfaceType]string{
	matter.InterfaceWiFi:     "wlan0",
	matter.InterfaceEthernet: "eth0",
	matter.InterfaceCellular: "wwan0",
	matter.InterfaceThread:   "wpan0",
}

// BuildSimulatedDevices turns the simulator device list from the config
// into devices for matter.NewSimulator.
func BuildSimulatedDevices(cfgs []config.SimulatedDeviceConfig) ([]*matter.SimulatedDevice, error) {
	devices := make([]*matter.SimulatedDevice, 0, len(cfgs))
	seen := make(map[uint64]string, len(cfgs))
	for i, c := range cfgs {
		if prev, dup := seen[c.NodeID]; dup {
			return nil, fmt.Errorf("%w: devices[%d] %q reuses node id %d of %q",
				ErrInvalidSimulatedDevice, i, c.Name, c.NodeID, prev)
		}
		seen[c.NodeID] = c.Name

		d, err := buildSimulatedDevice(c)
		if err != nil {
			return nil, fmt.Errorf("devices[%d] %q: %w", i, c.Name, err)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func buildSimulatedDevice(c config.SimulatedDeviceConfig) (*matter.SimulatedDevice, error) {
	d := matter.NewSimulatedDevice(c.Name, matter.NodeID(c.NodeID), c.Discriminator, c.Passcode)
	d.VendorID = c.VendorID
	d.ProductID = c.ProductID
	d.FailCommissioning = c.FailCommissioning
	d.FailHandshake = c.FailHandshake

	unsupported := make([]matter.AttributeID, 0, len(c.Unsupported))
	for _, name := range c.Unsupported {
		id, ok := basicAttributeNames[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown basic information attribute %q", ErrInvalidSimulatedDevice, name)
		}
		unsupported = append(unsupported, id)
	}
	d.SetBasicInformation(matter.BasicInformation{
		VendorName:            c.VendorName,
		ProductName:           c.ProductName,
		HardwareVersion:       c.HardwareVersion,
		SoftwareVersion:       c.SoftwareVersion,
		SoftwareVersionString: c.SoftwareVersionString,
		SerialNumber:          c.SerialNumber,
	}, unsupported...)

	// Discovery requires NetworkInterfaces, so every device reports one.
	t := matter.ParseInterfaceType(c.NetworkType)
	if t == matter.InterfaceUnspecified {
		return nil, fmt.Errorf("%w: unknown network type %q", ErrInvalidSimulatedDevice, c.NetworkType)
	}
	d.SetNetworkInterfaces(matter.NetworkInterface{
		Name:            interfaceNames[t],
		IsOperational:   true,
		HardwareAddress: c.MACAddress,
		Type:            t,
	})

	if len(c.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints", ErrInvalidSimulatedDevice)
	}
	for _, ep := range c.Endpoints {
		desc := matter.Descriptor{
			DeviceTypes:    make([]matter.DeviceType, 0, len(ep.DeviceTypes)),
			ServerClusters: make([]matter.ClusterID, 0, len(ep.Servers)),
			ClientClusters: make([]matter.ClusterID, 0, len(ep.Clients)),
			Parts:          make([]matter.EndpointID, 0, len(ep.Parts)),
		}
		for _, dt := range ep.DeviceTypes {
			desc.DeviceTypes = append(desc.DeviceTypes, matter.DeviceType{Type: matter.DeviceTypeID(dt), Revision: 1})
		}
		for _, id := range ep.Servers {
			desc.ServerClusters = append(desc.ServerClusters, matter.ClusterID(id))
		}
		for _, id := range ep.Clients {
			desc.ClientClusters = append(desc.ClientClusters, matter.ClusterID(id))
		}
		for _, p := range ep.Parts {
			desc.Parts = append(desc.Parts, matter.EndpointID(p))
		}
		d.AddEndpoint(matter.EndpointID(ep.ID), desc)
	}

	for _, a := range c.Attributes {
		d.SetAttribute(matter.AttributePath{
			Endpoint:  matter.EndpointID(a.Endpoint),
			Cluster:   matter.ClusterID(a.Cluster),
			Attribute: matter.AttributeID(a.Attribute),
		}, a.Value)
	}
	return d, nil
}
