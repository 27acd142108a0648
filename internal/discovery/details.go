package discovery

import (
	"maps"
	"slices"

	"github.com/nerrad567/gray-logic-gateway/internal/matter"
)

// DescriptorClusterData is the Descriptor cluster content of one endpoint.
type DescriptorClusterData struct {
	DeviceTypes    []matter.DeviceType `json:"device_types"`
	ServerClusters []matter.ClusterID  `json:"server_clusters"`
	ClientClusters []matter.ClusterID  `json:"client_clusters"`
	Parts          []matter.EndpointID `json:"parts"`
}

// HasDeviceType reports whether the endpoint declares t.
func (d DescriptorClusterData) HasDeviceType(t matter.DeviceTypeID) bool {
	for _, dt := range d.DeviceTypes {
		if dt.Type == t {
			return true
		}
	}
	return false
}

// HasServer reports whether the endpoint serves cluster c.
func (d DescriptorClusterData) HasServer(c matter.ClusterID) bool {
	return slices.Contains(d.ServerClusters, c)
}

func (d DescriptorClusterData) clone() DescriptorClusterData {
	return DescriptorClusterData{
		DeviceTypes:    slices.Clone(d.DeviceTypes),
		ServerClusters: slices.Clone(d.ServerClusters),
		ClientClusters: slices.Clone(d.ClientClusters),
		Parts:          slices.Clone(d.Parts),
	}
}

// DiscoveredDeviceDetails accumulates what discovery learns about a node.
//
// Optional fields are nil until their attribute has been reported. An empty
// string counts as reported.
type DiscoveredDeviceDetails struct {
	VendorName            *string
	ProductName           *string
	HardwareVersion       *uint16
	SoftwareVersion       *uint32
	SoftwareVersionString *string
	SerialNumber          *string
	MACAddress            *string
	NetworkType           *string

	Endpoints map[matter.EndpointID]DescriptorClusterData
}

// PrimaryComplete reports whether the Basic Information fields plus the
// serial number and MAC address are all present.
func (d *DiscoveredDeviceDetails) PrimaryComplete() bool {
	return d.VendorName != nil &&
		d.ProductName != nil &&
		d.HardwareVersion != nil &&
		d.SoftwareVersion != nil &&
		d.SoftwareVersionString != nil &&
		d.SerialNumber != nil &&
		d.MACAddress != nil
}

// FullyDiscovered reports whether PrimaryComplete holds and every queued
// endpoint has a completed record.
func (d *DiscoveredDeviceDetails) FullyDiscovered(queued map[matter.EndpointID]struct{}) bool {
	if !d.PrimaryComplete() {
		return false
	}
	if len(queued) != len(d.Endpoints) {
		return false
	}
	for ep := range queued {
		if _, ok := d.Endpoints[ep]; !ok {
			return false
		}
	}
	return true
}

// DeviceTypes returns the distinct device types across all endpoints, in
// endpoint order.
func (d *DiscoveredDeviceDetails) DeviceTypes() []matter.DeviceTypeID {
	var out []matter.DeviceTypeID
	for _, ep := range d.EndpointIDs() {
		for _, dt := range d.Endpoints[ep].DeviceTypes {
			if !slices.Contains(out, dt.Type) {
				out = append(out, dt.Type)
			}
		}
	}
	return out
}

// EndpointIDs returns the completed endpoint ids in ascending order.
func (d *DiscoveredDeviceDetails) EndpointIDs() []matter.EndpointID {
	return slices.Sorted(maps.Keys(d.Endpoints))
}

// Clone returns a deep copy.
func (d *DiscoveredDeviceDetails) Clone() DiscoveredDeviceDetails {
	out := DiscoveredDeviceDetails{
		VendorName:            clonePtr(d.VendorName),
		ProductName:           clonePtr(d.ProductName),
		HardwareVersion:       clonePtr(d.HardwareVersion),
		SoftwareVersion:       clonePtr(d.SoftwareVersion),
		SoftwareVersionString: clonePtr(d.SoftwareVersionString),
		SerialNumber:          clonePtr(d.SerialNumber),
		MACAddress:            clonePtr(d.MACAddress),
		NetworkType:           clonePtr(d.NetworkType),
	}
	if d.Endpoints != nil {
		out.Endpoints = make(map[matter.EndpointID]DescriptorClusterData, len(d.Endpoints))
		for ep, data := range d.Endpoints {
			out.Endpoints[ep] = data.clone()
		}
	}
	return out
}

// Value returns *p, or the zero value for nil.
func Value[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptr[T any](v T) *T { return &v }
