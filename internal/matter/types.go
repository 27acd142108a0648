package matter

import "fmt"

// NodeID is an operational node id on the gateway's fabric.
type NodeID uint64

// UndefinedNodeID is never assigned to a real node.
const UndefinedNodeID NodeID = 0

func (n NodeID) String() string { return fmt.Sprintf("0x%016X", uint64(n)) }

// EndpointID addresses an endpoint on a node. Endpoint 0 is the root node.
type EndpointID uint16

// RootEndpoint hosts Basic Information and General Diagnostics.
const RootEndpoint EndpointID = 0

// ClusterID identifies a cluster.
type ClusterID uint32

// AttributeID identifies an attribute within a cluster.
type AttributeID uint32

// DeviceTypeID identifies a Matter device type.
type DeviceTypeID uint32

// AttributePath is a concrete attribute on a node.
type AttributePath struct {
	Endpoint  EndpointID
	Cluster   ClusterID
	Attribute AttributeID
}

func (p AttributePath) String() string {
	return fmt.Sprintf("%d/0x%04X/0x%04X", p.Endpoint, uint32(p.Cluster), uint32(p.Attribute))
}

// Cluster ids used by the gateway.
const (
	ClusterOnOff              ClusterID = 0x0006
	ClusterLevelControl       ClusterID = 0x0008
	ClusterDescriptor         ClusterID = 0x001D
	ClusterBasicInformation   ClusterID = 0x0028
	ClusterGeneralDiagnostics ClusterID = 0x0033
	ClusterBooleanState       ClusterID = 0x0045
	ClusterThermostat         ClusterID = 0x0201
	ClusterColorControl       ClusterID = 0x0300
	ClusterIlluminance        ClusterID = 0x0400
	ClusterTemperature        ClusterID = 0x0402
	ClusterRelativeHumidity   ClusterID = 0x0405
	ClusterOccupancy          ClusterID = 0x0406
	ClusterElectricalPower    ClusterID = 0x0090
)

// Basic Information attributes.
const (
	AttrVendorName            AttributeID = 0x0001
	AttrProductName           AttributeID = 0x0003
	AttrHardwareVersion       AttributeID = 0x0007
	AttrSoftwareVersion       AttributeID = 0x0009
	AttrSoftwareVersionString AttributeID = 0x000A
	AttrSerialNumber          AttributeID = 0x000F
)

// General Diagnostics attributes.
const (
	AttrNetworkInterfaces AttributeID = 0x0000
)

// Descriptor attributes.
const (
	AttrDeviceTypeList AttributeID = 0x0000
	AttrServerList     AttributeID = 0x0001
	AttrClientList     AttributeID = 0x0002
	AttrPartsList      AttributeID = 0x0003
)

// Attributes read by device drivers.
const (
	AttrOnOff                   AttributeID = 0x0000
	AttrCurrentLevel            AttributeID = 0x0000
	AttrMeasuredValue           AttributeID = 0x0000
	AttrOccupancy               AttributeID = 0x0000
	AttrLocalTemperature        AttributeID = 0x0000
	AttrOccupiedHeatingSetpoint AttributeID = 0x0012
	AttrSystemMode              AttributeID = 0x001C
	AttrColorTemperature        AttributeID = 0x0007
	AttrActivePower             AttributeID = 0x0008
	AttrStateValue              AttributeID = 0x0000
)

// Device types used for driver selection.
const (
	DeviceTypeRootNode           DeviceTypeID = 0x0016
	DeviceTypeAggregator         DeviceTypeID = 0x000E
	DeviceTypeBridgedNode        DeviceTypeID = 0x0013
	DeviceTypeOnOffLight         DeviceTypeID = 0x0100
	DeviceTypeDimmableLight      DeviceTypeID = 0x0101
	DeviceTypeColorTempLight     DeviceTypeID = 0x010C
	DeviceTypeExtendedColorLight DeviceTypeID = 0x010D
	DeviceTypeOnOffPlug          DeviceTypeID = 0x010A
	DeviceTypeDimmablePlug       DeviceTypeID = 0x010B
	DeviceTypeThermostat         DeviceTypeID = 0x0301
	DeviceTypeContactSensor      DeviceTypeID = 0x0015
	DeviceTypeLightSensor        DeviceTypeID = 0x0106
	DeviceTypeOccupancySensor    DeviceTypeID = 0x0107
	DeviceTypeTemperatureSensor  DeviceTypeID = 0x0302
	DeviceTypeHumiditySensor     DeviceTypeID = 0x0307
)

// DeviceType is one entry of a Descriptor DeviceTypeList.
type DeviceType struct {
	Type     DeviceTypeID `json:"type"`
	Revision uint16       `json:"revision"`
}

// InterfaceType is the General Diagnostics InterfaceTypeEnum.
type InterfaceType uint8

const (
	InterfaceUnspecified InterfaceType = 0
	InterfaceWiFi        InterfaceType = 1
	InterfaceEthernet    InterfaceType = 2
	InterfaceCellular    InterfaceType = 3
	InterfaceThread      InterfaceType = 4
)

// String returns the lowercase name stored in device records.
func (t InterfaceType) String() string {
	switch t {
	case InterfaceWiFi:
		return "wifi"
	case InterfaceEthernet:
		return "ethernet"
	case InterfaceCellular:
		return "cellular"
	case InterfaceThread:
		return "thread"
	default:
		return "unspecified"
	}
}

// ParseInterfaceType is the inverse of InterfaceType.String. Unknown names
// map to InterfaceUnspecified.
func ParseInterfaceType(s string) InterfaceType {
	for t := InterfaceWiFi; t <= InterfaceThread; t++ {
		if t.String() == s {
			return t
		}
	}
	return InterfaceUnspecified
}

// NetworkInterface is one entry of General Diagnostics NetworkInterfaces.
type NetworkInterface struct {
	Name            string
	IsOperational   bool
	HardwareAddress string
	Type            InterfaceType
}

// BasicInformation holds the Basic Information values discovery reads.
type BasicInformation struct {
	VendorName            string
	ProductName           string
	HardwareVersion       uint16
	SoftwareVersion       uint32
	SoftwareVersionString string
	SerialNumber          string
}

// Descriptor is the content of one endpoint's Descriptor cluster.
type Descriptor struct {
	DeviceTypes    []DeviceType
	ServerClusters []ClusterID
	ClientClusters []ClusterID
	Parts          []EndpointID
}
