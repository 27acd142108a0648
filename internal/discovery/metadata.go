package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nerrad567/gray-logic-gateway/internal/matter"
)

// DefaultMetadataCacheSize bounds the in-memory fallback.
const DefaultMetadataCacheSize = 128

// Metadata is a node's endpoint structure keyed by endpoint id.
type Metadata map[matter.EndpointID]DescriptorClusterData

// metadataDocument is the persisted discovery result. Absent attributes are
// omitted so a partial result can be resumed.
type metadataDocument struct {
	VendorName            *string  `json:"vendor_name,omitempty"`
	ProductName           *string  `json:"product_name,omitempty"`
	HardwareVersion       *uint16  `json:"hardware_version,omitempty"`
	SoftwareVersion       *uint32  `json:"software_version,omitempty"`
	SoftwareVersionString *string  `json:"software_version_string,omitempty"`
	SerialNumber          *string  `json:"serial_number,omitempty"`
	MACAddress            *string  `json:"mac_address,omitempty"`
	NetworkType           *string  `json:"network_type,omitempty"`
	Endpoints             Metadata `json:"endpoints"`
}

// MarshalMetadata encodes details as JSON: the Basic Information and
// network attributes plus the endpoint map.
func MarshalMetadata(details DiscoveredDeviceDetails) ([]byte, error) {
	doc := metadataDocument{
		VendorName:            details.VendorName,
		ProductName:           details.ProductName,
		HardwareVersion:       details.HardwareVersion,
		SoftwareVersion:       details.SoftwareVersion,
		SoftwareVersionString: details.SoftwareVersionString,
		SerialNumber:          details.SerialNumber,
		MACAddress:            details.MACAddress,
		NetworkType:           details.NetworkType,
		Endpoints:             Metadata(details.Endpoints),
	}
	if doc.Endpoints == nil {
		doc.Endpoints = Metadata{}
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding discovery metadata: %w", err)
	}
	return b, nil
}

// ParseDetails decodes JSON written by MarshalMetadata back into the
// discovery result. Empty input yields empty details.
func ParseDetails(data []byte) (DiscoveredDeviceDetails, error) {
	details := DiscoveredDeviceDetails{Endpoints: map[matter.EndpointID]DescriptorClusterData{}}
	if len(data) == 0 {
		return details, nil
	}
	var doc metadataDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return DiscoveredDeviceDetails{}, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	details.VendorName = doc.VendorName
	details.ProductName = doc.ProductName
	details.HardwareVersion = doc.HardwareVersion
	details.SoftwareVersion = doc.SoftwareVersion
	details.SoftwareVersionString = doc.SoftwareVersionString
	details.SerialNumber = doc.SerialNumber
	details.MACAddress = doc.MACAddress
	details.NetworkType = doc.NetworkType
	if doc.Endpoints != nil {
		details.Endpoints = doc.Endpoints
	}
	return details, nil
}

// ParseMetadata decodes only the endpoint map of a persisted document.
func ParseMetadata(data []byte) (Metadata, error) {
	details, err := ParseDetails(data)
	if err != nil {
		return nil, err
	}
	return Metadata(details.Endpoints), nil
}

// MetadataPersister stores metadata on the device record bound to a node.
// Implemented by the device service.
type MetadataPersister interface {
	// SaveNodeMetadata returns false (and no error) when no device record is
	// bound to node yet.
	SaveNodeMetadata(ctx context.Context, node matter.NodeID, metadata []byte) (bool, error)

	// LoadNodeMetadata returns false when no device record is bound to node.
	LoadNodeMetadata(ctx context.Context, node matter.NodeID) ([]byte, bool, error)
}

// MetadataStore saves discovery metadata on the device record when one
// exists and otherwise holds it in a bounded LRU until the device is
// announced and Take promotes it.
//
// Thread Safety: All methods are safe for concurrent use.
type MetadataStore struct {
	persister MetadataPersister
	pending   *lru.Cache[matter.NodeID, []byte]
}

// NewMetadataStore creates a store. A size of zero or less uses
// DefaultMetadataCacheSize. persister may be nil, in which case everything
// stays in memory.
func NewMetadataStore(persister MetadataPersister, size int) (*MetadataStore, error) {
	if size <= 0 {
		size = DefaultMetadataCacheSize
	}
	cache, err := lru.New[matter.NodeID, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("creating metadata cache: %w", err)
	}
	return &MetadataStore{persister: persister, pending: cache}, nil
}

// SetPersister binds the device-backed persister after construction.
func (s *MetadataStore) SetPersister(p MetadataPersister) {
	s.persister = p
}

// Save records the endpoint structure discovered for node.
func (s *MetadataStore) Save(ctx context.Context, node matter.NodeID, details DiscoveredDeviceDetails) error {
	data, err := MarshalMetadata(details)
	if err != nil {
		return err
	}
	if s.persister != nil {
		saved, err := s.persister.SaveNodeMetadata(ctx, node, data)
		if err != nil {
			return fmt.Errorf("saving metadata for node %v: %w", node, err)
		}
		if saved {
			s.pending.Remove(node)
			return nil
		}
	}
	s.pending.Add(node, data)
	return nil
}

// Load returns the metadata for node, preferring unpromoted in-memory data.
func (s *MetadataStore) Load(ctx context.Context, node matter.NodeID) (Metadata, bool, error) {
	if data, ok := s.pending.Get(node); ok {
		m, err := ParseMetadata(data)
		return m, err == nil, err
	}
	if s.persister == nil {
		return nil, false, nil
	}
	data, ok, err := s.persister.LoadNodeMetadata(ctx, node)
	if err != nil || !ok {
		return nil, false, err
	}
	m, err := ParseMetadata(data)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Take removes and returns in-memory metadata for node so the caller can
// store it on a newly created device record.
func (s *MetadataStore) Take(node matter.NodeID) ([]byte, bool) {
	data, ok := s.pending.Peek(node)
	if ok {
		s.pending.Remove(node)
	}
	return data, ok
}

// Pending returns how many nodes have unpromoted metadata.
func (s *MetadataStore) Pending() int {
	return s.pending.Len()
}
