// Package discovery reads the structure of a freshly commissioned Matter node.
//
// A Discoverer connects to the node, reads Basic Information and the network
// interfaces in one batch, then walks the Descriptor cluster of endpoint 0 and
// every endpoint reachable through parts lists. Each endpoint is queued at
// most once, so cyclic parts lists terminate. Completion is decided by
// comparing queued and completed endpoints, which makes it independent of the
// order in which reads report.
//
// The result is a DiscoveredDeviceDetails value. Its endpoint map is persisted
// as JSON through MetadataStore.
package discovery
