// Package matter defines the gateway's contract with a Matter controller.
//
// The protocol machinery (PASE/CASE, attestation, TLV) lives behind the
// Controller and Session interfaces. Every call into them, and every callback
// out of them, happens on the stack goroutine (internal/stack), so
// implementations never see concurrent use.
//
// The package also provides:
//   - Cluster, attribute and device type ids used by discovery and drivers
//   - Simulator, a deterministic Controller backed by virtual devices
//   - Browser, a DNS-SD browser for _matterc._udp commissionable nodes
//
// Setup payload parsing and encoding live in the payload subpackage.
package matter
