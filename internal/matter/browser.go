package matter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// CommissionableService is the DNS-SD service type of devices in
	// commissioning mode.
	CommissionableService = "_matterc._udp"

	mdnsDomain = "local."

	defaultBrowseTimeout = 5 * time.Second
	browseBuffer         = 32
)

// TXT record keys advertised by commissionable nodes.
const (
	txtDiscriminator     = "D"
	txtVendorProduct     = "VP"
	txtCommissioningMode = "CM"
	txtDeviceName        = "DN"
	txtDeviceType        = "DT"
)

// MDNSResolver is the subset of *zeroconf.Resolver the Browser needs.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// CommissionableNode is a device advertising itself for commissioning.
type CommissionableNode struct {
	Instance          string   `json:"instance"`
	HostName          string   `json:"host_name"`
	Port              int      `json:"port"`
	Addresses         []string `json:"addresses"`
	Discriminator     uint16   `json:"discriminator"`
	VendorID          uint16   `json:"vendor_id,omitempty"`
	ProductID         uint16   `json:"product_id,omitempty"`
	CommissioningMode int      `json:"commissioning_mode"`
	DeviceName        string   `json:"device_name,omitempty"`
	DeviceType        uint32   `json:"device_type,omitempty"`
}

// Browser lists commissionable Matter nodes on the local network.
type Browser struct {
	resolver MDNSResolver
	timeout  time.Duration
	logger   Logger
}

// NewBrowser creates a Browser backed by a multicast zeroconf resolver.
// A zero timeout uses five seconds.
func NewBrowser(timeout time.Duration) (*Browser, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("creating mDNS resolver: %w", err)
	}
	return NewBrowserWithResolver(r, timeout), nil
}

// NewBrowserWithResolver creates a Browser over an injected resolver.
func NewBrowserWithResolver(r MDNSResolver, timeout time.Duration) *Browser {
	if timeout <= 0 {
		timeout = defaultBrowseTimeout
	}
	return &Browser{resolver: r, timeout: timeout, logger: noopLogger{}}
}

// SetLogger sets the logger for the browser.
func (b *Browser) SetLogger(l Logger) {
	b.logger = l
}

// BrowseCommissionable collects advertisements until the browse timeout (or
// ctx) expires. Duplicate instances are merged; results are sorted by
// instance name.
func (b *Browser) BrowseCommissionable(ctx context.Context) ([]CommissionableNode, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, browseBuffer)
	if err := b.resolver.Browse(ctx, CommissionableService, mdnsDomain, entries); err != nil {
		return nil, fmt.Errorf("browsing %s: %w", CommissionableService, err)
	}

	found := make(map[string]CommissionableNode)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return sortedNodes(found), nil
			}
			if entry == nil {
				continue
			}
			node := nodeFromEntry(entry)
			found[node.Instance] = node
			b.logger.Debug("commissionable node seen", "instance", node.Instance, "discriminator", node.Discriminator)
		case <-ctx.Done():
			return sortedNodes(found), nil
		}
	}
}

func sortedNodes(m map[string]CommissionableNode) []CommissionableNode {
	nodes := make([]CommissionableNode, 0, len(m))
	for _, n := range m {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Instance < nodes[j].Instance })
	return nodes
}

func nodeFromEntry(e *zeroconf.ServiceEntry) CommissionableNode {
	txt := parseTXT(e.Text)
	n := CommissionableNode{
		Instance:   e.Instance,
		HostName:   e.HostName,
		Port:       e.Port,
		DeviceName: txt[txtDeviceName],
	}
	for _, ip := range e.AddrIPv6 {
		n.Addresses = append(n.Addresses, ip.String())
	}
	for _, ip := range e.AddrIPv4 {
		n.Addresses = append(n.Addresses, ip.String())
	}

	if v, err := strconv.ParseUint(txt[txtDiscriminator], 10, 12); err == nil {
		n.Discriminator = uint16(v)
	}
	if v, err := strconv.Atoi(txt[txtCommissioningMode]); err == nil {
		n.CommissioningMode = v
	}
	if v, err := strconv.ParseUint(txt[txtDeviceType], 10, 32); err == nil {
		n.DeviceType = uint32(v)
	}
	// VP is "<vendor>" or "<vendor>+<product>".
	if vp := txt[txtVendorProduct]; vp != "" {
		vid, pid, _ := strings.Cut(vp, "+")
		if v, err := strconv.ParseUint(vid, 10, 16); err == nil {
			n.VendorID = uint16(v)
		}
		if v, err := strconv.ParseUint(pid, 10, 16); err == nil {
			n.ProductID = uint16(v)
		}
	}
	return n
}

// parseTXT splits "key=value" records. Keys without '=' map to "".
func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		k, v, _ := strings.Cut(r, "=")
		if k != "" {
			out[k] = v
		}
	}
	return out
}
