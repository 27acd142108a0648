package matter

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

// fakeResolver replays canned entries, then waits for ctx like a real browse.
type fakeResolver struct {
	entries []*zeroconf.ServiceEntry
	err     error
	service string
}

func (f *fakeResolver) Browse(ctx context.Context, service, _ string, entries chan<- *zeroconf.ServiceEntry) error {
	f.service = service
	if f.err != nil {
		return f.err
	}
	go func() {
		for _, e := range f.entries {
			select {
			case entries <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func entry(instance string, txt ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, CommissionableService, "local.")
	e.HostName = instance + ".local."
	e.Port = 5540
	e.Text = txt
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	return e
}

func TestBrowser_BrowseCommissionable(t *testing.T) {
	r := &fakeResolver{entries: []*zeroconf.ServiceEntry{
		entry("B2C4", "D=3840", "VP=65521+32769", "CM=1", "DN=Kitchen", "DT=256"),
		entry("A1F0", "D=12", "VP=4937", "CM=2"),
		entry("B2C4", "D=3840", "VP=65521+32769", "CM=1", "DN=Kitchen"),
	}}
	b := NewBrowserWithResolver(r, 50*time.Millisecond)

	nodes, err := b.BrowseCommissionable(context.Background())
	if err != nil {
		t.Fatalf("BrowseCommissionable() error = %v", err)
	}
	if r.service != CommissionableService {
		t.Errorf("browsed service = %q", r.service)
	}
	if len(nodes) != 2 {
		t.Fatalf("len(nodes) = %d, want 2 (duplicates merged)", len(nodes))
	}

	a, k := nodes[0], nodes[1]
	if a.Instance != "A1F0" || a.Discriminator != 12 || a.VendorID != 4937 || a.ProductID != 0 || a.CommissioningMode != 2 {
		t.Errorf("nodes[0] = %+v", a)
	}
	if k.Discriminator != 3840 || k.VendorID != 0xFFF1 || k.ProductID != 0x8001 || k.DeviceName != "Kitchen" {
		t.Errorf("nodes[1] = %+v", k)
	}
	if k.Port != 5540 || len(k.Addresses) != 1 || k.Addresses[0] != "192.168.1.20" {
		t.Errorf("nodes[1] addressing = %+v", k)
	}
}

func TestBrowser_ResolverError(t *testing.T) {
	boom := errors.New("no multicast interface")
	b := NewBrowserWithResolver(&fakeResolver{err: boom}, time.Second)
	if _, err := b.BrowseCommissionable(context.Background()); !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}
}

func TestParseTXT(t *testing.T) {
	got := parseTXT([]string{"D=840", "T", "=ignored", "PH=33"})
	if got["D"] != "840" || got["PH"] != "33" {
		t.Errorf("parseTXT() = %v", got)
	}
	if v, ok := got["T"]; !ok || v != "" {
		t.Errorf("bare key T = %q, %v", v, ok)
	}
	if _, ok := got[""]; ok {
		t.Error("empty key should be dropped")
	}
}
