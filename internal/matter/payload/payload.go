package payload

import (
	"fmt"
	"strings"
)

const (
	// MaxPasscode is the largest passcode a device may use.
	MaxPasscode uint32 = 99999998

	// MaxDiscriminator is the largest 12-bit discriminator.
	MaxDiscriminator uint16 = 0xFFF

	longDiscriminatorBits  = 12
	shortDiscriminatorBits = 4
)

// trivialPasscodes are rejected even though they are in range.
var trivialPasscodes = map[uint32]struct{}{
	0: {}, 11111111: {}, 22222222: {}, 33333333: {}, 44444444: {},
	55555555: {}, 66666666: {}, 77777777: {}, 88888888: {}, 99999999: {},
	12345678: {}, 87654321: {},
}

// Flow says how a device enters pairing mode.
type Flow uint8

const (
	FlowStandard   Flow = 0
	FlowUserIntent Flow = 1
	FlowCustom     Flow = 2
)

func (f Flow) String() string {
	switch f {
	case FlowStandard:
		return "standard"
	case FlowUserIntent:
		return "user-intent"
	case FlowCustom:
		return "custom"
	default:
		return fmt.Sprintf("flow(%d)", uint8(f))
	}
}

// Rendezvous is the discovery-capabilities bitmask carried by QR codes.
type Rendezvous uint8

const (
	RendezvousSoftAP    Rendezvous = 1 << 0
	RendezvousBLE       Rendezvous = 1 << 1
	RendezvousOnNetwork Rendezvous = 1 << 2
)

// Has reports whether every bit in flag is set.
func (r Rendezvous) Has(flag Rendezvous) bool {
	return r&flag == flag
}

func (r Rendezvous) String() string {
	var parts []string
	if r.Has(RendezvousSoftAP) {
		parts = append(parts, "softap")
	}
	if r.Has(RendezvousBLE) {
		parts = append(parts, "ble")
	}
	if r.Has(RendezvousOnNetwork) {
		parts = append(parts, "on-network")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Discriminator identifies a commissionable device during discovery.
//
// QR codes carry all 12 bits. Manual codes carry only the top four, in which
// case Short is true and Value holds those four bits.
type Discriminator struct {
	Value uint16
	Short bool
}

// ShortValue returns the four most significant bits.
func (d Discriminator) ShortValue() uint8 {
	if d.Short {
		return uint8(d.Value)
	}
	return uint8(d.Value >> (longDiscriminatorBits - shortDiscriminatorBits))
}

// Matches reports whether a device advertising the 12-bit value long could
// be the device this discriminator describes.
func (d Discriminator) Matches(long uint16) bool {
	if d.Short {
		return uint16(d.ShortValue()) == long>>(longDiscriminatorBits-shortDiscriminatorBits)
	}
	return d.Value == long
}

func (d Discriminator) String() string {
	if d.Short {
		return fmt.Sprintf("%d (short)", d.Value)
	}
	return fmt.Sprintf("%d", d.Value)
}

// SetupPayload is the decoded onboarding information for one device.
type SetupPayload struct {
	Version       uint8
	VendorID      uint16
	ProductID     uint16
	Flow          Flow
	Rendezvous    Rendezvous
	Discriminator Discriminator
	Passcode      uint32
}

// HasVendorProduct reports whether vendor and product ids are present.
// Short manual codes carry neither.
func (p SetupPayload) HasVendorProduct() bool {
	return p.VendorID != 0 || p.ProductID != 0
}

// Validate checks the passcode and discriminator ranges.
func (p SetupPayload) Validate() error {
	if err := ValidatePasscode(p.Passcode); err != nil {
		return err
	}
	limit := MaxDiscriminator
	if p.Discriminator.Short {
		limit = 1<<shortDiscriminatorBits - 1
	}
	if p.Discriminator.Value > limit {
		return fmt.Errorf("%w: %d", ErrInvalidDiscriminator, p.Discriminator.Value)
	}
	return nil
}

// ValidatePasscode rejects zero, values above MaxPasscode and the trivial
// sequences (11111111, 12345678, ...).
func ValidatePasscode(passcode uint32) error {
	if passcode > MaxPasscode {
		return fmt.Errorf("%w: %d exceeds %d", ErrInvalidPasscode, passcode, MaxPasscode)
	}
	if _, trivial := trivialPasscodes[passcode]; trivial {
		return fmt.Errorf("%w: %08d is not allowed", ErrInvalidPasscode, passcode)
	}
	return nil
}

// Parse decodes either textual form. Strings starting with "MT:" are QR codes;
// anything else is treated as a manual pairing code.
func Parse(code string) (SetupPayload, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return SetupPayload{}, ErrEmpty
	}
	if strings.HasPrefix(strings.ToUpper(code), qrPrefix) {
		return ParseQRCode(code)
	}
	return ParseManualCode(code)
}
