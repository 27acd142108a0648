package payload

import (
	"fmt"
	"strconv"
	"strings"
)

// Manual code layout, without the trailing check digit:
//
//	chunk1 (1 digit):  bits 0-1 discriminator MSBs, bit 2 vendor/product flag
//	chunk2 (5 digits): bits 0-13 passcode LSBs, bits 14-15 discriminator LSBs
//	chunk3 (4 digits): bits 0-12 passcode MSBs
//	vendor (5 digits), product (5 digits): long form only
const (
	shortCodeDigits = 10
	longCodeDigits  = 20

	chunk2Digits = 5
	chunk3Digits = 4
	idDigits     = 5

	vendorProductFlag = 1 << 2
	passcodeLowBits   = 14
	passcodeHighBits  = 13
	discLowBits       = 2
)

// ParseManualCode decodes an 11 or 21 digit manual pairing code.
// Non-digit formatting characters such as '-' and ' ' are ignored.
func ParseManualCode(code string) (SetupPayload, error) {
	digits, err := manualDigits(code)
	if err != nil {
		return SetupPayload{}, err
	}
	if !validCheckDigit(digits) {
		return SetupPayload{}, ErrInvalidCheckDigit
	}
	body := digits[:len(digits)-1]

	long := len(body) == longCodeDigits
	if !long && len(body) != shortCodeDigits {
		return SetupPayload{}, fmt.Errorf("%w: %d digits", ErrInvalidLength, len(digits))
	}

	chunk1 := uint32(body[0] - '0')
	if chunk1 > 7 {
		return SetupPayload{}, fmt.Errorf("%w: leading digit %d", ErrReservedValue, chunk1)
	}
	if (chunk1&vendorProductFlag != 0) != long {
		return SetupPayload{}, fmt.Errorf("%w: vendor/product flag does not match length", ErrInvalidLength)
	}

	chunk2 := decimal(body[1 : 1+chunk2Digits])
	chunk3 := decimal(body[1+chunk2Digits : 1+chunk2Digits+chunk3Digits])
	if chunk2 > 0xFFFF || chunk3 >= 1<<passcodeHighBits {
		return SetupPayload{}, fmt.Errorf("%w: chunk out of range", ErrReservedValue)
	}

	disc := (chunk1&0x3)<<discLowBits | chunk2>>passcodeLowBits
	p := SetupPayload{
		Flow:          FlowStandard,
		Discriminator: Discriminator{Value: uint16(disc), Short: true},
		Passcode:      chunk3<<passcodeLowBits | chunk2&(1<<passcodeLowBits-1),
	}

	if long {
		rest := body[1+chunk2Digits+chunk3Digits:]
		vid, pid := decimal(rest[:idDigits]), decimal(rest[idDigits:])
		if vid > 0xFFFF || pid > 0xFFFF {
			return SetupPayload{}, fmt.Errorf("%w: vendor or product id exceeds 16 bits", ErrReservedValue)
		}
		p.VendorID, p.ProductID = uint16(vid), uint16(pid)
		p.Flow = FlowCustom
	}

	if err := ValidatePasscode(p.Passcode); err != nil {
		return SetupPayload{}, err
	}
	return p, nil
}

// EncodeManualCode renders p as a manual pairing code. The 21 digit form is
// used for the custom flow, the 11 digit form otherwise.
func EncodeManualCode(p SetupPayload) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	disc := uint32(p.Discriminator.ShortValue())
	long := p.Flow == FlowCustom

	chunk1 := disc >> discLowBits
	if long {
		chunk1 |= vendorProductFlag
	}
	chunk2 := (disc&0x3)<<passcodeLowBits | p.Passcode&(1<<passcodeLowBits-1)
	chunk3 := p.Passcode >> passcodeLowBits

	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(uint64(chunk1), 10))
	fmt.Fprintf(&sb, "%05d%04d", chunk2, chunk3)
	if long {
		fmt.Fprintf(&sb, "%05d%05d", p.VendorID, p.ProductID)
	}
	sb.WriteByte(checkDigit(sb.String()))
	return sb.String(), nil
}

// FormatManualCode groups an 11 digit code as 4-3-4 and a 21 digit code as
// 4-3-4-5-5 for display. Other input is returned unchanged.
func FormatManualCode(code string) string {
	switch len(code) {
	case shortCodeDigits + 1:
		return code[:4] + "-" + code[4:7] + "-" + code[7:]
	case longCodeDigits + 1:
		return code[:4] + "-" + code[4:7] + "-" + code[7:11] + "-" + code[11:16] + "-" + code[16:]
	default:
		return code
	}
}

func manualDigits(code string) (string, error) {
	var sb strings.Builder
	for _, r := range code {
		switch {
		case r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '-' || r == ' ':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidCharacter, r)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmpty
	}
	return sb.String(), nil
}

// decimal parses a run of ASCII digits already checked by manualDigits.
func decimal(s string) uint32 {
	var v uint32
	for i := 0; i < len(s); i++ {
		v = v*10 + uint32(s[i]-'0')
	}
	return v
}
