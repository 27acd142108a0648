package payload

import (
	"fmt"
	"strings"
)

const (
	qrPrefix = "MT:"

	base38Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ-."

	// Packed field widths, least significant bit first.
	versionBits    = 3
	vendorBits     = 16
	productBits    = 16
	flowBits       = 2
	rendezvousBits = 8
	discBits       = 12
	passcodeBits   = 27
	paddingBits    = 4

	packedBytes = 11 // 88 bits
	packedChars = 19 // Base38 length of 11 bytes
)

// ParseQRCode decodes an "MT:" QR payload. The prefix is matched
// case-insensitively and the Base38 body is upper-cased before decoding.
func ParseQRCode(code string) (SetupPayload, error) {
	code = strings.TrimSpace(code)
	if len(code) < len(qrPrefix) || !strings.EqualFold(code[:len(qrPrefix)], qrPrefix) {
		return SetupPayload{}, fmt.Errorf("%w: missing %s prefix", ErrInvalidQRCode, qrPrefix)
	}
	body := strings.ToUpper(code[len(qrPrefix):])
	if len(body) != packedChars {
		return SetupPayload{}, fmt.Errorf("%w: body is %d characters, want %d", ErrInvalidQRCode, len(body), packedChars)
	}

	raw, err := base38Decode(body)
	if err != nil {
		return SetupPayload{}, err
	}

	r := bitReader{buf: raw}
	p := SetupPayload{
		Version:    uint8(r.read(versionBits)),
		VendorID:   uint16(r.read(vendorBits)),
		ProductID:  uint16(r.read(productBits)),
		Flow:       Flow(r.read(flowBits)),
		Rendezvous: Rendezvous(r.read(rendezvousBits)),
	}
	p.Discriminator = Discriminator{Value: uint16(r.read(discBits))}
	p.Passcode = uint32(r.read(passcodeBits))
	if r.read(paddingBits) != 0 {
		return SetupPayload{}, fmt.Errorf("%w: non-zero padding", ErrInvalidQRCode)
	}

	if p.Version != 0 {
		return SetupPayload{}, fmt.Errorf("%w: version %d", ErrReservedValue, p.Version)
	}
	if p.Flow > FlowCustom {
		return SetupPayload{}, fmt.Errorf("%w: commissioning flow %d", ErrReservedValue, p.Flow)
	}
	if err := p.Validate(); err != nil {
		return SetupPayload{}, err
	}
	return p, nil
}

// EncodeQRCode renders p as an "MT:" QR payload. A short discriminator
// cannot be encoded because QR codes carry all 12 bits.
func EncodeQRCode(p SetupPayload) (string, error) {
	if p.Discriminator.Short {
		return "", fmt.Errorf("%w: QR codes need the full 12-bit discriminator", ErrInvalidDiscriminator)
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	var w bitWriter
	w.write(uint64(p.Version), versionBits)
	w.write(uint64(p.VendorID), vendorBits)
	w.write(uint64(p.ProductID), productBits)
	w.write(uint64(p.Flow), flowBits)
	w.write(uint64(p.Rendezvous), rendezvousBits)
	w.write(uint64(p.Discriminator.Value), discBits)
	w.write(uint64(p.Passcode), passcodeBits)
	w.write(0, paddingBits)

	return qrPrefix + base38Encode(w.buf), nil
}

// base38Encode packs 3-byte groups into 5 characters, with a trailing 2-byte
// group taking 4 characters and a trailing byte taking 2. Both bytes and
// characters are little-endian.
func base38Encode(data []byte) string {
	var sb strings.Builder
	for len(data) > 0 {
		n := min(3, len(data))
		var v uint32
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint32(data[i])
		}
		for range base38Chars(n) {
			sb.WriteByte(base38Alphabet[v%38])
			v /= 38
		}
		data = data[n:]
	}
	return sb.String()
}

func base38Decode(s string) ([]byte, error) {
	out := make([]byte, 0, packedBytes)
	for len(s) > 0 {
		var chars, n int
		switch {
		case len(s) >= 5:
			chars, n = 5, 3
		case len(s) == 4:
			chars, n = 4, 2
		case len(s) == 2:
			chars, n = 2, 1
		default:
			return nil, fmt.Errorf("%w: bad Base38 length", ErrInvalidQRCode)
		}

		var v uint32
		for i := chars - 1; i >= 0; i-- {
			idx := strings.IndexByte(base38Alphabet, s[i])
			if idx < 0 {
				return nil, fmt.Errorf("%w: %q", ErrInvalidCharacter, s[i])
			}
			v = v*38 + uint32(idx)
		}
		for range n {
			out = append(out, byte(v))
			v >>= 8
		}
		if v != 0 {
			return nil, fmt.Errorf("%w: Base38 chunk overflow", ErrInvalidQRCode)
		}
		s = s[chars:]
	}
	return out, nil
}

func base38Chars(n int) int {
	switch n {
	case 1:
		return 2
	case 2:
		return 4
	default:
		return 5
	}
}

type bitReader struct {
	buf []byte
	pos int
}

func (r *bitReader) read(n int) uint64 {
	var v uint64
	for i := range n {
		bit := r.pos + i
		if r.buf[bit/8]&(1<<(bit%8)) != 0 {
			v |= 1 << i
		}
	}
	r.pos += n
	return v
}

type bitWriter struct {
	buf []byte
	pos int
}

func (w *bitWriter) write(v uint64, n int) {
	for i := range n {
		bit := w.pos + i
		if bit/8 >= len(w.buf) {
			w.buf = append(w.buf, 0)
		}
		if v&(1<<i) != 0 {
			w.buf[bit/8] |= 1 << (bit % 8)
		}
	}
	w.pos += n
}
