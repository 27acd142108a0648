package payload

import "errors"

var (
	// ErrEmpty is returned for a blank payload string.
	ErrEmpty = errors.New("payload: empty setup payload")

	// ErrInvalidLength is returned when a manual code is not 11 or 21 digits,
	// or its length disagrees with its vendor/product flag.
	ErrInvalidLength = errors.New("payload: invalid manual code length")

	// ErrInvalidCheckDigit is returned when the Verhoeff check digit is wrong.
	ErrInvalidCheckDigit = errors.New("payload: invalid check digit")

	// ErrInvalidCharacter is returned for characters outside the code alphabet.
	ErrInvalidCharacter = errors.New("payload: invalid character")

	// ErrReservedValue is returned when a reserved field value is present.
	ErrReservedValue = errors.New("payload: reserved value")

	// ErrInvalidPasscode is returned for out-of-range or trivial passcodes.
	ErrInvalidPasscode = errors.New("payload: invalid passcode")

	// ErrInvalidDiscriminator is returned for a discriminator wider than 12 bits.
	ErrInvalidDiscriminator = errors.New("payload: invalid discriminator")

	// ErrInvalidQRCode is returned for a malformed "MT:" payload.
	ErrInvalidQRCode = errors.New("payload: invalid QR code")
)
