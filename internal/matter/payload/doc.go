// Package payload parses and encodes Matter onboarding payloads.
//
// Two textual forms are supported:
//   - Manual pairing codes: 11 digits (discriminator + passcode) or 21 digits
//     (additionally vendor and product id), terminated by a Verhoeff check digit.
//     Dashes and spaces are ignored.
//   - QR codes: "MT:" followed by an 88-bit packed record in Base38.
//     Optional TLV extension data is not supported.
//
// Usage:
//
//	p, err := payload.Parse("3497-011-2332")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(p.Discriminator, p.Passcode)
package payload
