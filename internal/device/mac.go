package device

import (
	"fmt"
	"strings"
)

// NormalizeMAC canonicalises a MAC address to uppercase colon-separated form.
//
// It accepts 12 hex digits, either bare or separated by ':' or '-' between
// every octet, in any case. Anything else is ErrInvalidInput.
//
//	NormalizeMAC("aa-bb-cc-dd-ee-ff") // "AA:BB:CC:DD:EE:FF", nil
func NormalizeMAC(mac string) (string, error) {
	s := strings.TrimSpace(mac)
	if s == "" {
		return "", fmt.Errorf("%w: mac address is required", ErrInvalidInput)
	}

	var hex string
	switch len(s) {
	case 12:
		hex = s
	case 17:
		sep := s[2]
		if sep != ':' && sep != '-' {
			return "", fmt.Errorf("%w: malformed mac address %q", ErrInvalidInput, mac)
		}
		var b strings.Builder
		for i := 0; i < 17; i++ {
			if i%3 == 2 {
				if s[i] != sep {
					return "", fmt.Errorf("%w: malformed mac address %q", ErrInvalidInput, mac)
				}
				continue
			}
			b.WriteByte(s[i])
		}
		hex = b.String()
	default:
		return "", fmt.Errorf("%w: malformed mac address %q", ErrInvalidInput, mac)
	}

	hex = strings.ToUpper(hex)
	for i := 0; i < len(hex); i++ {
		c := hex[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return "", fmt.Errorf("%w: malformed mac address %q", ErrInvalidInput, mac)
		}
	}

	out := make([]byte, 0, 17)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, hex[i], hex[i+1])
	}
	return string(out), nil
}

// CompactMAC returns the lowercase hex digits of a canonical MAC with the
// separators removed ("AA:BB:CC:DD:EE:FF" -> "aabbccddeeff"). It is used to
// build MQTT object IDs.
func CompactMAC(mac string) string {
	return strings.ToLower(strings.ReplaceAll(mac, ":", ""))
}

// PlaceholderName is the name given to devices that advertise none:
// "BLE Device " followed by the last six hex digits of the MAC.
func PlaceholderName(mac string) string {
	hex := strings.ToUpper(strings.ReplaceAll(mac, ":", ""))
	if len(hex) > 6 {
		hex = hex[len(hex)-6:]
	}
	return "BLE Device " + hex
}
