package bluetooth

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// MacAddress represents a Bluetooth hardware address, in display byte order.
type MacAddress [6]byte

// ParseMacAddress parses a colon-separated hardware address string.
func ParseMacAddress(s string) (MacAddress, error) {
	var address MacAddress

	raw, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil || len(raw) != 6 {
		return address, fmt.Errorf("invalid hardware address %q", s)
	}

	copy(address[:], raw)

	return address, nil
}

// String returns a colon-separated representation of the address.
func (m MacAddress) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsZero reports whether the address is unset.
func (m MacAddress) IsZero() bool {
	return m == MacAddress{}
}
