package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RelayCommand is an opaque byte sequence sent to the relay backend for
// one logical mode. It is parsed once at configuration load time and
// thereafter treated as immutable; downstream code only indexes these
// five commands, never synthesizes bytes itself.
//
// Accepted JSON forms:
//   - a decimal integer:          5
//   - an array of integers:       [1, 2, 3]
//   - a single hex byte string:   "0x05"
//   - a hex list string:          "0x01,0x02"
//   - a binary string:            "0b00000101"
type RelayCommand []byte

// UnmarshalJSON implements json.Unmarshaler, accepting any of the forms
// documented above.
func (rc *RelayCommand) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))

	// Decimal integer: 5
	if n, err := strconv.Atoi(trimmed); err == nil {
		if n < 0 || n > 0xFF {
			return fmt.Errorf("relay command integer %d out of byte range", n)
		}
		*rc = RelayCommand{byte(n)}
		return nil
	}

	// Array of integers: [1, 2, 3]
	if strings.HasPrefix(trimmed, "[") {
		var nums []int
		if err := json.Unmarshal(data, &nums); err != nil {
			return fmt.Errorf("relay command array: %w", err)
		}
		bs := make([]byte, len(nums))
		for i, n := range nums {
			if n < 0 || n > 0xFF {
				return fmt.Errorf("relay command array element %d out of byte range", n)
			}
			bs[i] = byte(n)
		}
		*rc = bs
		return nil
	}

	// String forms: "0x05", "0x01,0x02", "0b00000101"
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("relay command: unrecognized JSON value %q", trimmed)
	}
	return rc.parseString(s)
}

func (rc *RelayCommand) parseString(s string) error {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "0b"):
		n, err := strconv.ParseUint(s[2:], 2, 8)
		if err != nil {
			return fmt.Errorf("relay command binary literal %q: %w", s, err)
		}
		*rc = RelayCommand{byte(n)}
		return nil
	case strings.HasPrefix(s, "0x"):
		parts := strings.Split(s, ",")
		bs := make([]byte, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			p = strings.TrimPrefix(p, "0x")
			n, err := strconv.ParseUint(p, 16, 8)
			if err != nil {
				return fmt.Errorf("relay command hex literal %q: %w", s, err)
			}
			bs = append(bs, byte(n))
		}
		*rc = bs
		return nil
	default:
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("relay command %q: unrecognized format", s)
		}
		if n < 0 || n > 0xFF {
			return fmt.Errorf("relay command integer %d out of byte range", n)
		}
		*rc = RelayCommand{byte(n)}
		return nil
	}
}

// MarshalJSON renders the command back as a hex list, the canonical
// round-trippable form (parsing a rendered command must yield an
// equivalent byte sequence).
func (rc RelayCommand) MarshalJSON() ([]byte, error) {
	parts := make([]string, len(rc))
	for i, b := range rc {
		parts[i] = fmt.Sprintf("0x%02x", b)
	}
	return json.Marshal(strings.Join(parts, ","))
}

// RelayCommandSet holds the five logical relay commands parsed from
// configuration.
type RelayCommandSet struct {
	Off       RelayCommand `json:"off"`
	FanOnly   RelayCommand `json:"fan_only"`
	Cool      RelayCommand `json:"cool"`
	Heat      RelayCommand `json:"heat"`
	Emergency RelayCommand `json:"emergency"`
}

// Validate ensures every command is non-empty; the engine never
// synthesizes relay bytes, so an empty command would be a silent no-op
// write.
func (s RelayCommandSet) Validate() error {
	for name, cmd := range map[string]RelayCommand{
		"off": s.Off, "fan_only": s.FanOnly, "cool": s.Cool, "heat": s.Heat, "emergency": s.Emergency,
	} {
		if len(cmd) == 0 {
			return fmt.Errorf("relay_commands.%s must not be empty", name)
		}
	}
	return nil
}
