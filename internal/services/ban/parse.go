package ban

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/mcoot/mpserver/internal/model"
)

// Permanent is the duration keyword for bans without expiry
const Permanent = "permanent"

// ParseTime converts a ban duration into an absolute expiry. A nil result
// means the ban is permanent.
//
// Accepted forms:
//   - "permanent"
//   - a preset name, resolved through presets
//   - "TIME" followed by <n><unit> pairs setting absolute calendar fields
//   - <n><unit> pairs added to now, e.g. "2h20m" or "5D"; a bare trailing
//     number counts minutes
//
// Units are Y/y years, M months, D/d days, H/h hours, m minutes, S/s seconds.
func ParseTime(now time.Time, s string, presets map[string]string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", model.ErrInvalidDuration)
	}
	if strings.EqualFold(s, Permanent) {
		return nil, nil
	}
	for name, value := range presets {
		if strings.EqualFold(name, s) {
			return ParseTime(now, value, nil)
		}
	}

	if rest, ok := strings.CutPrefix(s, "TIME"); ok {
		t, err := absoluteTime(now, rest)
		if err != nil {
			return nil, err
		}
		if !t.After(now) {
			return nil, fmt.Errorf("%w: %q is in the past", model.ErrInvalidDuration, s)
		}
		return &t, nil
	}

	t := now
	err := eachField(s, func(n int, unit byte) error {
		switch unit {
		case 'Y', 'y':
			t = t.AddDate(n, 0, 0)
		case 'M':
			t = t.AddDate(0, n, 0)
		case 'D', 'd':
			t = t.AddDate(0, 0, n)
		case 'H', 'h':
			t = t.Add(time.Duration(n) * time.Hour)
		case 'm', 0:
			t = t.Add(time.Duration(n) * time.Minute)
		case 'S', 's':
			t = t.Add(time.Duration(n) * time.Second)
		default:
			return fmt.Errorf("%w: unknown unit %q", model.ErrInvalidDuration, unit)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !t.After(now) {
		return nil, fmt.Errorf("%w: %q is not a positive duration", model.ErrInvalidDuration, s)
	}
	return &t, nil
}

func absoluteTime(now time.Time, fields string) (time.Time, error) {
	year, month, day := now.Date()
	hour, minute, sec := now.Clock()
	err := eachField(fields, func(n int, unit byte) error {
		switch unit {
		case 'Y', 'y':
			year = n
		case 'M':
			month = time.Month(n)
		case 'D', 'd':
			day = n
		case 'H', 'h':
			hour = n
		case 'm', 0:
			minute = n
		case 'S', 's':
			sec = n
		default:
			return fmt.Errorf("%w: unknown unit %q", model.ErrInvalidDuration, unit)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(year, month, day, hour, minute, sec, 0, now.Location()), nil
}

// eachField walks <number><unit> pairs. A trailing number without a unit is
// reported with unit 0.
func eachField(s string, fn func(n int, unit byte) error) error {
	if s == "" {
		return fmt.Errorf("%w: no fields", model.ErrInvalidDuration)
	}
	i := 0
	for i < len(s) {
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if start == i {
			return fmt.Errorf("%w: expected number at %q", model.ErrInvalidDuration, s[start:])
		}
		n, err := strconv.Atoi(s[start:i])
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrInvalidDuration, err)
		}
		var unit byte
		if i < len(s) {
			unit = s[i]
			i++
		}
		if err := fn(n, unit); err != nil {
			return err
		}
	}
	return nil
}

// ParseTarget parses an address or subnet. Accepted forms are a bare
// address, CIDR notation, and trailing-wildcard IPv4 masks such as "10.1.*".
func ParseTarget(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Prefix{}, fmt.Errorf("%w: empty", model.ErrInvalidTarget)
	}
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%w: %v", model.ErrInvalidTarget, err)
		}
		return p.Masked(), nil
	}
	if strings.Contains(s, "*") {
		return parseWildcard(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: %v", model.ErrInvalidTarget, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func parseWildcard(s string) (netip.Prefix, error) {
	parts := strings.Split(s, ".")
	if len(parts) > 4 {
		return netip.Prefix{}, fmt.Errorf("%w: %q", model.ErrInvalidTarget, s)
	}
	var octets [4]byte
	bits := 0
	wild := false
	for i, part := range parts {
		if part == "*" {
			wild = true
			continue
		}
		if wild {
			return netip.Prefix{}, fmt.Errorf("%w: wildcard must be trailing in %q", model.ErrInvalidTarget, s)
		}
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 || v > 255 {
			return netip.Prefix{}, fmt.Errorf("%w: %q", model.ErrInvalidTarget, s)
		}
		octets[i] = byte(v)
		bits += 8
	}
	return netip.PrefixFrom(netip.AddrFrom4(octets), bits), nil
}

// IsAddress reports whether s looks like an address or mask rather than a nick
func IsAddress(s string) bool {
	_, err := ParseTarget(s)
	return err == nil
}
