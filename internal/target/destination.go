package target

import (
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

const (
	cableModemAddress = "192.168.100.1"
	defaultURIScheme  = "http://"
)

// destination is a validated probe address.
type destination struct {
	kind Type
	// value is what TargetDestination reports.
	value string
	// host is what the ping command receives.
	host string
	ipv6 bool
}

// resolveDestination maps aliases and validates the result against the declared type.
// A gateway destination is left empty for the resolver to fill in.
func resolveDestination(t Type, dest string) (destination, error) {
	dest = strings.TrimSpace(dest)
	switch t {
	case TypeCableModem:
		return resolveDestination(TypeIPv4, cableModemAddress)
	case TypeGateway:
		return destination{kind: TypeGateway}, nil
	case TypeIPv4:
		addr, err := netip.ParseAddr(dest)
		if err != nil || !addr.Is4() {
			return destination{}, rangeError("target_dest", dest, "not an IPv4 address")
		}
		return destination{kind: t, value: addr.String(), host: addr.String()}, nil
	case TypeIPv6:
		addr, err := netip.ParseAddr(dest)
		if err != nil || !addr.Is6() || addr.Is4In6() {
			return destination{}, rangeError("target_dest", dest, "not an IPv6 address")
		}
		return destination{kind: t, value: addr.String(), host: addr.String(), ipv6: true}, nil
	case TypeURI:
		host, err := uriHost(dest)
		if err != nil {
			return destination{}, err
		}
		addr, ipErr := netip.ParseAddr(host)
		return destination{kind: t, value: dest, host: host, ipv6: ipErr == nil && addr.Is6() && !addr.Is4In6()}, nil
	default:
		return destination{}, &ConfigError{Field: "target_type", Value: t, Reason: "unknown type", Err: ErrInvalidArgument}
	}
}

// gatewayDestination validates an address discovered from the routing table.
func gatewayDestination(addr string) (destination, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return destination{}, rangeError("target_dest", addr, "gateway is not an IP address")
	}
	ip = ip.Unmap()
	return destination{kind: TypeGateway, value: ip.String(), host: ip.String(), ipv6: ip.Is6()}, nil
}

// uriHost validates a URL (or bare host name, which gets a default scheme) and returns
// the host part.
func uriHost(dest string) (string, error) {
	if dest == "" {
		return "", &ConfigError{Field: "target_dest", Value: dest, Reason: "missing destination", Err: ErrInvalidArgument}
	}
	if dest == "localhost" {
		return dest, nil
	}
	raw := dest
	if !strings.Contains(raw, "://") {
		raw = defaultURIScheme + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return "", rangeError("target_dest", dest, "not a valid URL")
	}
	host := u.Hostname()
	if _, err := netip.ParseAddr(host); err == nil {
		return host, nil
	}
	if _, err := idna.Lookup.ToASCII(host); err != nil {
		return "", rangeError("target_dest", dest, "invalid host name")
	}
	return host, nil
}

// identity hashes the effective type and destination so that targets pointing at the
// same place share an ID.
func identity(kind Type, value string) string {
	sum := sha256.Sum256([]byte(string(kind) + value))
	return hex.EncodeToString(sum[:])
}
