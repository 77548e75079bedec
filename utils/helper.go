package utils

import (
	"net"
	"time"
)

// FloorTime rounds t down to the nearest multiple of period (wall clock).
func FloorTime(t time.Time, period time.Duration) time.Time {
	return t.Truncate(period)
}

// CeilingTime rounds t up to the end of the current period window.
func CeilingTime(t time.Time, period time.Duration) time.Time {
	floored := t.Truncate(period)
	if floored.Equal(t) {
		return t
	}
	return floored.Add(period)
}

var privateNetworks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"127.0.0.0/8",
		"fc00::/7",
		"fe80::/10",
		"::1/128",
	} {
		_, block, _ := net.ParseCIDR(cidr)
		privateNetworks = append(privateNetworks, block)
	}
}

// IsPrivateNetwork reports whether the address is within a private or
// reserved range. Unparseable addresses count as private so garbage input
// never feeds the throttle counters.
func IsPrivateNetwork(ipAddress string) bool {
	if ipAddress == "" || ipAddress == "localhost" {
		return true
	}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return true
	}
	for _, block := range privateNetworks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}
