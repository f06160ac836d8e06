package network

import (
	"context"
	"net"
	"time"
)

// ProbeAddress is dialed to decide whether the device is online
const ProbeAddress = "8.8.8.8:53"

// CheckInternet reports whether a TCP connection to ProbeAddress succeeds within 5s
func CheckInternet(ctx context.Context) bool {
	return CheckAddress(ctx, ProbeAddress, 5*time.Second)
}

// CheckAddress dials addr over TCP and reports success
func CheckAddress(ctx context.Context, addr string, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
