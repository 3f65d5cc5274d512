package aircast

import (
	"net"
	"strconv"
	"time"
)

const (
	// DefaultPort is the control port AirPlay receivers listen on.
	DefaultPort = 7000

	// DefaultTimeout bounds each control request.
	DefaultTimeout = 5 * time.Second
)

// Device identifies one control endpoint on the network. The zero values
// of Port and Timeout stand for the defaults, so a Device found by
// discovery or written by hand both work as-is.
type Device struct {
	Host    string
	Port    int
	Name    string // as advertised over mDNS, optional
	Timeout time.Duration
}

// Addr returns the host:port form of the control endpoint.
func (d Device) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.port()))
}

func (d Device) port() int {
	if d.Port == 0 {
		return DefaultPort
	}
	return d.Port
}

func (d Device) timeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultTimeout
	}
	return d.Timeout
}

func (d Device) baseURL() string {
	return "http://" + d.Addr()
}
