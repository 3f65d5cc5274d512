// Package discovery finds AirPlay receivers on the local network
// through their Bonjour announcements.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"aircast"
)

const (
	serviceType   = "_airplay._tcp"
	serviceDomain = "local."

	// DefaultTimeout bounds a browse whose ctx carries no deadline.
	DefaultTimeout = 10 * time.Second
)

// ErrNoDevice reports a browse that ended without any receiver answering.
var ErrNoDevice = errors.New("discovery: no device found")

// Find browses until ctx ends and returns every receiver that answered.
// A ctx without a deadline is bounded by DefaultTimeout.
func Find(ctx context.Context) ([]aircast.Device, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	var found []aircast.Device
	err := browse(ctx, func(dev aircast.Device) bool {
		found = append(found, dev)
		return true
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// FindFirst returns the first receiver to answer and cuts the browse
// short, or ErrNoDevice when ctx ends with nothing found.
func FindFirst(ctx context.Context) (aircast.Device, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	var (
		dev   aircast.Device
		found bool
	)
	err := browse(ctx, func(d aircast.Device) bool {
		dev, found = d, true
		return false
	})
	if err != nil {
		return aircast.Device{}, err
	}
	if !found {
		return aircast.Device{}, ErrNoDevice
	}
	return dev, nil
}

// browse runs one mDNS query and feeds each mapped device to fn until
// fn returns false or ctx ends.
func browse(ctx context.Context, fn func(aircast.Device) bool) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, serviceType, serviceDomain, entries); err != nil {
		return fmt.Errorf("discovery: browse: %w", err)
	}

	for entry := range entries {
		dev, ok := deviceFromEntry(entry)
		if !ok {
			continue
		}
		slog.Debug("receiver announced", "name", dev.Name, "addr", dev.Addr())
		if !fn(dev) {
			// Keep the resolver's send path moving until our caller's
			// cancel lets it shut down.
			go func() {
				for range entries {
				}
			}()
			return nil
		}
	}
	return nil
}

// deviceFromEntry maps one mDNS answer to a device. IPv4 wins over
// IPv6, the advertised hostname is a last resort, and the instance name
// is cut at its first dot the way receivers format it.
func deviceFromEntry(entry *zeroconf.ServiceEntry) (aircast.Device, bool) {
	if entry == nil || entry.Port == 0 {
		return aircast.Device{}, false
	}

	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return aircast.Device{}, false
	}

	name, _, _ := strings.Cut(entry.Instance, ".")
	return aircast.Device{
		Host: host,
		Port: entry.Port,
		Name: name,
	}, true
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}
