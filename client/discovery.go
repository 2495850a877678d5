package client

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/mdns"
)

// DefaultServiceType is the mDNS service a streaming server bridge advertises.
const DefaultServiceType = "_e4streaming._tcp"

// DiscoveredServer is a streaming server found on the local network.
type DiscoveredServer struct {
	Name       string
	Host       string
	Port       int
	TXTRecords []string
}

// Discover looks up the first streaming server advertising serviceType. A nil log discards.
func Discover(ctx context.Context, serviceType string, timeout time.Duration, log Logger) (*DiscoveredServer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if log == nil {
		log = discardLogger()
	}
	if serviceType == "" {
		serviceType = DefaultServiceType
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	entriesCh := make(chan *mdns.ServiceEntry, 4)
	params := mdns.DefaultParams(serviceType)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.DisableIPv6 = true

	go func() {
		defer close(entriesCh)
		if err := mdns.Query(params); err != nil {
			log.Warn("mDNS query failed", "service", serviceType, "error", err)
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case entry, ok := <-entriesCh:
		if !ok || entry == nil {
			return nil, fmt.Errorf("no %s service found", serviceType)
		}
		var host string
		switch {
		case entry.AddrV4 != nil:
			host = entry.AddrV4.String()
		case entry.AddrV6 != nil:
			host = entry.AddrV6.String()
		default:
			return nil, fmt.Errorf("no valid address found for service %s", entry.Name)
		}
		server := &DiscoveredServer{
			Name:       entry.Name,
			Host:       host,
			Port:       entry.Port,
			TXTRecords: entry.InfoFields,
		}
		log.Info("Discovered streaming server", "name", server.Name, "host", server.Host, "port", server.Port)
		return server, nil

	case <-timer.C:
		return nil, fmt.Errorf("mDNS discovery timeout for %s", serviceType)

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
