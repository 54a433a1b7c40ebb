package net

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hashicorp/mdns"
)

const serviceType = "_sharedboard._tcp"

// Advertise announces a board server on the local network. Close the
// returned server to withdraw it.
func Advertise(instance string, port int, info ...string) (*mdns.Server, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}
	if len(info) == 0 {
		info = []string{"SharedBoard", "path=/ws"}
	}

	service, err := mdns.NewMDNSService(instance, serviceType, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	return server, nil
}

// Board is a server found by Browse.
type Board struct {
	Instance string
	Addr     string
	Info     []string
}

// Browse queries the local network for board servers until timeout and
// calls found for each one with a usable IPv4 address.
func Browse(ctx context.Context, timeout time.Duration, found func(Board)) error {
	entries := make(chan *mdns.ServiceEntry, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if e.AddrV4 == nil || e.Port == 0 {
				continue
			}
			found(Board{
				Instance: e.Name,
				Addr:     net.JoinHostPort(e.AddrV4.String(), fmt.Sprint(e.Port)),
				Info:     e.InfoFields,
			})
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- mdns.Query(&mdns.QueryParam{
			Service: serviceType,
			Domain:  "local",
			Timeout: timeout,
			Entries: entries,
		})
		close(entries)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}
	<-done
	return err
}
