package main

import (
	"context"
	"net"

	"github.com/pkg/errors"

	transport "github.com/janu-io/janu-go"
)

// tcpLinkManager is janud's own thin LinkManager: a real socket driver is
// explicitly out of scope for the transport module itself (spec.md §1),
// but the daemon needs one to be more than a library exercised only by
// tests, so it lives here instead.
type tcpLinkManager struct {
	mtu int
}

func newTCPLinkManager(mtu int) *tcpLinkManager {
	return &tcpLinkManager{mtu: mtu}
}

func (m *tcpLinkManager) Protocol() string { return "tcp" }

func (m *tcpLinkManager) Dial(ctx context.Context, ep transport.EndPoint) (transport.Link, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", ep.Locator.Address)
	if err != nil {
		return nil, errors.Wrapf(err, "janud: dial %s", ep)
	}
	return transport.NewStreamLink(conn, m.mtu, transport.EndPoint{}, ep), nil
}

func (m *tcpLinkManager) Listen(ctx context.Context, ep transport.EndPoint, accept func(transport.Link)) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", ep.Locator.Address)
	if err != nil {
		return errors.Wrapf(err, "janud: listen %s", ep)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return errors.Wrapf(err, "janud: accept %s", ep)
		}
		accept(transport.NewStreamLink(conn, m.mtu, ep, transport.EndPoint{}))
	}
}
