// Command janud is a minimal driver for the janu transport core: it reads
// configuration from JANU_HOME and the command line, opens or listens for
// the configured sessions, and runs until signaled.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	commonlog "github.com/prometheus/common/log"

	transport "github.com/janu-io/janu-go"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run does the actual work and returns the process exit code, keeping
// main itself trivially free of control-flow so tests could call run
// directly.
func run(args []string) int {
	log := commonlog.Base()

	cfg := defaultDaemonConfig()
	configPath := filepath.Join(transport.JanuHome(), "config")
	if props, err := loadPropertiesFile(configPath); err != nil {
		log.Errorf("janud: %v", err)
		return 1
	} else if props != nil {
		if err := applyProperties(&cfg, props); err != nil {
			log.Errorf("janud: %v", err)
			return 1
		}
	}

	fs := flag.NewFlagSet("janud", flag.ContinueOnError)
	if err := parseFlags(fs, args, &cfg); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		log.Errorf("janud: %v", err)
		return 1
	}

	tcfg := transport.DefaultConfig()
	tcfg.WhatAmI = whatAmI(cfg.mode)
	tcfg.IsQoS = cfg.qos
	tcfg.Lease = cfg.linkLease
	tcfg.KeepAlive = cfg.linkKeepAlive
	tcfg.MaxSessions = cfg.maxSessions
	tcfg.MaxLinks = cfg.maxLinks

	manager := transport.NewManager(tcfg)
	lm := newTCPLinkManager(tcfg.MTU)
	manager.RegisterLinkManager(lm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := &loggingUnicastHandler{log: log}

	for _, raw := range cfg.listeners {
		ep, err := transport.ParseEndPoint(raw)
		if err != nil {
			log.Errorf("janud: listener %q: %v", raw, err)
			return 1
		}
		go func(ep transport.EndPoint) {
			err := lm.Listen(ctx, ep, func(link transport.Link) {
				go func() {
					if _, err := manager.AcceptUnicast(ctx, link, handler); err != nil {
						_ = link.Close()
					}
				}()
			})
			if err != nil && ctx.Err() == nil {
				log.Errorf("janud: listen %s: %v", ep, err)
			}
		}(ep)
		log.Infof("janud: listening on %s", ep)
	}

	for _, raw := range cfg.peers {
		ep, err := transport.ParseEndPoint(raw)
		if err != nil {
			log.Errorf("janud: peer %q: %v", raw, err)
			return 1
		}
		dialCtx, dialCancel := context.WithTimeout(ctx, tcfg.Lease)
		_, err = manager.OpenUnicast(dialCtx, ep, handler)
		dialCancel()
		if err != nil {
			log.Errorf("janud: open %s: %v", ep, err)
			return 1
		}
		log.Infof("janud: session established with %s", ep)
	}

	if cfg.multicastScout {
		log.Infof("janud: multicast_scouting requested but no UDP bus driver is wired into this build; skipping")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("janud: received %v, shutting down", sig)
	cancel()

	if err := manager.Close(); err != nil {
		log.Errorf("janud: close: %v", err)
		return 1
	}
	return 0
}

// loggingUnicastHandler logs session lifecycle events; janud does not yet
// forward delivered Messages anywhere since the routing layer they'd feed
// is out of scope for this module.
type loggingUnicastHandler struct {
	transport.NopUnicastHandler
	log commonlog.Logger
}

func (h *loggingUnicastHandler) HandleMessage(s *transport.TransportUnicast, ch transport.Channel, msg transport.Message) {
	h.log.Debugf("janud[%s]: message on channel %+v from %s: %T", s.ID(), ch, s.Peer(), msg)
}

func (h *loggingUnicastHandler) NewLink(s *transport.TransportUnicast, link transport.Link) {
	h.log.Infof("janud[%s]: link established with %s", s.ID(), s.Peer())
}

func (h *loggingUnicastHandler) DelLink(s *transport.TransportUnicast, link transport.Link, cause error) {
	h.log.Infof("janud[%s]: link with %s removed: %v", s.ID(), s.Peer(), cause)
}

func (h *loggingUnicastHandler) Closed(s *transport.TransportUnicast, cause error) {
	h.log.Infof("janud[%s]: session with %s closed: %v", s.ID(), s.Peer(), cause)
}
