package main

import (
	"bufio"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	transport "github.com/janu-io/janu-go"
)

// knownProperties is the configuration-properties table from spec.md §6;
// any other key, from either flags or a config file, is rejected.
var knownProperties = map[string]bool{
	"mode":                    true,
	"peer":                    true,
	"listener":                true,
	"multicast_scouting":      true,
	"link_lease":              true,
	"link_keep_alive":         true,
	"join_interval":           true,
	"max_sessions":            true,
	"max_links":               true,
	"qos":                     true,
	"tls_root_ca_certificate": true,
	"tls_server_private_key":  true,
	"tls_server_certificate":  true,
}

// daemonConfig is janud's resolved configuration, after merging a
// JANU_HOME config file with command-line flags (flags win).
type daemonConfig struct {
	mode           string
	peers          []string
	listeners      []string
	multicastScout bool
	linkLease      time.Duration
	linkKeepAlive  time.Duration
	joinInterval   time.Duration
	maxSessions    int
	maxLinks       int
	qos            bool
	tlsRootCA      string
	tlsServerKey   string
	tlsServerCert  string
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		mode:           "peer",
		multicastScout: true,
		linkLease:      10 * time.Second,
		linkKeepAlive:  3 * time.Second,
		joinInterval:   2500 * time.Millisecond,
		maxSessions:    0,
		maxLinks:       0,
	}
}

// loadPropertiesFile reads a simple key=value-per-line properties file
// (as found under JANU_HOME), rejecting any key outside knownProperties.
func loadPropertiesFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "janud: open config %s", path)
	}
	defer f.Close()

	props := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, errors.Errorf("janud: malformed config line %q", line)
		}
		k = strings.TrimSpace(k)
		if !knownProperties[k] {
			return nil, errors.Errorf("janud: unknown configuration key %q", k)
		}
		props[k] = strings.TrimSpace(v)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "janud: read config %s", path)
	}
	return props, nil
}

// applyProperties merges props into cfg. Numeric/duration/bool properties
// that fail to parse are reported as errors rather than silently ignored.
func applyProperties(cfg *daemonConfig, props map[string]string) error {
	for k, v := range props {
		switch k {
		case "mode":
			cfg.mode = v
		case "peer":
			cfg.peers = append(cfg.peers, splitList(v)...)
		case "listener":
			cfg.listeners = append(cfg.listeners, splitList(v)...)
		case "multicast_scouting":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errors.Wrapf(err, "janud: multicast_scouting=%q", v)
			}
			cfg.multicastScout = b
		case "link_lease":
			ms, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "janud: link_lease=%q", v)
			}
			cfg.linkLease = time.Duration(ms) * time.Millisecond
		case "link_keep_alive":
			ms, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "janud: link_keep_alive=%q", v)
			}
			cfg.linkKeepAlive = time.Duration(ms) * time.Millisecond
		case "join_interval":
			ms, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "janud: join_interval=%q", v)
			}
			cfg.joinInterval = time.Duration(ms) * time.Millisecond
		case "max_sessions":
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "janud: max_sessions=%q", v)
			}
			cfg.maxSessions = n
		case "max_links":
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "janud: max_links=%q", v)
			}
			cfg.maxLinks = n
		case "qos":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errors.Wrapf(err, "janud: qos=%q", v)
			}
			cfg.qos = b
		case "tls_root_ca_certificate":
			cfg.tlsRootCA = v
		case "tls_server_private_key":
			cfg.tlsServerKey = v
		case "tls_server_certificate":
			cfg.tlsServerCert = v
		default:
			return errors.Errorf("janud: unknown configuration key %q", k)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// parseFlags parses argv into cfg, flag values overriding anything a
// config file already set.
func parseFlags(fs *flag.FlagSet, args []string, cfg *daemonConfig) error {
	var peers, listeners stringList
	mode := fs.String("mode", cfg.mode, "peer | client | router")
	fs.Var(&peers, "peer", "remote locator to dial (repeatable)")
	fs.Var(&listeners, "listener", "local locator to listen on (repeatable)")
	multicastScout := fs.Bool("multicast_scouting", cfg.multicastScout, "enable multicast discovery")
	linkLeaseMs := fs.Int("link_lease", int(cfg.linkLease/time.Millisecond), "link lease in ms")
	linkKeepAliveMs := fs.Int("link_keep_alive", int(cfg.linkKeepAlive/time.Millisecond), "link keepalive in ms")
	joinIntervalMs := fs.Int("join_interval", int(cfg.joinInterval/time.Millisecond), "multicast join period in ms")
	maxSessions := fs.Int("max_sessions", cfg.maxSessions, "maximum concurrent sessions (0 = unbounded)")
	maxLinks := fs.Int("max_links", cfg.maxLinks, "maximum links per session (0 = unbounded)")
	qos := fs.Bool("qos", cfg.qos, "advertise QoS support during establishment")
	tlsRootCA := fs.String("tls_root_ca_certificate", cfg.tlsRootCA, "TLS root CA certificate path")
	tlsServerKey := fs.String("tls_server_private_key", cfg.tlsServerKey, "TLS server private key path")
	tlsServerCert := fs.String("tls_server_certificate", cfg.tlsServerCert, "TLS server certificate path")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.mode = *mode
	cfg.peers = append(cfg.peers, peers...)
	cfg.listeners = append(cfg.listeners, listeners...)
	cfg.multicastScout = *multicastScout
	cfg.linkLease = time.Duration(*linkLeaseMs) * time.Millisecond
	cfg.linkKeepAlive = time.Duration(*linkKeepAliveMs) * time.Millisecond
	cfg.joinInterval = time.Duration(*joinIntervalMs) * time.Millisecond
	cfg.maxSessions = *maxSessions
	cfg.maxLinks = *maxLinks
	cfg.qos = *qos
	cfg.tlsRootCA = *tlsRootCA
	cfg.tlsServerKey = *tlsServerKey
	cfg.tlsServerCert = *tlsServerCert
	return nil
}

// whatAmI maps the configured mode string onto the wire-level WhatAmI
// role, defaulting to Peer for an unrecognized mode.
func whatAmI(mode string) transport.WhatAmI {
	switch mode {
	case "router":
		return transport.Router
	case "client":
		return transport.Client
	default:
		return transport.Peer
	}
}
