// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	wsconn "github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/parser/websocket"
)

// TransportKind selects how a BrokerClient dials the upstream broker,
// matching brokers.{subscriber,publisher}.transport in configuration.
type TransportKind string

const (
	TransportTCP       TransportKind = "tcp"
	TransportTLS       TransportKind = "tls"
	TransportWebSocket TransportKind = "websocket"
)

// TLSSettings mirrors the CA file, client cert, key, TLS version floor, and
// cipher string knobs spec §4.4 names.
type TLSSettings struct {
	CAFile         string
	CertFile       string
	KeyFile        string
	MinVersion     uint16
	CipherSuites   []uint16
	ServerName     string
	SkipVerify     bool
}

// TransportConfig configures a single dial attempt.
type TransportConfig struct {
	Kind        TransportKind
	Address     string // host:port for tcp/tls
	URL         string // ws(s)://host:port/path for websocket
	Headers     http.Header
	TLS         *tls.Config
	DialTimeout time.Duration
}

func dial(cfg TransportConfig) (net.Conn, error) {
	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	switch cfg.Kind {
	case TransportTCP:
		return net.DialTimeout("tcp", cfg.Address, timeout)

	case TransportTLS:
		dialer := &net.Dialer{Timeout: timeout}
		return tls.DialWithDialer(dialer, "tcp", cfg.Address, cfg.TLS)

	case TransportWebSocket:
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, err
		}
		d := websocket.Dialer{
			HandshakeTimeout: timeout,
			TLSClientConfig:  cfg.TLS,
			Subprotocols:     []string{"mqtt"},
		}
		wsc, _, err := d.Dial(u.String(), cfg.Headers)
		if err != nil {
			return nil, err
		}
		return wsconn.NewConn(wsc), nil

	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}
