// Package listener opens the TCP (optionally TLS) listeners the HTTP
// server accepts connections on, one per configured interface.
package listener

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"miniserve/internal/config"
)

// Bound is one opened listener and the address it actually ended up on --
// distinct from the requested address whenever Port was 0 and the kernel
// assigned one.
type Bound struct {
	net.Listener
	Addr net.IP
	Port uint16
}

// OpenAll binds one listener per cfg.BindAddrs (defaulting to all
// interfaces if none were given), wrapping each in TLS when cfg.TLS is
// set. All listeners share cfg.Port, except that after the first bind with
// Port == 0 the OS-assigned port is reused for the rest so every interface
// serves on the same port.
func OpenAll(cfg config.Config) ([]Bound, error) {
	addrs := cfg.BindAddrs
	if len(addrs) == 0 {
		addrs = []net.IP{net.IPv4zero}
	}

	var tlsConf *tls.Config
	if cfg.TLS != nil {
		cert, err := tls.X509KeyPair(cfg.TLS.CertPEM, cfg.TLS.KeyPEM)
		if err != nil {
			return nil, fmt.Errorf("listener: parse TLS identity: %w", err)
		}
		tlsConf = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	port := cfg.Port
	bound := make([]Bound, 0, len(addrs))
	for _, ip := range addrs {
		ln, actualPort, err := bindOne(ip, port, tlsConf)
		if err != nil {
			closeAll(bound)
			return nil, err
		}
		if port == 0 {
			port = actualPort // pin the kernel-assigned port for subsequent interfaces
		}
		bound = append(bound, Bound{Listener: ln, Addr: ip, Port: actualPort})
	}
	return bound, nil
}

func bindOne(ip net.IP, port uint16, tlsConf *tls.Config) (net.Listener, uint16, error) {
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(int(port)))

	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("listener: bind %s: %w", addr, err)
	}

	actualPort := uint16(ln.Addr().(*net.TCPAddr).Port)
	if tlsConf != nil {
		ln = tls.NewListener(ln, tlsConf)
	}
	return ln, actualPort, nil
}

func closeAll(bound []Bound) {
	for _, b := range bound {
		b.Listener.Close()
	}
}

// URL formats the http(s) URL a client on the same network would use to
// reach b, substituting loopback or unspecified addresses with "localhost"
// for readability.
func (b Bound) URL(scheme, routePrefix string) string {
	host := b.Addr.String()
	if b.Addr.IsUnspecified() || b.Addr.IsLoopback() {
		host = "localhost"
	}
	return fmt.Sprintf("%s://%s:%d%s/", scheme, host, b.Port, routePrefix)
}
