package listener

import (
	"net"
	"testing"

	"miniserve/internal/config"
)

func TestOpenAllBindsEphemeralPort(t *testing.T) {
	cfg := config.Config{BindAddrs: []net.IP{net.ParseIP("127.0.0.1")}, Port: 0}
	bound, err := OpenAll(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closeAll(bound)

	if len(bound) != 1 {
		t.Fatalf("got %d listeners, want 1", len(bound))
	}
	if bound[0].Port == 0 {
		t.Error("expected OS to assign a nonzero port")
	}
}

func TestOpenAllSharesPortAcrossInterfaces(t *testing.T) {
	cfg := config.Config{
		BindAddrs: []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("127.0.0.2")},
		Port:      0,
	}
	bound, err := OpenAll(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer closeAll(bound)

	if len(bound) != 2 {
		t.Fatalf("got %d listeners, want 2", len(bound))
	}
	if bound[0].Port != bound[1].Port {
		t.Errorf("expected shared port across interfaces, got %d and %d", bound[0].Port, bound[1].Port)
	}
}

func TestBoundURLUsesLocalhostForUnspecified(t *testing.T) {
	b := Bound{Addr: net.IPv4zero, Port: 8080}
	if got := b.URL("http", ""); got != "http://localhost:8080/" {
		t.Errorf("got %q", got)
	}
}

func TestBoundURLIncludesRoutePrefix(t *testing.T) {
	b := Bound{Addr: net.ParseIP("192.168.1.5"), Port: 8080}
	if got := b.URL("http", "/p/ab12cd"); got != "http://192.168.1.5:8080/p/ab12cd/" {
		t.Errorf("got %q", got)
	}
}
