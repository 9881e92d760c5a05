package relay

import (
	"errors"
	"net/netip"
	"testing"

	"golang.org/x/net/ipv4"
)

func TestBind_SocketOptions(t *testing.T) {
	conn, err := Bind(netip.MustParseAddrPort("127.0.0.1:0"), SocketOptions{
		ReadBuffer:  64 * 1024,
		WriteBuffer: 64 * 1024,
		TTL:         42,
	})
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	defer conn.Close()

	ttl, err := ipv4.NewConn(conn).TTL()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl != 42 {
		t.Errorf("TTL = %d, want 42", ttl)
	}
}

func TestBind_DefaultsKeepOSValues(t *testing.T) {
	conn, err := Bind(netip.MustParseAddrPort("127.0.0.1:0"), SocketOptions{})
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	defer conn.Close()

	if _, err := ipv4.NewConn(conn).TTL(); err != nil {
		t.Errorf("TTL() error = %v", err)
	}
}

func TestBind_InvalidTTL(t *testing.T) {
	_, err := Bind(netip.MustParseAddrPort("127.0.0.1:0"), SocketOptions{TTL: 1000})
	if !errors.Is(err, ErrBind) {
		t.Errorf("Bind() error = %v, want ErrBind", err)
	}
}
