package relay

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// SocketOptions tunes the bound socket.
// Zero values keep the operating system defaults.
type SocketOptions struct {
	ReadBuffer  int
	WriteBuffer int

	// TTL is the IPv4 TTL or IPv6 hop limit of outgoing datagrams.
	TTL int

	// TOS is the IPv4 type-of-service byte or IPv6 traffic class.
	TOS int
}

// Bind opens a UDP socket on addr. Port 0 lets the OS pick an ephemeral port.
// The returned error wraps ErrBind.
func Bind(addr netip.AddrPort, opts SocketOptions) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, fmt.Errorf("%w: listen on %s: %w", ErrBind, addr, err)
	}

	if opts.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(opts.ReadBuffer); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: set read buffer: %w", ErrBind, err)
		}
	}
	if opts.WriteBuffer > 0 {
		if err := conn.SetWriteBuffer(opts.WriteBuffer); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: set write buffer: %w", ErrBind, err)
		}
	}
	if err := setIPOptions(conn, addr.Addr().Unmap().Is4(), opts); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrBind, err)
	}

	return conn, nil
}

func setIPOptions(conn *net.UDPConn, v4 bool, opts SocketOptions) error {
	if v4 {
		c := ipv4.NewConn(conn)
		if opts.TTL > 0 {
			if err := c.SetTTL(opts.TTL); err != nil {
				return fmt.Errorf("set ttl: %w", err)
			}
		}
		if opts.TOS > 0 {
			if err := c.SetTOS(opts.TOS); err != nil {
				return fmt.Errorf("set tos: %w", err)
			}
		}
		return nil
	}

	c := ipv6.NewConn(conn)
	if opts.TTL > 0 {
		if err := c.SetHopLimit(opts.TTL); err != nil {
			return fmt.Errorf("set hop limit: %w", err)
		}
	}
	if opts.TOS > 0 {
		if err := c.SetTrafficClass(opts.TOS); err != nil {
			return fmt.Errorf("set traffic class: %w", err)
		}
	}
	return nil
}

// ParseAddress parses an "ip:port" string.
func ParseAddress(text string) (netip.AddrPort, error) {
	addr, err := netip.ParseAddrPort(text)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("parse address %q: %w", text, err)
	}
	return addr, nil
}

// MustParseAddress is like ParseAddress but panics on malformed input.
// It is meant for literals and already validated configuration.
func MustParseAddress(text string) netip.AddrPort {
	addr, err := ParseAddress(text)
	if err != nil {
		panic(err)
	}
	return addr
}

// isIgnorableReadError reports whether err is the ICMP-triggered reset or
// refusal some platforms deliver to a connectionless socket.
func isIgnorableReadError(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

func unmap(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}
