// Package message defines the address-tagged datagram exchanged with the relay.
package message

import (
	"bytes"
	"fmt"
	"net/netip"
)

// Message is an immutable datagram paired with a UDP endpoint.
//
// For outbound messages Address is the destination; for inbound messages it is
// the sender.
type Message struct {
	address netip.AddrPort
	payload []byte
}

// New creates a message. The payload is copied so later changes to the
// caller's slice do not leak into the message.
func New(address netip.AddrPort, payload []byte) Message {
	return Message{
		address: address,
		payload: bytes.Clone(payload),
	}
}

// Address returns the source or destination endpoint.
func (m Message) Address() netip.AddrPort {
	return m.address
}

// Payload returns the raw bytes. The returned slice must not be modified.
func (m Message) Payload() []byte {
	return m.payload
}

// Len returns the payload length in bytes.
func (m Message) Len() int {
	return len(m.payload)
}

// Equal reports whether both messages carry the same address and payload.
func (m Message) Equal(other Message) bool {
	return m.address == other.address && bytes.Equal(m.payload, other.payload)
}

// String returns a short description suitable for logs.
func (m Message) String() string {
	return fmt.Sprintf("%s (%d bytes)", m.address, len(m.payload))
}
