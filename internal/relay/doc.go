// Package relay bridges synchronous, non-blocking application calls to UDP
// socket I/O performed by two background tasks.
//
// A Network owns an outbound and an inbound queue. Application code calls
// TrySend and TryRecv, which never block. Start binds the socket and spawns
// the send loop and the receive loop on a Scheduler:
//
//	app -> TrySend -> outbound queue -> send loop -> socket -> wire
//	wire -> socket -> receive loop -> inbound queue -> TryRecv -> app
//
// Delivery is best effort. Write failures and inbound enqueue failures are
// logged and the message is dropped; no error from a background loop ever
// reaches the application. A failure to bind is the only fatal condition and
// callers must not try to recover from ErrBind.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package relay
