// Package rfcomm provides a deterministic, in-process simulation of Bluetooth Classic RFCOMM
// channel establishment and bidirectional data transfer between simulated devices. It is meant
// to drive reproducible test scenarios without any radio hardware or OS sockets.
//
// A Session owns the shared registries (handles, backlogs, physical links) and the devices taking
// part in a scenario. Each Device is the protocol orchestrator of one simulated address: it
// registers listening services, initiates outbound connections, accepts and completes inbound
// connections, and reads or writes the resulting byte streams.
//
// Connection Establishment:
//   - The acceptor calls Listen with a service UUID. A channel number in [1, 30] is assigned and
//     written into the listen handle's mailbox.
//   - The initiator calls Connect with the acceptor's address and the UUID. Connect blocks.
//   - The acceptor calls Accept, which returns the server-side handle of the next pending request
//     in FIFO order.
//   - The acceptor calls CompleteAccept (or FinishPendingConnection on the initiator's device),
//     which pairs both handles on the physical link and unblocks Connect.
//
// Both ends first read a connection-info frame from their handle before any stream data, see
// ConnectionInfo for the byte layout.
//
// Blocking operations have no timeouts. They are released by closing the listen handle (Accept),
// by closing the stream (Read), or by an InterruptPolicy that reports an error, in which case the
// call fails with ErrInterrupted.
//
// Usage Example:
//
//	session, _ := rfcomm.NewSession()
//	alpha, _ := session.AddDevice("00:11:22:33:44:01")
//	beta, _ := session.AddDevice("00:11:22:33:44:02")
//
//	listen, _ := alpha.Listen(serviceUUID, "serial")
//	go func() {
//	    server, _ := alpha.Accept(listen)
//	    _ = alpha.CompleteAccept(server, false)
//	}()
//
//	client, _ := beta.Connect(alpha.Address(), serviceUUID)
//	info, _ := beta.ReadConnectionInfo("", client)
//	_ = beta.Write(alpha.Address(), client, []byte("hello"))
package rfcomm
