// Package bridge connects a terminal emulator to a remote shell session.
//
// A [Session] owns three collaborators, all passed in explicitly:
//
//   - a [Terminal]: the emulator that produces key presses and displays output,
//   - a [Dialer]: opens the persistent [Channel] to the server's terminal
//     endpoint for one session token and one device,
//   - a [Beacon]: delivers the transcript to the shutdown endpoint, best effort.
//
// # Lifecycle
//
//  1. [NewSession] → [StateUninitialized]. Nothing is sent.
//  2. [Session.Initialize] opens the channel, attaches the terminal and fits
//     it to its container → [StateStreaming].
//  3. [Session.Run] is the single consumer of both event sources. Every key
//     press becomes exactly one input message, in press order. Every inbound
//     output chunk is written to the terminal and appended to the
//     [Transcript], in arrival order.
//  4. [Session.Unload] sends the whole transcript once, as a JSON string, to
//     the shutdown endpoint and closes the channel → [StateTerminated].
//
// There is no reconnection. When the channel ends, output stops and Run
// returns; the caller decides whether to unload.
package bridge
