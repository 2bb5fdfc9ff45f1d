// Package sshterminal runs the device shells behind terminal sessions.
//
// A [Shell] is a PTY-backed shell: either an SSH session on a network device
// ([OpenSSHShell]) or a local process started through creack/pty
// ([StartLocalShell]). [DeviceOpener] picks one from a [Target].
//
// [SessionManager] keeps live shells keyed by session token, so a shell
// outlives the websocket that drives it:
//
//  1. [SessionManager.Start] registers the shell (state active) and starts
//     relaying its output into a [ScrollbackBuffer] and, when enabled, a
//     [Recording].
//  2. [ManagedSession.Attach] sends buffered output to a new writer and
//     streams live output to it from then on.
//  3. [ManagedSession.Detach] keeps the shell running (state detached).
//  4. The shell exiting or [SessionManager.Close] ends it (state closed).
//
// [SessionManager.CleanupIdle] closes detached sessions idle longer than
// IdleTimeout.
//
// Session manager operations log under the "session-mgr" logger name.
package sshterminal
