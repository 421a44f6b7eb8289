// Package session owns one upgraded, mutually-authenticated WebSocket stream.
//
// Ownership boundary:
// - the read -> handle -> write -> flush loop, strictly in arrival order
// - termination classification (graceful close, end of stream, timeout, connection
//   lost, peer error close, unexpected)
// - exactly-once stream closure on every exit path
//
// A Session is owned by one goroutine. Run, ReadFrame, WriteFrame and CloseGracefully
// must not be called concurrently. Close is safe from any goroutine.
package session
