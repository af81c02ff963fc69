// Package socket is a non-blocking socket I/O core: buffered stream reads by
// length or delimiter, queued writes, piping, and datagram exchange, all
// driven by a readiness reactor.
package socket

const Version = "0.1.0"
