// Package stream provides stream session management and lifecycle handling.
// Each session reorders one stream's audio frames and runs them through a
// carrier detector and a message receiver; decoded payloads and messages are
// handed to the archive and the delivery dispatcher. Idle sessions expire
// after a configurable timeout.
package stream
