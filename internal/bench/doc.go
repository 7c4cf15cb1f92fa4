// Package bench generates and measures benchmark traffic for the bridge.
//
// A Publisher puts fixed-size messages on a topic at a target rate from
// one or more workers. With latency measurement on, the first eight bytes
// of every message carry the send time in microseconds (little-endian) on
// the host's monotonic clock. A Receiver listens for the forwarded UDP
// datagrams and turns those timestamps into one-way latency samples, so
// publisher and receiver must run on the same host.
package bench
