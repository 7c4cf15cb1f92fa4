// Package bridge relays messages from pub/sub topics to local endpoints.
//
// An Engine owns one bus session and, per configured stream, a subscription
// and a forwarder. Streams start independently: a stream with a bad
// destination is skipped while the rest keep running, and Start fails only
// when nothing could be started.
//
// Topics
//
// Incoming messages are matched to streams by exact topic. When two streams
// name the same topic the first one receives the traffic; the later one is
// reported at start and stays idle.
package bridge
