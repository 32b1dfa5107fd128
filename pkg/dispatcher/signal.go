package dispatcher

// Signal is the control value an interception listener on a Bridge Pair
// returns, layered on top of the plain Handler contract: a bridge listener
// both observes a packet and decides its fate, where a Session listener
// only observes.
type Signal struct {
	// Cancelled, when true, drops the packet instead of forwarding it to
	// the other side of the pair.
	Cancelled bool
	// Modified, when true, tells the bridge the listener mutated the
	// packet in place and it must be re-serialized before forwarding,
	// rather than forwarding the originally received bytes untouched
	// (see spec §9's resolution of the re-serialization Open Question).
	Modified bool
}

// InterceptHandler is the Bridge-specific listener signature: it receives
// the decoded packet (as Handler does) but additionally returns a Signal
// describing what the bridge should do with it.
type InterceptHandler func(name string, pk interface{}) Signal
