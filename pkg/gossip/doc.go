// Package gossip implements cluster membership and state dissemination
// using epidemic gossip.
//
// Each node keeps a bounded random partial view of the cluster, maintained
// by PeerSamplingService, and periodically runs a push-pull exchange with a
// sample of peers from the view. Exchanges shuffle view entries so the
// overlay stays connected, piggyback member status updates, and reconcile a
// versioned key-value state so every replica eventually converges.
//
// Member liveness follows an alive, suspect and dead state machine ordered by
// incarnation numbers. Only a node can increment its own incarnation, which
// lets it refute false suspicion.
//
// Gossip does no network I/O itself. Messages are sent using a Transport,
// such as StreamTransport, and received messages are passed to
// Gossip.HandleMessage.
package gossip
