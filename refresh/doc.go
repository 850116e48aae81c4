// Package refresh guarantees that at most one credential refresh runs at a time.
//
// The first caller to observe an expired credential runs the refresh itself.
// Callers arriving while it is in flight are queued as PendingCall values and
// settled together, in arrival order, once it completes. On success they get
// the new credential after the initiator has resent its own call; each replay
// then settles its own caller. On failure every queued call is rejected with
// the same RefreshError and the session is torn down through the configured
// Invalidator.
package refresh
