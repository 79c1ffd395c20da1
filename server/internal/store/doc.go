// Package store holds the live state of the current probing session: the
// latest ProbeResult per probe identity, the permanent display order of every
// probe that has started testing, and the aggregate summary derived from
// both.
//
// Store is the single source of truth. It has one write path (Start, Merge,
// Complete, Clear), serialized by a mutex, and any number of concurrent
// readers, each of which receives a point-in-time copy. Results are replaced
// whole, never patched, so a reader cannot observe a half-updated probe.
//
// Merge rules:
//   - an event without an identity is rejected with ErrMalformedEvent;
//   - an event with Seq older than the stored one is ignored (OutcomeStale);
//   - an event that would not change the stored result is ignored
//     (OutcomeDuplicate), which makes replays idempotent;
//   - unversioned events (Seq == 0) are last-write-wins.
//
// Display order is allocated on the first event whose classified state is not
// Waiting, densely from 1, and never changes for the life of the session.
package store
