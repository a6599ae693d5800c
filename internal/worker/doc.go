// Package worker implements the per-agent sidecar that talks to the broker.
//
// # Overview
//
// A Worker registers its agent, keeps the registration alive with periodic
// heartbeats (re-registering automatically after a broker restart), and
// optionally runs the autonomous processing loop: poll unread messages,
// delegate each one to the host's sampling capability, reply to the sender,
// and acknowledge.
//
// # Autonomous loop invariants
//
//   - Single-flight: the processing guard is taken synchronously at tick
//     entry, before the first suspension point, so overlapping ticks bail.
//   - ACK-on-error: a message is acknowledged even when processing fails,
//     so a poison message can never block the queue.
//   - Capability self-disablement is the only way the loop turns itself
//     off; any other failure is replied to the sender and retried never.
//
// Incoming message content is untrusted. Sampling prompts wrap it in
// random-nonce XML delimiters under a fixed system prompt that frames the
// delimited content as data, not instructions.
package worker
