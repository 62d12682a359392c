// Package servicebus provides the messaging core for SimBuilder services:
// topic-routed publish/subscribe over NATS JetStream, progress notification
// for long-running operations, and prompt-template rendering.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│        progress.Notifier            │  Session-scoped progress
//	│  (start, update, complete, error)   │  tracking and emission
//	└─────────────────────────────────────┘
//	           ↓ publishes via
//	┌─────────────────────────────────────┐
//	│           bus.Client                │  Connection lifecycle,
//	│ (connect, publish, subscribe, ack)  │  streams, consumers
//	└─────────────────────────────────────┘
//	           ↓ validated against
//	┌─────────────────────────────────────┐
//	│         topic.Registry              │  Topic catalog, subject
//	│   (definitions, wildcard routing)   │  patterns, retention
//	└─────────────────────────────────────┘
//
// Messages travel as message.Envelope values: immutable, validated,
// JSON-encoded with a stable cross-service wire format. Progress updates are
// a typed specialization carried inside ordinary envelopes, so generic
// subscribers decode them without special handling.
//
// Supporting packages:
//   - errors: error classification and wrapping conventions
//   - config: YAML + environment configuration and logger construction
//   - template: cached prompt-template loading and rendering
//   - pkg/cache, pkg/retry: generic infrastructure
//
// Each component takes its dependencies explicitly; there are no package
// level singletons. A typical service creates one topic.Registry and one
// bus.Client and shares them.
package servicebus
