// Package apisec provides an in-process trust-and-access core for API
// platforms: opaque credential lifecycle with grace-period rotation, HMAC
// request and webhook signing with replay-window protection, a privacy-aware
// retention-bounded audit log, and a rule-based threat correlation engine
// with automated response actions.
//
// The package is designed for concurrent server workloads: all component
// methods are safe to call from multiple goroutines after initialization
// through [Builder.Build].
//
// # Architecture boundaries
//
// apisec is the public surface. It exposes [Core], [Builder], [Config], the
// four components ([CredentialManager], [RequestSigner], [AuditLogger],
// [ThreatMonitor]) and their value types. Shared coordination (async
// dispatch, counters) lives under internal/ and is never exported.
//
// # What this package must NOT do
//
//   - Extract request metadata or route HTTP traffic; the calling middleware
//     owns the boundary and feeds observed outcomes into [ThreatMonitor].
//   - Enforce network-level blocks or deliver notifications; it only records
//     block/alert decisions for collaborators to act on.
//   - Authorize administrative calls (resolve, revoke, report); the caller
//     is trusted to have done so.
//
// # Failure posture
//
// Expected-absent lookups return nil or false, never errors. Audit logging
// is best-effort and never transactional with the audited action. A fault
// inside any component degrades to a safe deny/ignore result instead of
// crashing the caller.
package apisec
