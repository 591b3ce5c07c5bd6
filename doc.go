// Package auth provides the credential and session core of an RBAC account
// service: password hashing, signed access tokens, rotating refresh tokens,
// password recovery and email verification, role guards and an audit trail.
//
// Sessions:
//   - SessionIssuer authenticates credentials and issues a TokenPair. Access
//     tokens are short lived HS256 JWTs carrying sub, role, user_id and exp.
//   - RefreshRotator exchanges a refresh token for a new pair. A refresh token
//     is single use; rotation flips its used flag with a conditional update in
//     the same transaction that issues the replacement, so concurrent
//     rotations of one token have exactly one winner.
//
// One-time tokens:
//   - OneTimeTokenFlow is the shared issue, consume and mark used state
//     machine behind password reset (1h) and email verification (24h).
//
// Authorization:
//   - Guard decides from decoded claims only. Owners may act on their own
//     record, admins on any record, and only admins may change a role.
//
// Side effects:
//   - Destructive operations write their AuditLog entry inside the same
//     transaction. ActivitySink events are best effort.
package auth
