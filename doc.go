// Package auth keeps track of who is signed in and runs the credential
// flows against a remote identity service.
//
// Session state:
//   - Manager reconciles the initial session fetch with the change event
//     stream. Events are applied in delivery order by a single reducer and
//     every change is published as an immutable Snapshot.
//   - Identity is derived from the session user. The admin flag is an exact
//     email match against AdminPolicy and is recomputed on every change.
//
// Credential actions:
//   - Actions exposes login, register, logout, password change, password
//     reset and username update. Each reports its outcome to a Notifier and
//     never mutates session state directly, except logout which clears the
//     identity right away.
//
// Routing:
//   - RouteGuard turns a Snapshot into pending, anonymous or authenticated
//     and provides go-router middleware for each case.
//   - RecoveryHandler parses reset links and drives the reset password page.
//
// Activity sinks:
//   - ActivitySink receives audit events from the manager and the actions.
//     Sinks run best effort; errors are logged.
//
// Identity services live under provider/: provider/local is a bun backed
// service and provider/gotrue talks to a GoTrue compatible HTTP API.
package auth
