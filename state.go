package auth

// Snapshot is a read only view of the session state.
type Snapshot struct {
	Identity *Identity
	// Loading is true until the first session resolution, and while any
	// credential action has a remote call in flight.
	Loading bool
	IsAdmin bool
	// Resolved flips to true once, after the first session resolution.
	Resolved bool
	// Recovery is true while the session came from a password reset link.
	Recovery bool
	// StreamHealthy is false once the change event stream failed.
	StreamHealthy bool
}

// AnonymousSnapshot is the state of a request that has no session.
func AnonymousSnapshot() Snapshot {
	return Snapshot{Resolved: true, StreamHealthy: true}
}

// Authenticated reports whether an identity is present.
func (s Snapshot) Authenticated() bool {
	return s.Identity != nil
}

// SnapshotView is the serializable form of a Snapshot.
type SnapshotView struct {
	Identity *IdentityView `json:"identity"`
	Loading  bool          `json:"loading"`
	IsAdmin  bool          `json:"is_admin"`
	Recovery bool          `json:"recovery,omitempty"`
}

// View returns the serializable form.
func (s Snapshot) View() SnapshotView {
	return SnapshotView{
		Identity: s.Identity.View(),
		Loading:  s.Loading,
		IsAdmin:  s.IsAdmin,
		Recovery: s.Recovery,
	}
}

// SnapshotSource is anything that can report the current session state.
type SnapshotSource interface {
	Snapshot() Snapshot
}

type sessionState struct {
	identity     *Identity
	resolved     bool
	inflight     int
	recovery     bool
	eventApplied bool
	streamFailed bool
}
