package session

// SignerState is the cached lifecycle state of a session's delegated
// signer. The remote service is authoritative; this value is reconciled
// opportunistically and may be stale between reconciliations.
type SignerState string

const (
	StateNone            SignerState = "none"
	StateGenerated       SignerState = "generated"
	StatePendingApproval SignerState = "pending_approval"
	StateApproved        SignerState = "approved"
	StateRevoked         SignerState = "revoked"
)

// Session is the per-chat state: linked FID, delegated signer and its
// cached lifecycle state.
type Session struct {
	ChatID      int64       `json:"chat_id"`
	FID         uint64      `json:"fid"`
	SignerUUID  string      `json:"signer_uuid,omitempty"`
	SignerState SignerState `json:"signer_state"`
}

// CanPublish reports whether content-mutating actions are allowed.
func (s *Session) CanPublish() bool {
	return s != nil && s.SignerUUID != "" && s.SignerState == StateApproved
}
