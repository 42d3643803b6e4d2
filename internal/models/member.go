package models

// Member represents one person on a bill.
//
// A member starts as a plain named placeholder created by whoever edits the
// bill. It can later be claimed by a registered account, which binds the
// member to that account and replaces its display name while preserving the
// original one. A member can be linked to at most one account, and an
// account can claim at most one member per bill.
type Member struct {
	// ID is the client-generated local identifier (UUID format).
	ID string `json:"id"`

	// ServerID is the server-issued identifier, empty until the member has
	// been reconciled. On the server's own copy it equals ID.
	ServerID string `json:"serverId,omitempty"`

	// Name is the display name.
	Name string `json:"name"`

	// OriginalName preserves the pre-claim name once an account claims the
	// member.
	OriginalName string `json:"originalName,omitempty"`

	// ClaimedBy is the account (user) ID that claimed this member, if any.
	ClaimedBy string `json:"claimedBy,omitempty"`

	// ClaimedAt is the Unix timestamp of the claim, zero if unclaimed.
	ClaimedAt int64 `json:"claimedAt,omitempty"`
}

// Clone returns a copy of the member.
func (m Member) Clone() Member {
	return m
}

func cloneMembers(members []Member) []Member {
	if members == nil {
		return nil
	}
	out := make([]Member, len(members))
	copy(out, members)
	return out
}
