package store

import "context"

// Group member roles.
const (
	GroupRoleMember     = "member"
	GroupRoleAdmin      = "admin"
	GroupRoleSuperadmin = "superadmin"
)

// Group is the 1:1 extension of a group-type chat.
type Group struct {
	SessionID   string
	JID         string
	Subject     string
	Description string
	OwnerJID    string
	Announce    bool
	Locked      bool
}

// GroupMember represents group membership with provenance.
type GroupMember struct {
	SessionID string
	GroupJID  string
	MemberJID string
	Role      string
	Active    bool
	AddedBy   string
	RemovedBy string
}

// GroupStore handles group and membership operations.
type GroupStore struct {
	store *Store
}

// NewGroupStore creates a new GroupStore.
func NewGroupStore(s *Store) *GroupStore {
	return &GroupStore{store: s}
}

// Put stores or updates a group.
func (s *GroupStore) Put(ctx context.Context, g *Group) error {
	return s.store.Upsert(ctx, TableGroups, g.SessionID, Row{
		"jid":         g.JID,
		"subject":     nullString(g.Subject),
		"description": nullString(g.Description),
		"owner_jid":   nullString(g.OwnerJID),
		"announce":    g.Announce,
		"locked":      g.Locked,
	})
}

// Get retrieves a group by JID.
func (s *GroupStore) Get(ctx context.Context, sessionID, jid string) (*Group, error) {
	row, err := s.store.Get(ctx, TableGroups, sessionID, Row{"jid": jid}, true)
	if err != nil || row == nil {
		return nil, err
	}
	return groupFromRow(row), nil
}

// Ensure creates a group (and its chat) on first reference.
func (s *GroupStore) Ensure(ctx context.Context, sessionID, jid string) error {
	exists, err := s.store.Exists(ctx, TableGroups, sessionID, Row{"jid": jid})
	if err != nil {
		return err
	}
	if !exists {
		if err := s.Put(ctx, &Group{SessionID: sessionID, JID: jid}); err != nil {
			return err
		}
	}
	return NewChatStore(s.store).Ensure(ctx, sessionID, jid, true)
}

// PutMember stores or updates a membership row.
func (s *GroupStore) PutMember(ctx context.Context, m *GroupMember) error {
	if m.Role == "" {
		m.Role = GroupRoleMember
	}
	return s.store.Upsert(ctx, TableGroupMembers, m.SessionID, Row{
		"group_jid":  m.GroupJID,
		"member_jid": m.MemberJID,
		"role":       m.Role,
		"active":     m.Active,
		"added_by":   nullString(m.AddedBy),
		"removed_by": nullString(m.RemovedBy),
	})
}

// Members retrieves the active members of a group.
func (s *GroupStore) Members(ctx context.Context, sessionID, groupJID string) ([]*GroupMember, error) {
	rows, err := s.store.List(ctx, TableGroupMembers, sessionID, "group_jid = ? AND active = 1", []interface{}{groupJID}, true)
	if err != nil {
		return nil, err
	}
	members := make([]*GroupMember, len(rows))
	for i, row := range rows {
		members[i] = memberFromRow(row)
	}
	return members, nil
}

// Delete soft-deletes a group.
func (s *GroupStore) Delete(ctx context.Context, sessionID, jid string) error {
	return s.store.Delete(ctx, TableGroups, sessionID, Row{"jid": jid}, true)
}

func groupFromRow(row Row) *Group {
	return &Group{
		SessionID:   rowString(row, "session_id"),
		JID:         rowString(row, "jid"),
		Subject:     rowString(row, "subject"),
		Description: rowString(row, "description"),
		OwnerJID:    rowString(row, "owner_jid"),
		Announce:    rowBool(row, "announce"),
		Locked:      rowBool(row, "locked"),
	}
}

func memberFromRow(row Row) *GroupMember {
	return &GroupMember{
		SessionID: rowString(row, "session_id"),
		GroupJID:  rowString(row, "group_jid"),
		MemberJID: rowString(row, "member_jid"),
		Role:      rowString(row, "role"),
		Active:    rowBool(row, "active"),
		AddedBy:   rowString(row, "added_by"),
		RemovedBy: rowString(row, "removed_by"),
	}
}
