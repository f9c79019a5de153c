package store

// tableInfo describes a table for the generic primitives: its primary-key
// columns, whether rows are scoped to a session, and whether deletes are
// soft by default.
type tableInfo struct {
	name          string
	keys          []string
	sessionScoped bool
	softDelete    bool
}

// Table names accepted by the generic primitives.
const (
	TableUsers             = "wahub_users"
	TableSessions          = "wahub_sessions"
	TableUserSessions      = "wahub_user_sessions"
	TableChats             = "wahub_chats"
	TableContacts          = "wahub_contacts"
	TableMessages          = "wahub_messages"
	TableReceipts          = "wahub_message_receipts"
	TableReactions         = "wahub_reactions"
	TableGroups            = "wahub_groups"
	TableGroupMembers      = "wahub_group_members"
	TableLabels            = "wahub_labels"
	TableLabelAssociations = "wahub_label_associations"
	TableBlocklist         = "wahub_blocklist"
	TableCalls             = "wahub_calls"
	TableWebhooks          = "wahub_webhooks"
	TableWebhookDeliveries = "wahub_webhook_deliveries"
	TableBackups           = "wahub_backups"
	TableSettings          = "wahub_settings"
)

// tables is the fixed registry. The soft-delete set is fixed: chats,
// contacts, messages, groups, labels. Everything else hard-deletes.
var tables = map[string]tableInfo{
	TableUsers:             {name: TableUsers, keys: []string{"username"}},
	TableSessions:          {name: TableSessions, keys: []string{"id"}},
	TableUserSessions:      {name: TableUserSessions, keys: []string{"username", "session_id"}},
	TableChats:             {name: TableChats, keys: []string{"jid"}, sessionScoped: true, softDelete: true},
	TableContacts:          {name: TableContacts, keys: []string{"jid"}, sessionScoped: true, softDelete: true},
	TableMessages:          {name: TableMessages, keys: []string{"id"}, sessionScoped: true, softDelete: true},
	TableReceipts:          {name: TableReceipts, keys: []string{"message_id", "participant", "receipt_type"}, sessionScoped: true},
	TableReactions:         {name: TableReactions, keys: []string{"message_id", "reactor_jid"}, sessionScoped: true},
	TableGroups:            {name: TableGroups, keys: []string{"jid"}, sessionScoped: true, softDelete: true},
	TableGroupMembers:      {name: TableGroupMembers, keys: []string{"group_jid", "member_jid"}, sessionScoped: true},
	TableLabels:            {name: TableLabels, keys: []string{"label_id"}, sessionScoped: true, softDelete: true},
	TableLabelAssociations: {name: TableLabelAssociations, keys: []string{"label_id", "target_jid"}, sessionScoped: true},
	TableBlocklist:         {name: TableBlocklist, keys: []string{"jid"}, sessionScoped: true},
	TableCalls:             {name: TableCalls, keys: []string{"call_id"}, sessionScoped: true},
	TableWebhooks:          {name: TableWebhooks, keys: []string{"id"}},
	TableWebhookDeliveries: {name: TableWebhookDeliveries, keys: []string{"id"}},
	TableBackups:           {name: TableBackups, keys: []string{"id"}},
	TableSettings:          {name: TableSettings, keys: []string{"key"}},
}

// fullKeys returns the key columns including session_id for scoped tables.
func (t tableInfo) fullKeys() []string {
	if !t.sessionScoped {
		return t.keys
	}
	keys := make([]string, 0, len(t.keys)+1)
	keys = append(keys, "session_id")
	keys = append(keys, t.keys...)
	return keys
}

func (t tableInfo) isKey(col string) bool {
	if t.sessionScoped && col == "session_id" {
		return true
	}
	for _, k := range t.keys {
		if k == col {
			return true
		}
	}
	return false
}
