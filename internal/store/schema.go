package store

// schema contains all wahub table definitions. The whatsmeow device tables
// live in the same database and are managed by its sqlstore container.
//
// Tables:
//   - wahub_users - Tenant accounts with roles and API credentials
//   - wahub_sessions - One row per protocol session
//   - wahub_user_sessions - User -> session ownership
//   - wahub_chats - Chat metadata (soft-deletable)
//   - wahub_contacts - Contact data with presence (soft-deletable)
//   - wahub_messages - Message storage (soft-deletable)
//   - wahub_message_receipts - Delivery receipts, append-only
//   - wahub_reactions - Message reactions, latest-wins per reactor
//   - wahub_groups - Group metadata (soft-deletable)
//   - wahub_group_members - Group membership with provenance
//   - wahub_labels - Labels (soft-deletable)
//   - wahub_label_associations - Label assignments
//   - wahub_blocklist - Blocked contacts per session
//   - wahub_calls - Call history
//   - wahub_webhooks - Registered HTTP subscribers, unique per (session, event)
//   - wahub_webhook_deliveries - Delivery audit trail, append-only
//   - wahub_backups - Snapshot catalog
//   - wahub_settings - Process-wide settings
const schema = `
-- ============================================================
-- Users
-- ============================================================
CREATE TABLE IF NOT EXISTS wahub_users (
    username TEXT PRIMARY KEY,
    password_hash TEXT NOT NULL,
    api_key TEXT,
    role TEXT NOT NULL DEFAULT 'user',
    active INTEGER NOT NULL DEFAULT 1,
    max_sessions INTEGER,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_wahub_users_api_key ON wahub_users(api_key) WHERE api_key IS NOT NULL;

-- ============================================================
-- Sessions
-- ============================================================
CREATE TABLE IF NOT EXISTS wahub_sessions (
    id TEXT PRIMARY KEY,
    device_jid TEXT,
    platform TEXT,
    status TEXT NOT NULL DEFAULT 'initializing',
    logged_in INTEGER NOT NULL DEFAULT 0,
    qr_code TEXT,
    last_seen INTEGER,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS wahub_user_sessions (
    username TEXT NOT NULL REFERENCES wahub_users(username) ON DELETE CASCADE,
    session_id TEXT NOT NULL REFERENCES wahub_sessions(id) ON DELETE CASCADE,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (username, session_id)
);
CREATE INDEX IF NOT EXISTS idx_wahub_user_sessions_session ON wahub_user_sessions(session_id);

-- ============================================================
-- Chats
-- ============================================================
CREATE TABLE IF NOT EXISTS wahub_chats (
    session_id TEXT NOT NULL REFERENCES wahub_sessions(id) ON DELETE CASCADE,
    jid TEXT NOT NULL,
    name TEXT,
    is_group INTEGER NOT NULL DEFAULT 0,
    is_broadcast INTEGER NOT NULL DEFAULT 0,

    -- State
    archived INTEGER NOT NULL DEFAULT 0,
    pinned INTEGER NOT NULL DEFAULT 0,
    muted_until INTEGER,
    unread_count INTEGER NOT NULL DEFAULT 0,
    last_message_id TEXT,
    last_message_at INTEGER,

    deleted INTEGER NOT NULL DEFAULT 0,
    deleted_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (session_id, jid)
);

-- ============================================================
-- Contacts
-- ============================================================
CREATE TABLE IF NOT EXISTS wahub_contacts (
    session_id TEXT NOT NULL REFERENCES wahub_sessions(id) ON DELETE CASCADE,
    jid TEXT NOT NULL,
    phone TEXT,
    name TEXT,
    push_name TEXT,
    presence TEXT,
    last_seen INTEGER,
    blocked INTEGER NOT NULL DEFAULT 0,

    deleted INTEGER NOT NULL DEFAULT 0,
    deleted_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (session_id, jid)
);

-- ============================================================
-- Messages
-- ============================================================
CREATE TABLE IF NOT EXISTS wahub_messages (
    session_id TEXT NOT NULL REFERENCES wahub_sessions(id) ON DELETE CASCADE,
    id TEXT NOT NULL,
    chat_jid TEXT NOT NULL,
    sender_jid TEXT,
    recipient_jid TEXT,
    from_me INTEGER NOT NULL DEFAULT 0,
    message_type TEXT NOT NULL DEFAULT 'text',
    text TEXT,
    caption TEXT,
    quoted_id TEXT,
    status TEXT,
    starred INTEGER NOT NULL DEFAULT 0,
    timestamp INTEGER NOT NULL,

    deleted INTEGER NOT NULL DEFAULT 0,
    deleted_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (session_id, id),
    FOREIGN KEY (session_id, chat_jid) REFERENCES wahub_chats(session_id, jid)
);
CREATE INDEX IF NOT EXISTS idx_wahub_messages_chat ON wahub_messages(session_id, chat_jid, timestamp);

-- ============================================================
-- Receipts (append-only per participant x type)
-- ============================================================
CREATE TABLE IF NOT EXISTS wahub_message_receipts (
    session_id TEXT NOT NULL REFERENCES wahub_sessions(id) ON DELETE CASCADE,
    message_id TEXT NOT NULL,
    participant TEXT NOT NULL,
    receipt_type TEXT NOT NULL,
    timestamp INTEGER NOT NULL,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (session_id, message_id, participant, receipt_type)
);

-- ============================================================
-- Reactions (latest-wins per message x reactor)
-- ============================================================
CREATE TABLE IF NOT EXISTS wahub_reactions (
    session_id TEXT NOT NULL REFERENCES wahub_sessions(id) ON DELETE CASCADE,
    message_id TEXT NOT NULL,
    reactor_jid TEXT NOT NULL,
    emoji TEXT,
    removed INTEGER NOT NULL DEFAULT 0,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (session_id, message_id, reactor_jid)
);

-- ============================================================
-- Groups
-- ============================================================
CREATE TABLE IF NOT EXISTS wahub_groups (
    session_id TEXT NOT NULL REFERENCES wahub_sessions(id) ON DELETE CASCADE,
    jid TEXT NOT NULL,
    subject TEXT,
    description TEXT,
    owner_jid TEXT,
    announce INTEGER NOT NULL DEFAULT 0,
    locked INTEGER NOT NULL DEFAULT 0,

    deleted INTEGER NOT NULL DEFAULT 0,
    deleted_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (session_id, jid)
);

CREATE TABLE IF NOT EXISTS wahub_group_members (
    session_id TEXT NOT NULL REFERENCES wahub_sessions(id) ON DELETE CASCADE,
    group_jid TEXT NOT NULL,
    member_jid TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'member',
    active INTEGER NOT NULL DEFAULT 1,
    added_by TEXT,
    removed_by TEXT,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (session_id, group_jid, member_jid)
);

-- ============================================================
-- Labels
-- ============================================================
CREATE TABLE IF NOT EXISTS wahub_labels (
    session_id TEXT NOT NULL REFERENCES wahub_sessions(id) ON DELETE CASCADE,
    label_id TEXT NOT NULL,
    name TEXT,
    color INTEGER,

    deleted INTEGER NOT NULL DEFAULT 0,
    deleted_at INTEGER,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (session_id, label_id)
);

CREATE TABLE IF NOT EXISTS wahub_label_associations (
    session_id TEXT NOT NULL REFERENCES wahub_sessions(id) ON DELETE CASCADE,
    label_id TEXT NOT NULL,
    target_jid TEXT NOT NULL,
    target_type TEXT NOT NULL DEFAULT 'chat',

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (session_id, label_id, target_jid)
);

-- ============================================================
-- Blocklist
-- ============================================================
CREATE TABLE IF NOT EXISTS wahub_blocklist (
    session_id TEXT NOT NULL REFERENCES wahub_sessions(id) ON DELETE CASCADE,
    jid TEXT NOT NULL,
    blocked_at INTEGER NOT NULL,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (session_id, jid)
);

-- ============================================================
-- Calls
-- ============================================================
CREATE TABLE IF NOT EXISTS wahub_calls (
    session_id TEXT NOT NULL REFERENCES wahub_sessions(id) ON DELETE CASCADE,
    call_id TEXT NOT NULL,
    chat_jid TEXT,
    caller_jid TEXT,
    outcome TEXT,
    timestamp INTEGER NOT NULL,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (session_id, call_id)
);

-- ============================================================
-- Webhooks
-- ============================================================
CREATE TABLE IF NOT EXISTS wahub_webhooks (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES wahub_sessions(id) ON DELETE CASCADE,
    event TEXT NOT NULL,
    url TEXT NOT NULL,
    headers TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    timeout_secs INTEGER NOT NULL DEFAULT 30,
    max_retries INTEGER NOT NULL DEFAULT 3,
    failed_count INTEGER NOT NULL DEFAULT 0,
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_status INTEGER,
    last_delivery_at INTEGER,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    UNIQUE (session_id, event)
);

CREATE TABLE IF NOT EXISTS wahub_webhook_deliveries (
    id TEXT PRIMARY KEY,
    webhook_id TEXT NOT NULL REFERENCES wahub_webhooks(id) ON DELETE CASCADE,
    event TEXT NOT NULL,
    payload TEXT,
    response_status INTEGER,
    response_body TEXT,
    success INTEGER NOT NULL DEFAULT 0,
    attempt INTEGER NOT NULL DEFAULT 1,
    duration_ms INTEGER,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_wahub_webhook_deliveries_webhook ON wahub_webhook_deliveries(webhook_id, created_at);

-- ============================================================
-- Backups
-- ============================================================
CREATE TABLE IF NOT EXISTS wahub_backups (
    id TEXT PRIMARY KEY,
    file_path TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending',
    error TEXT,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- ============================================================
-- Settings (process-wide)
-- ============================================================
CREATE TABLE IF NOT EXISTS wahub_settings (
    key TEXT PRIMARY KEY,
    value TEXT,
    description TEXT,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
`
