package store

// migration is a single schema change, applied in version order.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create_conversations",
		SQL: `
			CREATE TABLE conversations (
				id               TEXT PRIMARY KEY,
				title            TEXT NOT NULL DEFAULT '',
				participant_ids  TEXT NOT NULL DEFAULT '[]',
				sequence         INTEGER NOT NULL DEFAULT 0,
				created_at       TEXT NOT NULL DEFAULT (datetime('now')),
				last_activity_at TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_conversations_activity ON conversations(last_activity_at);

			CREATE TABLE conversation_messages (
				id              TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				sequence        INTEGER NOT NULL,
				source_kind     TEXT NOT NULL,
				source_name     TEXT NOT NULL DEFAULT '',
				participant_id  TEXT NOT NULL DEFAULT '',
				source_color    TEXT NOT NULL DEFAULT '',
				content         TEXT NOT NULL,
				thinking        TEXT NOT NULL DEFAULT '',
				timestamp       TEXT NOT NULL DEFAULT (datetime('now')),
				UNIQUE (conversation_id, sequence)
			);

			CREATE INDEX idx_conversation_messages_seq ON conversation_messages(conversation_id, sequence);
		`,
	},
	{
		Version: 2,
		Name:    "create_message_fts",
		SQL: `
			CREATE VIRTUAL TABLE message_fts USING fts5(
				content,
				source_name,
				content='conversation_messages',
				content_rowid='rowid'
			);

			CREATE TRIGGER conversation_messages_ai AFTER INSERT ON conversation_messages BEGIN
				INSERT INTO message_fts(rowid, content, source_name)
				VALUES (new.rowid, new.content, new.source_name);
			END;

			CREATE TRIGGER conversation_messages_ad AFTER DELETE ON conversation_messages BEGIN
				INSERT INTO message_fts(message_fts, rowid, content, source_name)
				VALUES ('delete', old.rowid, old.content, old.source_name);
			END;
		`,
	},
}
