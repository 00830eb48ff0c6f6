package sqlitestore

type migration struct {
	version int
	sql     string
}

// migrations run in order; versions are sequential from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS store (
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS folders (
	id             INTEGER PRIMARY KEY,
	parent_id      INTEGER REFERENCES folders(id) ON DELETE CASCADE,
	position       INTEGER NOT NULL,
	name           TEXT NOT NULL,
	contents_error INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	id                INTEGER PRIMARY KEY,
	folder_id         INTEGER NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	position          INTEGER NOT NULL,
	entry_id          TEXT NOT NULL,
	open_error        INTEGER NOT NULL DEFAULT 0,
	recipients_error  INTEGER NOT NULL DEFAULT 0,
	attachments_error INTEGER NOT NULL DEFAULT 0,
	UNIQUE (folder_id, entry_id)
);

CREATE TABLE IF NOT EXISTS recipients (
	id         INTEGER PRIMARY KEY,
	message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS attachments (
	id         INTEGER PRIMARY KEY,
	message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	open_error INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS properties (
	owner_kind TEXT NOT NULL,
	owner_id   INTEGER NOT NULL,
	tag        INTEGER NOT NULL,
	value      TEXT,
	blob       BLOB,
	error      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (owner_kind, owner_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_id, position);
CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(folder_id, position);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
