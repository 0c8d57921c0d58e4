package memory

const schema = `
CREATE TABLE IF NOT EXISTS configurations (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	ai_name     TEXT NOT NULL,
	user_name   TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	role        TEXT NOT NULL DEFAULT '',
	summary     TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS configurations_user_id ON configurations (user_id);

CREATE TABLE IF NOT EXISTS conversations (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	title            TEXT NOT NULL,
	configuration_id TEXT,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS conversations_user_id ON conversations (user_id, updated_at);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
	sequence        INTEGER NOT NULL,
	role            TEXT NOT NULL CHECK (role IN ('system', 'user', 'assistant', 'tool')),
	content         TEXT NOT NULL DEFAULT '',
	attachments     TEXT NOT NULL DEFAULT '[]',
	model           TEXT NOT NULL DEFAULT '',
	tool_call       TEXT,
	tool_calls      TEXT,
	created_at      INTEGER NOT NULL,
	UNIQUE (conversation_id, sequence)
);

CREATE INDEX IF NOT EXISTS messages_created_at ON messages (role, created_at);
`
