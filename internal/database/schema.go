package database

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	filename    TEXT NOT NULL,
	format      TEXT NOT NULL DEFAULT '',
	duration    REAL NOT NULL DEFAULT 0,
	sourceHash  TEXT NOT NULL DEFAULT '',
	createdAt   REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(createdAt);
CREATE INDEX IF NOT EXISTS idx_sessions_hash ON sessions(sourceHash);

CREATE TABLE IF NOT EXISTS segments (
	id             TEXT PRIMARY KEY,
	sessionId      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	audioFilename  TEXT NOT NULL,
	seq            INTEGER NOT NULL,
	startTime      REAL NOT NULL,
	endTime        REAL NOT NULL,
	status         TEXT NOT NULL DEFAULT 'queued',
	text           TEXT NOT NULL DEFAULT '',
	source         TEXT NOT NULL DEFAULT '',
	attempts       INTEGER NOT NULL DEFAULT 0,
	createdAt      REAL NOT NULL,
	updatedAt      REAL NOT NULL,
	UNIQUE(sessionId, seq)
);
CREATE INDEX IF NOT EXISTS idx_segments_status ON segments(status);

CREATE TABLE IF NOT EXISTS queued_segments (
	id         TEXT PRIMARY KEY,
	sessionId  TEXT NOT NULL,
	startTime  REAL NOT NULL,
	endTime    REAL NOT NULL,
	createdAt  REAL NOT NULL
);
`
