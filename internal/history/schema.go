package history

const schemaV1 = `
CREATE TABLE IF NOT EXISTS releases (
    release_id  TEXT PRIMARY KEY,
    plugin_id   TEXT NOT NULL,
    version     TEXT NOT NULL,
    artifact    TEXT NOT NULL,
    sha256      TEXT NOT NULL,
    size        INTEGER NOT NULL DEFAULT 0,
    signed      INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_releases_plugin_created
    ON releases(plugin_id, created_at DESC);
`
