package sqlite

const schema = `
-- Tenant scopes
CREATE TABLE IF NOT EXISTS scopes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    provider TEXT NOT NULL DEFAULT 'github',
    rate_remaining INTEGER NOT NULL DEFAULT 0,
    rate_reset_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Per-scope, per-sync-type cooldown bookkeeping
CREATE TABLE IF NOT EXISTS scope_sync_state (
    scope_id INTEGER NOT NULL REFERENCES scopes(id) ON DELETE CASCADE,
    sync_type TEXT NOT NULL,
    last_synced_at DATETIME NOT NULL,
    PRIMARY KEY (scope_id, sync_type)
);

-- Remote repositories. Unmonitored rows exist only to own cross-repository
-- stubs and are never bulk synced.
CREATE TABLE IF NOT EXISTS repositories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scope_id INTEGER NOT NULL REFERENCES scopes(id) ON DELETE CASCADE,
    provider TEXT NOT NULL,
    native_id TEXT NOT NULL DEFAULT '',
    owner TEXT NOT NULL,
    name TEXT NOT NULL,
    monitored BOOLEAN NOT NULL DEFAULT TRUE,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (provider, owner, name)
);

CREATE INDEX IF NOT EXISTS idx_repositories_scope ON repositories(scope_id);
CREATE INDEX IF NOT EXISTS idx_repositories_native ON repositories(provider, native_id);

-- Synced entities (issues, pull requests), keyed by natural key.
-- parent_id is the single hierarchy link; it is owned by the reconciler.
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    provider TEXT NOT NULL,
    native_id TEXT NOT NULL,
    repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
    number INTEGER NOT NULL DEFAULT 0,
    kind TEXT,
    title TEXT,
    body TEXT,
    state TEXT,
    author TEXT,
    parent_id INTEGER REFERENCES entities(id) ON DELETE SET NULL,
    sub_total INTEGER,
    sub_closed INTEGER,
    stub BOOLEAN NOT NULL DEFAULT FALSE,
    remote_created_at DATETIME,
    remote_updated_at DATETIME,
    closed_at DATETIME,
    deps_empty_seen_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (provider, native_id)
);

CREATE INDEX IF NOT EXISTS idx_entities_repo ON entities(repo_id);
CREATE INDEX IF NOT EXISTS idx_entities_repo_number ON entities(repo_id, number);
CREATE INDEX IF NOT EXISTS idx_entities_parent ON entities(parent_id);
CREATE INDEX IF NOT EXISTS idx_entities_state ON entities(state);

-- Blocking-dependency edges (blocked depends on blocker)
CREATE TABLE IF NOT EXISTS dependencies (
    blocked_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    blocker_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    source TEXT NOT NULL DEFAULT 'bulk',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    created_by TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (blocked_id, blocker_id),
    CHECK (blocked_id != blocker_id)
);

CREATE INDEX IF NOT EXISTS idx_dependencies_blocker ON dependencies(blocker_id);

-- Commits, keyed by (repo, sha)
CREATE TABLE IF NOT EXISTS commits (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    repo_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
    sha TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    authored_at DATETIME,
    committed_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (repo_id, sha)
);

-- Known provider identities for contributor resolution
CREATE TABLE IF NOT EXISTS identities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    provider TEXT NOT NULL,
    login TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (provider, login)
);

CREATE INDEX IF NOT EXISTS idx_identities_email ON identities(provider, email);

-- Commit contributors. identity_id stays NULL for unresolved signatures;
-- the raw name/email is kept so resolution can be retried.
CREATE TABLE IF NOT EXISTS commit_contributors (
    commit_id INTEGER NOT NULL REFERENCES commits(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    identity_id INTEGER REFERENCES identities(id) ON DELETE SET NULL,
    PRIMARY KEY (commit_id, role, email)
);

-- Audit trail
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    event_type TEXT NOT NULL,
    actor TEXT NOT NULL,
    old_value TEXT,
    new_value TEXT,
    comment TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);

-- Config table for key-value storage
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
