package runstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    repo_url TEXT NOT NULL,
    owner TEXT,
    repo TEXT,
    prompt TEXT NOT NULL,
    branch TEXT,
    sandbox_id TEXT,
    stage TEXT NOT NULL DEFAULT 'idle',
    pr_url TEXT,
    error_type TEXT,
    error_message TEXT,
    started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_stage ON runs(stage);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS run_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id),
    timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    kind TEXT NOT NULL,
    data TEXT
);

CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id);
`
