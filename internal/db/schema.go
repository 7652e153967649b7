package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- EXECUTION STORE (panel state, one blob per key)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS execution_store SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS value ON execution_store TYPE string;
    DEFINE FIELD IF NOT EXISTS updated ON execution_store TYPE datetime DEFAULT time::now();

    -- ==========================================================================
    -- DELEGATED RUNS
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS delegated_run SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS dataset_id ON delegated_run TYPE string;
    DEFINE FIELD IF NOT EXISTS issue_type ON delegated_run TYPE string;
    DEFINE FIELD IF NOT EXISTS operator ON delegated_run TYPE string;
    DEFINE FIELD IF NOT EXISTS run_state ON delegated_run TYPE string
        ASSERT $value IN ["scheduled", "queued", "running", "completed", "failed"];
    DEFINE FIELD IF NOT EXISTS progress ON delegated_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS total ON delegated_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS error ON delegated_run TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS scheduled_at ON delegated_run TYPE datetime;
    DEFINE FIELD IF NOT EXISTS started_at ON delegated_run TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS completed_at ON delegated_run TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS delegated_run_state ON delegated_run FIELDS run_state, scheduled_at;
    DEFINE INDEX IF NOT EXISTS delegated_run_dataset ON delegated_run FIELDS dataset_id;

    -- ==========================================================================
    -- DATASETS AND SAMPLES
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS dataset SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS name ON dataset TYPE string;
    DEFINE FIELD IF NOT EXISTS media_type ON dataset TYPE string DEFAULT "image";
    DEFINE FIELD IF NOT EXISTS schema ON dataset TYPE array<string> DEFAULT [];

    DEFINE TABLE IF NOT EXISTS sample SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS dataset ON sample TYPE string;
    DEFINE FIELD IF NOT EXISTS sample_id ON sample TYPE string;
    DEFINE FIELD IF NOT EXISTS seq ON sample TYPE int;
    DEFINE FIELD IF NOT EXISTS filepath ON sample TYPE string;
    DEFINE FIELD IF NOT EXISTS tags ON sample TYPE array<string> DEFAULT [];
    -- Operator outputs (brightness, filehash, ...) live under fields.*
    DEFINE FIELD IF NOT EXISTS fields ON sample TYPE object FLEXIBLE DEFAULT {};
    DEFINE FIELD IF NOT EXISTS last_modified_at ON sample TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS sample_dataset ON sample FIELDS dataset, seq;
    DEFINE INDEX IF NOT EXISTS sample_unique ON sample FIELDS dataset, sample_id UNIQUE;
`
