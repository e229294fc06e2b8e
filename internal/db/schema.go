package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- SCAN TABLE (subjects: scans and batches)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS scan SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS url ON scan TYPE string;
    DEFINE FIELD IF NOT EXISTS level ON scan TYPE string DEFAULT 'AA';
    DEFINE FIELD IF NOT EXISTS status ON scan TYPE string DEFAULT 'queued';
    DEFINE FIELD IF NOT EXISTS issues ON scan TYPE option<array<object>> FLEXIBLE;
    -- Cleared exactly once after a terminal notification outcome (GDPR)
    DEFINE FIELD IF NOT EXISTS notify_email ON scan TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS coverage ON scan TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS started ON scan TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS finished ON scan TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS scan_status ON scan FIELDS status;

    -- ==========================================================================
    -- REPORT TABLE (export cache / status records)
    -- ==========================================================================
    -- The record ID is deterministic per (subject_id, format), which makes the
    -- initial CREATE an atomic claim. The unique index documents and enforces
    -- the same invariant at the field level.
    DEFINE TABLE IF NOT EXISTS report SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS report_id ON report TYPE string;
    DEFINE FIELD IF NOT EXISTS subject_id ON report TYPE string;
    DEFINE FIELD IF NOT EXISTS format ON report TYPE string ASSERT $value IN ['pdf', 'json', 'csv'];
    DEFINE FIELD IF NOT EXISTS status ON report TYPE string ASSERT $value IN ['pending', 'generating', 'completed', 'failed'];
    DEFINE FIELD IF NOT EXISTS storage_key ON report TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS error ON report TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS created ON report TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated ON report TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS report_subject_format ON report FIELDS subject_id, format UNIQUE;
    DEFINE INDEX IF NOT EXISTS report_report_id ON report FIELDS report_id;

    -- ==========================================================================
    -- TOKEN USAGE TABLE (AI cost accounting)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS token_usage SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS scan_id ON token_usage TYPE string;
    DEFINE FIELD IF NOT EXISTS operation ON token_usage TYPE string;
    DEFINE FIELD IF NOT EXISTS model ON token_usage TYPE string;
    DEFINE FIELD IF NOT EXISTS input_tokens ON token_usage TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS output_tokens ON token_usage TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created ON token_usage TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS token_usage_created ON token_usage FIELDS created;
    DEFINE INDEX IF NOT EXISTS token_usage_scan ON token_usage FIELDS scan_id;

    -- ==========================================================================
    -- NOTIFICATION LOG TABLE (terminal job outcomes)
    -- ==========================================================================
    -- Sent/skipped rows are pruned after the retention window; failed rows are
    -- retained indefinitely for inspection.
    DEFINE TABLE IF NOT EXISTS notification_log SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS subject_id ON notification_log TYPE string;
    DEFINE FIELD IF NOT EXISTS kind ON notification_log TYPE string;
    DEFINE FIELD IF NOT EXISTS outcome ON notification_log TYPE string ASSERT $value IN ['sent', 'skipped', 'failed'];
    DEFINE FIELD IF NOT EXISTS provider ON notification_log TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS message_id ON notification_log TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS recipient_hash ON notification_log TYPE string;
    DEFINE FIELD IF NOT EXISTS error ON notification_log TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS attempts ON notification_log TYPE int DEFAULT 1;
    DEFINE FIELD IF NOT EXISTS created ON notification_log TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS notification_log_outcome ON notification_log FIELDS outcome;
    DEFINE INDEX IF NOT EXISTS notification_log_created ON notification_log FIELDS created;
`
