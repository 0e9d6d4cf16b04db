package db

const recordTable = "work_record"

// SchemaSQL defines the snapshot table. The table stays schemaless so
// optional fields (end_timestamp, user_input_specs) can be NULL.
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS work_record SCHEMALESS;
    DEFINE FIELD IF NOT EXISTS request_id ON work_record TYPE string;
    DEFINE FIELD IF NOT EXISTS topic ON work_record TYPE string;
    DEFINE FIELD IF NOT EXISTS pipeline_status ON work_record TYPE string;
    DEFINE FIELD IF NOT EXISTS progress ON work_record TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS agent_updates ON work_record TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS start_timestamp ON work_record TYPE datetime;
    DEFINE FIELD IF NOT EXISTS update_timestamp ON work_record TYPE datetime;
    DEFINE FIELD IF NOT EXISTS saved_at ON work_record TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS work_record_status ON work_record FIELDS pipeline_status;
    DEFINE INDEX IF NOT EXISTS work_record_user ON work_record FIELDS user_id;
    DEFINE INDEX IF NOT EXISTS work_record_started ON work_record FIELDS start_timestamp;
`
