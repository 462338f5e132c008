package migrations

import (
	"fmt"
)

// MongoCollection holds archived records in the configured database.
const MongoCollection = "exchange_records"

// PostgresSchema creates the archive table and its indexes.
var PostgresSchema = `
CREATE TABLE IF NOT EXISTS exchange_record (
    id UUID PRIMARY KEY,
    project_id VARCHAR(128) NOT NULL,
    timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
    method VARCHAR(16),
    url TEXT,
    status_code INTEGER,
    load_time_us BIGINT,
    payload JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exchange_record_project ON exchange_record(project_id);
CREATE INDEX IF NOT EXISTS idx_exchange_record_timestamp ON exchange_record(timestamp);
CREATE INDEX IF NOT EXISTS idx_exchange_record_status ON exchange_record(status_code);
`

// OracleSchema is a single PL/SQL block; ORA-00955 (name already used) is
// swallowed so the migration can run on every start.
var OracleSchema = `
BEGIN
    BEGIN
        EXECUTE IMMEDIATE 'CREATE TABLE exchange_records (
            id VARCHAR2(36) PRIMARY KEY,
            project_id VARCHAR2(128) NOT NULL,
            timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
            method VARCHAR2(16),
            url CLOB,
            status_code NUMBER,
            load_time_us NUMBER,
            payload CLOB NOT NULL
        )';
    EXCEPTION
        WHEN OTHERS THEN
            IF SQLCODE != -955 THEN
                RAISE;
            END IF;
    END;
    BEGIN
        EXECUTE IMMEDIATE 'CREATE INDEX idx_exchange_records_ts ON exchange_records(timestamp)';
    EXCEPTION
        WHEN OTHERS THEN
            IF SQLCODE != -955 THEN
                RAISE;
            END IF;
    END;
END;`

// GetCouchbaseIndexes returns the N1QL statements indexing the record bucket.
func GetCouchbaseIndexes(bucketName string) []string {
	return []string{
		fmt.Sprintf("CREATE PRIMARY INDEX ON `%s`", bucketName),
		fmt.Sprintf("CREATE INDEX idx_records_project ON `%s`(project_id)", bucketName),
		fmt.Sprintf("CREATE INDEX idx_records_timestamp ON `%s`(timestamp)", bucketName),
		fmt.Sprintf("CREATE INDEX idx_records_status ON `%s`(status_code)", bucketName),
	}
}
