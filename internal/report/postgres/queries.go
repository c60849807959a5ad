package postgres

// SQL queries for the append-only report version store.

const (
	// queryAppendVersion inserts a version and returns its version_seq.
	// version_seq (BIGSERIAL) fixes creation order under concurrent writers.
	queryAppendVersion = `
		INSERT INTO report_versions (
			version_id, upload_id, request_id, fingerprint,
			supersedes_version_id, result, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING version_seq
	`

	// queryListVersions returns all versions for one upload in creation order.
	queryListVersions = `
		SELECT
			version_id, upload_id, request_id, fingerprint,
			supersedes_version_id, result, created_at, version_seq
		FROM report_versions
		WHERE upload_id = $1
		ORDER BY version_seq ASC
	`

	// queryGetVersion fetches one version by id.
	queryGetVersion = `
		SELECT
			version_id, upload_id, request_id, fingerprint,
			supersedes_version_id, result, created_at, version_seq
		FROM report_versions
		WHERE version_id = $1
	`

	// queryLatestByFingerprint fetches the newest version for a fingerprint.
	queryLatestByFingerprint = `
		SELECT
			version_id, upload_id, request_id, fingerprint,
			supersedes_version_id, result, created_at, version_seq
		FROM report_versions
		WHERE fingerprint = $1
		ORDER BY version_seq DESC
		LIMIT 1
	`

	// queryLatestByUpload fetches the newest version for an upload.
	queryLatestByUpload = `
		SELECT
			version_id, upload_id, request_id, fingerprint,
			supersedes_version_id, result, created_at, version_seq
		FROM report_versions
		WHERE upload_id = $1
		ORDER BY version_seq DESC
		LIMIT 1
	`
)
