package proxy

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
)

// SQLStore implements CacheStore against a SQL database (§4.8A), for
// deployments that want cache entries to survive a restart. Selected
// by configuration (CACHE_BACKEND=sql); the in-memory store remains
// the default.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore opens (and migrates) a SQL-backed CacheStore.
func NewSQLStore(db *sqlx.DB) (*SQLStore, error) {
	store := &SQLStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS cache_entries (
		cache_key   TEXT PRIMARY KEY,
		status      INTEGER NOT NULL,
		headers     TEXT NOT NULL,
		body        BLOB NOT NULL,
		inserted_at INTEGER NOT NULL,
		expires_at  INTEGER NOT NULL
	)`)
	return err
}

type cacheRow struct {
	CacheKey   string `db:"cache_key"`
	Status     int    `db:"status"`
	Headers    string `db:"headers"`
	Body       []byte `db:"body"`
	InsertedAt int64  `db:"inserted_at"`
	ExpiresAt  int64  `db:"expires_at"`
}

func rowToEntry(row cacheRow) (Entry, error) {
	var headers map[string][]string
	if err := json.Unmarshal([]byte(row.Headers), &headers); err != nil {
		return Entry{}, err
	}
	return Entry{
		Status:     row.Status,
		Headers:    headers,
		Body:       row.Body,
		InsertedAt: time.Unix(row.InsertedAt, 0),
		ExpiresAt:  time.Unix(row.ExpiresAt, 0),
	}, nil
}

func (s *SQLStore) Get(key string) (Entry, bool, error) {
	var row cacheRow
	err := s.db.Get(&row, `SELECT cache_key, status, headers, body, inserted_at, expires_at
		FROM cache_entries WHERE cache_key = ?`, key)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	entry, err := rowToEntry(row)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// mssqlUpsertSQL takes the six column values twice, once for the
// match probe and update body and once for the insert body;
// mysqlUpsertSQL and sqliteUpsertSQL (shared with Postgres, which
// accepts the same ON CONFLICT syntax) take them once.
const mysqlUpsertSQL = `INSERT INTO cache_entries
	(cache_key, status, headers, body, inserted_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		status = VALUES(status),
		headers = VALUES(headers),
		body = VALUES(body),
		inserted_at = VALUES(inserted_at),
		expires_at = VALUES(expires_at)`

const mssqlUpsertSQL = `MERGE cache_entries AS target
	USING (SELECT ? AS cache_key) AS src
	ON target.cache_key = src.cache_key
	WHEN MATCHED THEN UPDATE SET
		status = ?, headers = ?, body = ?, inserted_at = ?, expires_at = ?
	WHEN NOT MATCHED THEN
		INSERT (cache_key, status, headers, body, inserted_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?);`

const sqliteUpsertSQL = `INSERT INTO cache_entries
	(cache_key, status, headers, body, inserted_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(cache_key) DO UPDATE SET
		status = excluded.status,
		headers = excluded.headers,
		body = excluded.body,
		inserted_at = excluded.inserted_at,
		expires_at = excluded.expires_at`

// upsertSQL picks the dialect-appropriate upsert statement for driver, as
// returned by sqlx.DB.DriverName(). SQLite's ON CONFLICT syntax isn't
// portable: MySQL rejects it (it wants ON DUPLICATE KEY UPDATE) and SQL
// Server has no ON CONFLICT clause at all (it wants MERGE).
func upsertSQL(driver string) string {
	switch driver {
	case "mysql":
		return mysqlUpsertSQL
	case "sqlserver", "mssql":
		return mssqlUpsertSQL
	default:
		return sqliteUpsertSQL
	}
}

func (s *SQLStore) Set(key string, entry Entry) error {
	headers, err := json.Marshal(entry.Headers)
	if err != nil {
		return err
	}

	body := entry.Body
	if body == nil {
		body = []byte{} // body is NOT NULL; a nil slice would bind as NULL
	}

	vals := []interface{}{key, entry.Status, headers, body,
		entry.InsertedAt.Unix(), entry.ExpiresAt.Unix()}
	args := vals
	if s.db.DriverName() == "sqlserver" || s.db.DriverName() == "mssql" {
		args = append(append([]interface{}{}, vals...), vals...)
	}

	_, err = s.db.Exec(upsertSQL(s.db.DriverName()), args...)
	return err
}

func (s *SQLStore) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE cache_key = ?`, key)
	return err
}

func (s *SQLStore) DeletePrefix(prefix string) error {
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE cache_key LIKE ? ESCAPE '\'`,
		likePrefix(prefix))
	return err
}

func (s *SQLStore) Len() (int, error) {
	var n int
	err := s.db.Get(&n, `SELECT COUNT(*) FROM cache_entries`)
	return n, err
}

// likePrefix escapes LIKE metacharacters in prefix and appends a
// wildcard, so DeletePrefix matches exactly the keys cacheKey would
// have produced under that prefix.
func likePrefix(prefix string) string {
	escaped := make([]byte, 0, len(prefix)+1)
	for _, b := range []byte(prefix) {
		switch b {
		case '\\', '%', '_':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, b)
	}
	return string(escaped) + "%"
}
