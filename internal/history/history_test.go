package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/waysn/internal/errors"
	"codeberg.org/mutker/waysn/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = filepath.Join(t.TempDir(), "history.db")
	cfg.FlushInterval = 0

	return cfg
}

func newRepo(t *testing.T, cfg Config) *repository {
	t.Helper()
	repo, err := NewRepository(cfg, logger.New("history-test"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo.(*repository)
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM applied").Scan(&n))

	return n
}

func snapshot(outputs ...string) *Snapshot {
	s := &Snapshot{Timestamp: time.Now()}
	for _, name := range outputs {
		s.Entries = append(s.Entries, Entry{Output: name, Kelvin: 4000, Gamma: 1.2})
	}

	return s
}

func TestDisabledServiceIsNoop(t *testing.T) {
	rec, err := NewService(DefaultConfig(), logger.New("history-test"))
	require.NoError(t, err)

	assert.IsType(t, &noopRecorder{}, rec)
	assert.NoError(t, rec.Record(context.Background(), snapshot("DP-1")))
	assert.NoError(t, rec.Close())
}

func TestEnabledServiceRequiresPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true

	_, err := NewService(cfg, logger.New("history-test"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrInvalidDBPath))
}

func TestServiceInitFailureCarriesCode(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = filepath.Join(blocker, "history.db")

	_, err := NewService(cfg, logger.New("history-test"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInitHistory))
}

type failingRepo struct{}

func (failingRepo) Record(*Snapshot) error { return nil }
func (failingRepo) Close() error           { return os.ErrClosed }

func TestServiceCloseFailureCarriesCode(t *testing.T) {
	s := &service{repo: failingRepo{}, cfg: testConfig(t)}

	err := s.Close()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCloseHistory))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestServiceRejectsNilSnapshot(t *testing.T) {
	rec, err := NewService(testConfig(t), logger.New("history-test"))
	require.NoError(t, err)
	defer rec.Close()

	err = rec.Record(context.Background(), nil)
	assert.True(t, errors.HasCode(err, ErrInvalidSnapshot))
}

func TestServiceHonoursCancelledContext(t *testing.T) {
	rec, err := NewService(testConfig(t), logger.New("history-test"))
	require.NoError(t, err)
	defer rec.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = rec.Record(ctx, snapshot("DP-1"))
	assert.True(t, errors.HasCode(err, ErrOperationTimeout))
}

func TestRecordBatchesRows(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 3
	repo := newRepo(t, cfg)

	require.NoError(t, repo.Record(snapshot("DP-1", "DP-2")))
	assert.Equal(t, 0, countRows(t, repo.db))

	require.NoError(t, repo.Record(snapshot("DP-1")))
	assert.Equal(t, 3, countRows(t, repo.db))
}

func TestRecordedValues(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 1
	repo := newRepo(t, cfg)

	at := time.UnixMilli(1_700_000_000_123)
	require.NoError(t, repo.Record(&Snapshot{
		Timestamp: at,
		Entries:   []Entry{{Output: "eDP-1", Kelvin: 3500, Gamma: 0.8}},
	}))

	var (
		ts     int64
		output string
		kelvin uint32
		gamma  float64
	)
	require.NoError(t, repo.db.QueryRow("SELECT timestamp, output, kelvin, gamma FROM applied").
		Scan(&ts, &output, &kelvin, &gamma))
	assert.Equal(t, at.UnixMilli(), ts)
	assert.Equal(t, "eDP-1", output)
	assert.Equal(t, uint32(3500), kelvin)
	assert.InDelta(t, 0.8, gamma, 1e-6)
}

func TestCloseFlushesBuffer(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 100

	repo, err := NewRepository(cfg, logger.New("history-test"))
	require.NoError(t, err)
	require.NoError(t, repo.Record(snapshot("DP-1", "DP-2")))
	require.NoError(t, repo.Close())
	require.NoError(t, repo.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, 2, countRows(t, db))
}

func TestPeriodicFlush(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 100
	cfg.FlushInterval = 10 * time.Millisecond
	repo := newRepo(t, cfg)

	require.NoError(t, repo.Record(snapshot("DP-1")))
	assert.Eventually(t, func() bool {
		var n int
		if err := repo.db.QueryRow("SELECT COUNT(*) FROM applied").Scan(&n); err != nil {
			return false
		}
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchemaMismatchIsRecreated(t *testing.T) {
	cfg := testConfig(t)
	cfg.BackupOnMigrate = true

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE schema_versions (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL);
		INSERT INTO schema_versions VALUES (99, datetime('now'));`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	repo := newRepo(t, cfg)

	version, err := GetSchemaVersion(repo.db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	backups, err := os.ReadDir(filepath.Join(filepath.Dir(cfg.DBPath), "backups"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestReopenKeepsSchema(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 1

	repo, err := NewRepository(cfg, logger.New("history-test"))
	require.NoError(t, err)
	require.NoError(t, repo.Record(snapshot("DP-1")))
	require.NoError(t, repo.Close())

	reopened := newRepo(t, cfg)
	assert.Equal(t, 1, countRows(t, reopened.db))
}
