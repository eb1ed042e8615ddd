package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Upload(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type fakeDatabase struct {
	name    string
	content string
	err     error
}

func (f fakeDatabase) Name() string { return f.name }

func (f fakeDatabase) VacuumInto(ctx context.Context, dest string) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dest, []byte(f.content), 0644)
}

var backupTime = time.Date(2024, 6, 14, 3, 0, 0, 0, time.UTC)

func newBackupService(t *testing.T, store ObjectStore, dbs ...Snapshotter) *BackupService {
	t.Helper()
	s := NewBackupService(store, dbs, t.TempDir(), 30, zerolog.Nop())
	s.now = func() time.Time { return backupTime }
	return s
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := make(map[string][]byte)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[h.Name] = body
	}
	return files
}

func TestCreateAndUploadBackup(t *testing.T) {
	store := newMemoryStore()
	s := newBackupService(t, store,
		fakeDatabase{name: "portfolio", content: "portfolio-bytes"},
		fakeDatabase{name: "history", content: "history-bytes"},
	)

	name, err := s.CreateAndUploadBackup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "riskboard-backup-2024-06-14-030000.tar.gz", name)
	require.Equal(t, []string{name}, store.keys())

	files := readArchive(t, store.objects[name])
	assert.Equal(t, "portfolio-bytes", string(files["portfolio.db"]))
	assert.Equal(t, "history-bytes", string(files["history.db"]))

	var meta BackupMetadata
	require.NoError(t, json.Unmarshal(files[metadataFile], &meta))
	require.Len(t, meta.Databases, 2)
	assert.Equal(t, "portfolio", meta.Databases[0].Name)
	assert.Equal(t, int64(len("portfolio-bytes")), meta.Databases[0].SizeBytes)
	assert.True(t, strings.HasPrefix(meta.Databases[0].Checksum, "sha256:"))
	assert.NotEqual(t, meta.Databases[0].Checksum, meta.Databases[1].Checksum)
}

func TestCreateAndUploadBackup_SnapshotFailure(t *testing.T) {
	store := newMemoryStore()
	s := newBackupService(t, store,
		fakeDatabase{name: "portfolio", content: "x"},
		fakeDatabase{name: "history", err: errors.New("disk I/O error")},
	)

	_, err := s.CreateAndUploadBackup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history")
	assert.Empty(t, store.keys())
}

func TestListBackups_NewestFirstAndIgnoresForeignObjects(t *testing.T) {
	store := newMemoryStore()
	store.objects["riskboard-backup-2024-06-10-030000.tar.gz"] = []byte("a")
	store.objects["riskboard-backup-2024-06-13-030000.tar.gz"] = []byte("bb")
	store.objects["riskboard-backup-garbage.tar.gz"] = []byte("c")
	store.objects["other.txt"] = []byte("d")
	s := newBackupService(t, store)

	backups, err := s.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "riskboard-backup-2024-06-13-030000.tar.gz", backups[0].Filename)
	assert.Equal(t, int64(2), backups[0].SizeBytes)
	assert.Equal(t, int64(24), backups[0].AgeHours)
}

func TestRotateOldBackups(t *testing.T) {
	store := newMemoryStore()
	for _, day := range []string{"2024-06-13", "2024-06-12", "2024-06-11", "2024-05-01", "2024-04-01", "2024-06-01"} {
		store.objects["riskboard-backup-"+day+"-030000.tar.gz"] = []byte("x")
	}
	s := newBackupService(t, store)

	deleted, err := s.RotateOldBackups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, []string{
		"riskboard-backup-2024-06-01-030000.tar.gz",
		"riskboard-backup-2024-06-11-030000.tar.gz",
		"riskboard-backup-2024-06-12-030000.tar.gz",
		"riskboard-backup-2024-06-13-030000.tar.gz",
	}, store.keys())
}

func TestRotateOldBackups_KeepsMinimum(t *testing.T) {
	store := newMemoryStore()
	for _, day := range []string{"2023-01-01", "2023-01-02", "2023-01-03"} {
		store.objects["riskboard-backup-"+day+"-030000.tar.gz"] = []byte("x")
	}
	s := newBackupService(t, store)

	deleted, err := s.RotateOldBackups(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Len(t, store.keys(), 3)
}

func TestBackupJob_Run(t *testing.T) {
	store := newMemoryStore()
	job := NewBackupJob(newBackupService(t, store, fakeDatabase{name: "cache", content: "c"}), zerolog.Nop())

	assert.Equal(t, "backup", job.Name())
	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, store.keys(), 1)
}
