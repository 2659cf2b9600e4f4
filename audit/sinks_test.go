package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	events := chain(t, 4)

	s, err := NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), events[:2]))
	require.NoError(t, s.Close())

	s, err = NewFileSink(path, WithFsync(true))
	require.NoError(t, err)
	assert.Equal(t, path, s.Path())
	require.NoError(t, s.Write(context.Background(), events[2:]))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close is idempotent")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	got, err := ReadJSONLines(data)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.NoError(t, Verify(got))
}

func TestFileSink_WriteAfterClose(t *testing.T) {
	s, err := NewFileSink(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Write(context.Background(), chain(t, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSinkUnavailable))
}

func TestFileSink_EmptyPath(t *testing.T) {
	_, err := NewFileSink("")
	assert.Error(t, err)
}

func TestFileSink_MissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	_, err := NewFileSink(filepath.Join(dir, "audit.jsonl"))
	require.Error(t, err)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "NewFileSink must not create %s", dir)
}

func TestPostgresSink_WritesBatchInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	events := chain(t, 2)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO "phi_audit"`)
	for _, e := range events {
		prep.ExpectExec().
			WithArgs(e.ID, int64(e.Sequence), e.Timestamp, string(e.EventType), "", "", "test",
				e.Status, sqlmock.AnyArg(), e.PrevHash, e.Hash).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	s := NewPostgresSink(db, WithTable("phi_audit"))
	require.NoError(t, s.Write(context.Background(), events))
	require.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO "audit_events"`).
		ExpectExec().
		WillReturnError(errors.New("connection reset by peer"))
	mock.ExpectRollback()

	err = NewPostgresSink(db).Write(context.Background(), chain(t, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSinkUnavailable))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_CreateTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "audit_events"`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewPostgresSink(db).CreateTable(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	return redis.NewStringResult("1-0", f.err)
}

func TestRedisStreamSink(t *testing.T) {
	client := &fakeStream{}
	s := NewRedisStreamSink(client, "", 1000)
	events := chain(t, 2)

	require.NoError(t, s.Write(context.Background(), events))
	require.Len(t, client.args, 2)

	a := client.args[1]
	assert.Equal(t, "phigate:audit", a.Stream)
	assert.Equal(t, int64(1000), a.MaxLen)
	assert.True(t, a.Approx)

	values := a.Values.(map[string]any)
	assert.Equal(t, "2", values["sequence"])
	var decoded Event
	require.NoError(t, json.Unmarshal(values["event"].([]byte), &decoded))
	assert.Equal(t, events[1].Hash, decoded.Hash)
	assert.NoError(t, s.Close())
}

func TestRedisStreamSink_Error(t *testing.T) {
	client := &fakeStream{err: errors.New("READONLY")}
	err := NewRedisStreamSink(client, "audit", 0).Write(context.Background(), chain(t, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSinkUnavailable))
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.records = append(f.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func TestKafkaSink(t *testing.T) {
	p := &fakeProducer{}
	s := NewKafkaSink(p, "phi.audit")
	events := chain(t, 3)

	require.NoError(t, s.Write(context.Background(), events))
	require.Len(t, p.records, 3)
	for i, r := range p.records {
		assert.Equal(t, "phi.audit", r.Topic)
		assert.Equal(t, []byte("phigate-audit"), r.Key)
		require.Len(t, r.Headers, 2)
		assert.Equal(t, events[i].Hash, string(r.Headers[1].Value))
	}
	assert.NoError(t, s.Close())
}

func TestKafkaSink_Error(t *testing.T) {
	p := &fakeProducer{err: errors.New("NOT_LEADER_FOR_PARTITION")}
	err := NewKafkaSink(p, "phi.audit").Write(context.Background(), chain(t, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSinkUnavailable))
}
