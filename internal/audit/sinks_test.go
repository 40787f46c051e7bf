package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/auditchain/internal/audit"
	"github.com/jmerrifield20/auditchain/internal/correlation"
)

func sampleEntry() *audit.Entry {
	return &audit.Entry{
		ID:            correlation.New(),
		Actor:         "admin:a-1",
		Action:        "user.role.change",
		Target:        "user/u-9",
		Scope:         "tenant:T",
		DiffHash:      strings.Repeat("ab", 32),
		Timestamp:     time.Date(2026, 2, 3, 4, 5, 6, 789, time.UTC),
		CorrelationID: correlation.New(),
	}
}

func TestEntry_wireFormat(t *testing.T) {
	e := sampleEntry()
	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	for _, k := range []string{"actor", "action", "target", "scope", "diffHash", "timestamp", "correlationId"} {
		assert.Contains(t, fields, k)
	}
	ts, err := time.Parse(time.RFC3339Nano, fields["timestamp"].(string))
	require.NoError(t, err)
	assert.True(t, ts.Equal(e.Timestamp))
}

func TestJSONLSink_oneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := audit.NewJSONLSink(&buf)

	a, b := sampleEntry(), sampleEntry()
	require.NoError(t, sink.Write(context.Background(), a))
	require.NoError(t, sink.Write(context.Background(), b))
	require.NoError(t, sink.Close())

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	got, err := audit.ReadJSONL(strings.NewReader(buf.String()))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, b.CorrelationID, got[1].CorrelationID)
}

func TestOpenFileSink_appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")

	for i := 0; i < 2; i++ {
		sink, err := audit.OpenFileSink(path)
		require.NoError(t, err)
		require.NoError(t, sink.Write(context.Background(), sampleEntry()))
		require.NoError(t, sink.Close())
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err := audit.ReadJSONL(f)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestReadJSONL_reportsBadLine(t *testing.T) {
	_, err := audit.ReadJSONL(strings.NewReader("{}\n\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

type stubStream struct {
	args []*redis.XAddArgs
	err  error
}

func (s *stubStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	s.args = append(s.args, a)
	cmd := redis.NewStringCmd(ctx)
	if s.err != nil {
		cmd.SetErr(s.err)
	} else {
		cmd.SetVal("1700000000000-0")
	}
	return cmd
}

func TestRedisStreamSink(t *testing.T) {
	stub := &stubStream{}
	sink := audit.NewRedisStreamSink(stub, "")
	e := sampleEntry()

	require.NoError(t, sink.Write(context.Background(), e))
	require.Len(t, stub.args, 1)
	args := stub.args[0]
	assert.Equal(t, audit.DefaultRedisStream, args.Stream)
	assert.Zero(t, args.MaxLen)

	values := args.Values.(map[string]any)
	assert.Equal(t, e.CorrelationID, values["correlation_id"])
	var back audit.Entry
	require.NoError(t, json.Unmarshal([]byte(values["entry"].(string)), &back))
	assert.Equal(t, e.DiffHash, back.DiffHash)

	stub.err = errors.New("READONLY")
	assert.ErrorContains(t, sink.Write(context.Background(), e), "READONLY")
}

type stubJetStream struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (s *stubJetStream) Publish(subj string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.subjects = append(s.subjects, subj)
	s.payloads = append(s.payloads, data)
	return &nats.PubAck{Stream: "AUDIT", Sequence: uint64(len(s.subjects))}, nil
}

func TestNATSSink(t *testing.T) {
	stub := &stubJetStream{}
	sink := audit.NewNATSSink(stub, "audit.tenant-t")
	e := sampleEntry()

	require.NoError(t, sink.Write(context.Background(), e))
	assert.Equal(t, []string{"audit.tenant-t"}, stub.subjects)
	var back audit.Entry
	require.NoError(t, json.Unmarshal(stub.payloads[0], &back))
	assert.Equal(t, e.ID, back.ID)

	stub.err = nats.ErrNoStreamResponse
	assert.ErrorIs(t, sink.Write(context.Background(), e), nats.ErrNoStreamResponse)
}

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSink_keyedByCorrelation(t *testing.T) {
	fw := &fakeKafkaWriter{}
	sink := audit.NewKafkaSinkWithWriter(fw)
	e := sampleEntry()

	require.NoError(t, sink.Write(context.Background(), e))
	require.Len(t, fw.msgs, 1)
	assert.Equal(t, e.CorrelationID, string(fw.msgs[0].Key))
	assert.True(t, fw.msgs[0].Time.Equal(e.Timestamp))

	require.NoError(t, sink.Close())
	assert.True(t, fw.closed)
}

func TestMemorySink_groupIsEmptyNotNil(t *testing.T) {
	g, err := audit.NewMemorySink().Group(context.Background(), correlation.New())
	require.NoError(t, err)
	assert.NotNil(t, g.Entries)
	assert.Empty(t, g.Entries)
}
