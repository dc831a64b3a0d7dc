package natsclient_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/bytestream/internal/natsclient"
	"github.com/BaSui01/bytestream/testutil"
	"github.com/BaSui01/bytestream/testutil/natstest"
)

type countingRecorder struct {
	ops map[string]int
}

func (r *countingRecorder) RecordConnectorOp(connector, operation string, _ time.Duration, _ error) {
	r.ops[connector+"/"+operation]++
}

func TestClient_AppendReadFinish(t *testing.T) {
	client := natstest.NewClient(t)
	rec := &countingRecorder{ops: map[string]int{}}
	client.WithRecorder(rec)
	ctx := testutil.TestContext(t)

	first, err := client.Append(ctx, "s1", []byte("hello "))
	require.NoError(t, err)
	second, err := client.Append(ctx, "s1", []byte("world"))
	require.NoError(t, err)
	assert.Greater(t, second, first)
	require.NoError(t, client.Finish(ctx, "s1", ""))

	n, err := client.Len(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	r, err := client.Reader(ctx, "s1", 0)
	require.NoError(t, err)
	entries, err := r.Read(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "hello ", string(entries[0].Data))
	assert.Equal(t, first, entries[0].Seq)
	assert.True(t, entries[2].EOF)
	assert.Empty(t, entries[2].Err)

	assert.Equal(t, 2, rec.ops["nats/append"])
	assert.Equal(t, 1, rec.ops["nats/finish"])
}

func TestClient_ReadTimesOutEmpty(t *testing.T) {
	client := natstest.NewClient(t)
	ctx := testutil.TestContext(t)

	r, err := client.Reader(ctx, "quiet", 0)
	require.NoError(t, err)
	entries, err := r.Read(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClient_SubjectsAreIsolated(t *testing.T) {
	client := natstest.NewClient(t)
	ctx := testutil.TestContext(t)

	_, err := client.Append(ctx, "left", []byte("L"))
	require.NoError(t, err)
	_, err = client.Append(ctx, "right", []byte("R"))
	require.NoError(t, err)

	r, err := client.Reader(ctx, "right", 0)
	require.NoError(t, err)
	entries, err := r.Read(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "R", string(entries[0].Data))
}

func TestClient_DeleteAndClose(t *testing.T) {
	client := natstest.NewClient(t)
	ctx := testutil.TestContext(t)

	_, err := client.Append(ctx, "gone", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, client.Delete(ctx, "gone"))
	n, err := client.Len(ctx, "gone")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, client.Ping(ctx))
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	_, err = client.Append(ctx, "gone", []byte("y"))
	assert.True(t, errors.Is(err, natsclient.ErrClientClosed))
}
