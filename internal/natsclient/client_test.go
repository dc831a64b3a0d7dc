package natsclient

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/bytestream/config"
)

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.NATSConfig{
		URL:       "nats://broker:4222",
		FetchWait: 250 * time.Millisecond,
		TLS:       config.TLSConfig{Enabled: true},
	})
	assert.Equal(t, "nats://broker:4222", cfg.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.FetchWait)
	assert.True(t, cfg.TLS.Enabled)
	// 未设置的字段保留默认值
	assert.Equal(t, "BYTESTREAM", cfg.StreamName)
	assert.Equal(t, "bytestream", cfg.SubjectPrefix)
}

func TestSubjectFor(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    string
		wantErr bool
	}{
		{name: "plain", id: "job-1", want: "bytestream.job-1"},
		{name: "uuid", id: "6f1c2b1e-9a4d-4b7e-8f00-1c2d3e4f5a6b", want: "bytestream.6f1c2b1e-9a4d-4b7e-8f00-1c2d3e4f5a6b"},
		{name: "empty", id: "", wantErr: true},
		{name: "dot", id: "a.b", wantErr: true},
		{name: "wildcard", id: "*", wantErr: true},
		{name: "tail wildcard", id: "x>", wantErr: true},
		{name: "space", id: "a b", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := subjectFor("bytestream", tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidStreamID))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToEntry(t *testing.T) {
	e := toEntry(7, []byte("chunk"), nil)
	assert.Equal(t, Entry{Seq: 7, Data: []byte("chunk")}, e)

	h := nats.Header{}
	h.Set(HeaderEOF, "1")
	h.Set(HeaderError, "aborted: boom")
	e = toEntry(8, nil, h)
	assert.True(t, e.EOF)
	assert.Equal(t, "aborted: boom", e.Err)
}

func TestConnect_TLSConfigError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TLS = config.TLSConfig{Enabled: true, CAFile: "/nonexistent/ca.pem"}
	_, err := Connect(t.Context(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats tls")
}
