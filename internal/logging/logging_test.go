package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesServiceField(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Service: "riskledger-gateway", Level: "debug", Output: &buf})
	log.Debug().Str("decision_id", "dec-a").Msg("decision stored")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "riskledger-gateway", entry["service"])
	assert.Equal(t, "dec-a", entry["decision_id"])
	assert.Equal(t, "debug", entry["level"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(Options{Service: "svc", Output: &buf})

	FromContext(context.Background(), base).Info().Msg("no request")
	assert.Contains(t, buf.String(), `"service":"svc"`)
	assert.NotContains(t, buf.String(), "request_id")

	buf.Reset()
	ctx := WithFields(context.Background(), base, map[string]any{"request_id": "req-1"})
	FromContext(ctx, zerolog.Nop()).Warn().Msg("with request")
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}
