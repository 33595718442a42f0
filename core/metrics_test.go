package core

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLSinkRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	sink, err := NewJSONLSink(path)
	require.NoError(t, err)

	sink.RecordEpisode(&EpisodeResult{
		Episode:     0,
		TotalReward: 2.5,
		Length:      7,
		Terminal:    TerminalDone,
		Seed:        9,
		Duration:    120 * time.Millisecond,
	})
	sink.RecordTraining(0, 3, Metrics{"td_error_mean": 0.5})
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "episode", lines[0]["kind"])
	assert.Equal(t, "natural_end", lines[0]["terminal"])
	assert.Equal(t, 2.5, lines[0]["reward"])
	assert.Equal(t, "train", lines[1]["kind"])
}
