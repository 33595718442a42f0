package core

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MetricsSink accepts scalar metrics keyed by step and episode. One record
// is emitted per episode plus any training metrics surfaced by the agent.
type MetricsSink interface {
	RecordEpisode(res *EpisodeResult)
	RecordTraining(episode, step int, m Metrics)
	Close() error
}

// JSONLSink appends one JSON record per line, the stream an external
// dashboard tails from the run directory.
type JSONLSink struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

type episodeRecord struct {
	Kind        string  `json:"kind"`
	Episode     int     `json:"episode"`
	Reward      float64 `json:"reward"`
	Length      int     `json:"length"`
	Terminal    string  `json:"terminal"`
	Seed        uint64  `json:"seed"`
	DurationSec float64 `json:"duration_sec"`
	Error       string  `json:"error,omitempty"`
}

type trainingRecord struct {
	Kind    string  `json:"kind"`
	Episode int     `json:"episode"`
	Step    int     `json:"step"`
	Metrics Metrics `json:"metrics"`
	Time    int64   `json:"time_unix_ms"`
}

func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "opening metrics stream")
	}
	return &JSONLSink{f: f, enc: json.NewEncoder(f)}, nil
}

func (s *JSONLSink) RecordEpisode(res *EpisodeResult) {
	rec := episodeRecord{
		Kind:        "episode",
		Episode:     res.Episode,
		Reward:      res.TotalReward,
		Length:      res.Length,
		Terminal:    res.Terminal.String(),
		Seed:        res.Seed,
		DurationSec: res.Duration.Seconds(),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enc.Encode(rec)
}

func (s *JSONLSink) RecordTraining(episode, step int, m Metrics) {
	rec := trainingRecord{
		Kind:    "train",
		Episode: episode,
		Step:    step,
		Metrics: m,
		Time:    time.Now().UnixMilli(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enc.Encode(rec)
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

var _ MetricsSink = (*JSONLSink)(nil)

// NopSink discards all metrics.
type NopSink struct{}

func (NopSink) RecordEpisode(*EpisodeResult)     {}
func (NopSink) RecordTraining(int, int, Metrics) {}
func (NopSink) Close() error                     { return nil }
