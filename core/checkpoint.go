package core

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	checkpointExt  = ".ckpt"
	checkpointMeta = "meta.json"
	checkpointBlob = "agent.bin"
	// FinalLabel is reserved for the checkpoint written once at run
	// completion. Interval checkpoints use the episode number instead.
	FinalLabel = "final"
)

// CheckpointMeta is the small metadata header stored alongside the agent
// blob, used for compatibility checks at load time.
type CheckpointMeta struct {
	Label       string    `json:"label"`
	RunID       string    `json:"run_id"`
	Episode     int       `json:"episode"`
	TotalSteps  int       `json:"total_steps"`
	BestReward  float64   `json:"best_reward"`
	Timestamp   time.Time `json:"timestamp"`
	AgentName   string    `json:"agent_name"`
	ActionCount int       `json:"action_count"`
	Fingerprint string    `json:"config_fingerprint"`
}

// CheckpointHandle names one resolvable checkpoint on disk.
type CheckpointHandle struct {
	Path string
	Meta CheckpointMeta
}

// CheckpointManager owns the on-disk representation of agent state plus run
// metadata. Saves are atomic from the caller's perspective: the archive is
// written to a temporary file and renamed into place, so a concurrent reader
// never observes a partial checkpoint. One manager guards one run directory;
// saves are serialized.
type CheckpointManager struct {
	mu sync.Mutex
}

// Save snapshots the agent and run state into dir under the given label.
// The final label is written exactly once; a second save with it fails.
func (m *CheckpointManager) Save(dir string, state *RunState, env Environment, agent Agent, label string) (*CheckpointHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(dir, "checkpoint-"+label+checkpointExt)
	if label == FinalLabel {
		if _, err := os.Stat(path); err == nil {
			return nil, errors.Errorf("checkpoint label %q already written", FinalLabel)
		}
	}

	meta := CheckpointMeta{
		Label:       label,
		RunID:       state.RunID,
		Episode:     state.Episode,
		TotalSteps:  state.TotalSteps,
		BestReward:  state.BestReward,
		Timestamp:   time.Now().UTC(),
		AgentName:   agent.Name(),
		ActionCount: env.ActionSpace().N,
		Fingerprint: state.Fingerprint,
	}

	blob := new(bytes.Buffer)
	if err := agent.Save(blob); err != nil {
		return nil, errors.Wrap(err, "serializing agent state")
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, errors.Wrap(err, "encoding checkpoint metadata")
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return nil, errors.Wrap(err, "creating temporary checkpoint")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	tw := tar.NewWriter(tmp)
	if err := writeTarEntry(tw, checkpointMeta, metaBytes); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := writeTarEntry(tw, checkpointBlob, blob.Bytes()); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tw.Close(); err != nil {
		tmp.Close()
		return nil, errors.Wrap(err, "closing checkpoint archive")
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.Wrap(err, "closing temporary checkpoint")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return nil, errors.Wrap(err, "publishing checkpoint")
	}
	return &CheckpointHandle{Path: path, Meta: meta}, nil
}

func writeTarEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.Wrapf(err, "writing %s header", name)
	}
	if _, err := tw.Write(data); err != nil {
		return errors.Wrapf(err, "writing %s", name)
	}
	return nil
}

// Resolve reads the checkpoint at an explicit path.
func (m *CheckpointManager) Resolve(path string) (*CheckpointHandle, error) {
	meta, _, err := readCheckpoint(path, false)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrap(ErrCheckpointNotFound, path)
		}
		return nil, err
	}
	return &CheckpointHandle{Path: path, Meta: *meta}, nil
}

// ResolveLatest scans dir for checkpoints and returns the most recent by
// embedded timestamp. Filesystem modification time is deliberately not used:
// copying or moving a run directory must not change recovery outcome.
func (m *CheckpointManager) ResolveLatest(dir string) (*CheckpointHandle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrCheckpointNotFound, dir)
		}
		return nil, errors.Wrap(err, "scanning run directory")
	}
	var handles []*CheckpointHandle
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "checkpoint-") || !strings.HasSuffix(name, checkpointExt) {
			continue
		}
		h, err := m.Resolve(filepath.Join(dir, name))
		if err != nil {
			// An unreadable candidate is skipped, not fatal: interval
			// checkpoints bound the loss.
			continue
		}
		handles = append(handles, h)
	}
	if len(handles) == 0 {
		return nil, errors.Wrap(ErrCheckpointNotFound, dir)
	}
	sort.Slice(handles, func(i, j int) bool {
		if !handles[i].Meta.Timestamp.Equal(handles[j].Meta.Timestamp) {
			return handles[i].Meta.Timestamp.Before(handles[j].Meta.Timestamp)
		}
		return handles[i].Meta.Episode < handles[j].Meta.Episode
	})
	return handles[len(handles)-1], nil
}

// Restore loads the handle's agent blob into the given agent after checking
// the metadata header for compatibility.
func (m *CheckpointManager) Restore(h *CheckpointHandle, env Environment, agent Agent) error {
	meta, blob, err := readCheckpoint(h.Path, true)
	if err != nil {
		return err
	}
	if meta.AgentName != agent.Name() {
		return errors.Wrapf(ErrCheckpointIncompatible,
			"checkpoint was written by agent %q, constructed agent is %q", meta.AgentName, agent.Name())
	}
	if n := env.ActionSpace().N; meta.ActionCount != n {
		return errors.Wrapf(ErrCheckpointIncompatible,
			"checkpoint action space %d, environment action space %d", meta.ActionCount, n)
	}
	if err := agent.Load(bytes.NewReader(blob)); err != nil {
		return errors.Wrap(err, "loading agent state")
	}
	return nil
}

func readCheckpoint(path string, wantBlob bool) (*CheckpointMeta, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening checkpoint")
	}
	defer f.Close()

	var meta *CheckpointMeta
	var blob []byte
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "reading checkpoint archive")
		}
		switch hdr.Name {
		case checkpointMeta:
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, errors.Wrap(err, "reading checkpoint metadata")
			}
			meta = &CheckpointMeta{}
			if err := json.Unmarshal(data, meta); err != nil {
				return nil, nil, errors.Wrap(err, "decoding checkpoint metadata")
			}
		case checkpointBlob:
			if !wantBlob {
				continue
			}
			blob, err = io.ReadAll(tr)
			if err != nil {
				return nil, nil, errors.Wrap(err, "reading agent blob")
			}
		}
	}
	if meta == nil {
		return nil, nil, fmt.Errorf("checkpoint %s has no metadata entry", path)
	}
	return meta, blob, nil
}
