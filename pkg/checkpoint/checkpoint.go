// Package checkpoint implements the engine's durable execution snapshots
// (spec.md §3, §4.3). Checkpoints are immutable once written, persisted as
// JSON blobs under ~/.hive/checkpoints/{session_id}/{checkpoint_id}.json,
// written atomically (temp file + rename) so a crash mid-write never
// leaves a corrupt checkpoint on disk, and operations are serialized per
// session.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NodeConversationSnapshot is the persisted form of one node's turn log at
// checkpoint time (spec.md §3's NodeConversation).
type NodeConversationSnapshot struct {
	NodeID string          `json:"node_id"`
	Turns  []map[string]any `json:"turns"`
}

// Checkpoint is an immutable snapshot of one execution's state (spec.md §3).
type Checkpoint struct {
	CheckpointID              string                     `json:"checkpoint_id"`
	SessionID                 string                     `json:"session_id"`
	ExecutionID                string                    `json:"execution_id"`
	CreatedAt                 time.Time                  `json:"created_at"`
	SharedStateSnapshot        map[string]any            `json:"shared_state_snapshot"`
	NodeConversationsSnapshot  []NodeConversationSnapshot `json:"node_conversations_snapshot"`
	CurrentNode                string                    `json:"current_node"`
	VisitCounts                map[string]int            `json:"visit_counts"`
}

// Store persists checkpoints to disk, one directory per session.
type Store struct {
	baseDir string

	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex

	ttl          time.Duration
	evictCancel  chan struct{}
	evictDone    chan struct{}
}

// NewStore creates a Store rooted at baseDir (e.g. "~/.hive/checkpoints").
// The directory is created on first write, not here.
func NewStore(baseDir string) *Store {
	return &Store{
		baseDir:      baseDir,
		sessionLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.sessionLocks[sessionID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.baseDir, sessionID)
}

// Write persists a new checkpoint for sessionID and returns its generated
// CheckpointID. Checkpoint IDs are unique per session (spec.md §3
// invariant); callers must not reuse a returned ID.
func (s *Store) Write(sessionID string, cp Checkpoint) (string, error) {
	unlock := s.lockFor(sessionID)
	defer unlock()

	if cp.CheckpointID == "" {
		cp.CheckpointID = uuid.New().String()
	}
	cp.SessionID = sessionID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating checkpoint dir: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling checkpoint: %w", err)
	}

	final := filepath.Join(dir, cp.CheckpointID+".json")
	tmp := final + ".tmp-" + uuid.New().String()

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("renaming checkpoint into place: %w", err)
	}

	return cp.CheckpointID, nil
}

// Get loads one checkpoint by (sessionID, checkpointID).
func (s *Store) Get(sessionID, checkpointID string) (Checkpoint, error) {
	unlock := s.lockFor(sessionID)
	defer unlock()

	path := filepath.Join(s.sessionDir(sessionID), checkpointID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("reading checkpoint %s/%s: %w", sessionID, checkpointID, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decoding checkpoint %s/%s: %w", sessionID, checkpointID, err)
	}
	return cp, nil
}

// List returns every checkpoint for sessionID in creation order.
func (s *Store) List(sessionID string) ([]Checkpoint, error) {
	unlock := s.lockFor(sessionID)
	defer unlock()

	dir := s.sessionDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing checkpoints for %s: %w", sessionID, err)
	}

	var out []Checkpoint
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Latest returns the most recently created checkpoint for sessionID.
// Session.Resume with no checkpoint id does not use it; it resumes the
// most recently paused in-memory execution instead.
func (s *Store) Latest(sessionID string) (Checkpoint, bool, error) {
	all, err := s.List(sessionID)
	if err != nil || len(all) == 0 {
		return Checkpoint{}, false, err
	}
	return all[len(all)-1], true, nil
}

// StartEviction launches a background loop that deletes checkpoints older
// than ttl every interval. Grounded in the teacher's retention cleanup
// loop (pkg/cleanup.Service): a ticker plus a cancel channel, an initial
// pass on start, graceful Stop that waits for the loop to exit.
func (s *Store) StartEviction(ttl, interval time.Duration) {
	if s.evictCancel != nil {
		return
	}
	s.ttl = ttl
	s.evictCancel = make(chan struct{})
	s.evictDone = make(chan struct{})

	go func() {
		defer close(s.evictDone)
		s.evictOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.evictCancel:
				return
			case <-ticker.C:
				s.evictOnce()
			}
		}
	}()
}

// StopEviction halts the eviction loop started by StartEviction. No-op if
// it was never started.
func (s *Store) StopEviction() {
	if s.evictCancel == nil {
		return
	}
	close(s.evictCancel)
	<-s.evictDone
	s.evictCancel = nil
}

func (s *Store) evictOnce() {
	sessionDirs, err := os.ReadDir(s.baseDir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-s.ttl)
	for _, sd := range sessionDirs {
		if !sd.IsDir() {
			continue
		}
		sessionID := sd.Name()
		checkpoints, err := s.List(sessionID)
		if err != nil {
			continue
		}
		unlock := s.lockFor(sessionID)
		for _, cp := range checkpoints {
			if cp.CreatedAt.Before(cutoff) {
				_ = os.Remove(filepath.Join(s.sessionDir(sessionID), cp.CheckpointID+".json"))
			}
		}
		unlock()
	}
}
