package sessions

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/conclave-ai/conclave/pkg/models"
)

// logRecordType discriminates the append-only records in a session file.
type logRecordType string

const (
	recordSession logRecordType = "session"
	recordMessage logRecordType = "message"
	recordBranch  logRecordType = "branch"
)

// logRecord is one line of a session's JSONL file. A session file is the
// single source of truth for that conversation: a "session" record first,
// then "message" records in order, with "branch" markers separating
// compaction branches.
type logRecord struct {
	Type      logRecordType   `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Session   *models.Session `json:"session,omitempty"`
	Message   *models.Message `json:"message,omitempty"`

	// Branch marker fields.
	BranchID     string `json:"branch_id,omitempty"`
	BranchReason string `json:"branch_reason,omitempty"`
}

// FileStore is the durable session store: one append-only JSONL file per
// session under a root directory. Writes go to disk before they are
// acknowledged; loads discard a torn final record so a crash mid-write
// never poisons the log. Concurrent readers are safe because only the
// session lane's current holder writes.
type FileStore struct {
	root string

	mu       sync.RWMutex
	sessions map[string]*models.Session
	byKey    map[string]string
	messages map[string][]*models.Message

	// branchStart[id] is the index into messages[id] where the active
	// branch begins; context building reads from there.
	branchStart map[string]int
}

// NewFileStore opens (or creates) a file-backed session store rooted at
// dir, loading every existing session log eagerly.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("session store dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	s := &FileStore{
		root:        dir,
		sessions:    map[string]*models.Session{},
		byKey:       map[string]string{},
		messages:    map[string][]*models.Message{},
		branchStart: map[string]int{},
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) pathFor(sessionID string) string {
	return filepath.Join(s.root, sanitizeSessionID(sessionID)+".jsonl")
}

// sanitizeSessionID keeps session ids filesystem-safe; colons and slashes
// in keys like "board:finance:team" become dashes.
func sanitizeSessionID(id string) string {
	replacer := strings.NewReplacer("/", "-", "\\", "-", ":", "-", " ", "-")
	return replacer.Replace(id)
}

// loadAll replays every session file under the root into memory.
func (s *FileStore) loadAll() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		if err := s.loadFile(filepath.Join(s.root, entry.Name())); err != nil {
			return fmt.Errorf("load %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// loadFile replays one session log. Records that fail to parse are
// tolerated only in the final position (a torn write from a crash); a
// corrupt record mid-file is an error worth surfacing.
func (s *FileStore) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var (
		session  *models.Session
		messages []*models.Message
		branch   = 0
		badLine  = -1
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if badLine >= 0 {
			return fmt.Errorf("corrupt record at line %d", badLine)
		}
		var rec logRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// Possibly a torn final record; fatal only if more follow.
			badLine = lineNo
			continue
		}
		switch rec.Type {
		case recordSession:
			if rec.Session != nil {
				session = rec.Session
			}
		case recordMessage:
			if rec.Message != nil {
				messages = append(messages, rec.Message)
			}
		case recordBranch:
			branch = len(messages)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	s.sessions[session.ID] = session
	if session.Key != "" {
		s.byKey[session.Key] = session.ID
	}
	s.messages[session.ID] = messages
	s.branchStart[session.ID] = branch
	return nil
}

// appendRecord writes one record to the session's file and flushes it.
func (s *FileStore) appendRecord(sessionID string, rec logRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.pathFor(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func (s *FileStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := cloneSession(session)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	session.ID = clone.ID
	session.CreatedAt = clone.CreatedAt
	session.UpdatedAt = clone.UpdatedAt

	if err := s.appendRecord(clone.ID, logRecord{Type: recordSession, Timestamp: clone.CreatedAt, Session: clone}); err != nil {
		return err
	}
	s.sessions[clone.ID] = clone
	if clone.Key != "" {
		s.byKey[clone.Key] = clone.ID
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, errors.New("session not found")
	}
	return cloneSession(session), nil
}

func (s *FileStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sessions[session.ID]
	if !ok {
		return errors.New("session not found")
	}
	clone := cloneSession(session)
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	if err := s.appendRecord(clone.ID, logRecord{Type: recordSession, Timestamp: clone.UpdatedAt, Session: clone}); err != nil {
		return err
	}
	if existing.Key != "" && existing.Key != clone.Key {
		delete(s.byKey, existing.Key)
	}
	s.sessions[clone.ID] = clone
	if clone.Key != "" {
		s.byKey[clone.Key] = clone.ID
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return errors.New("session not found")
	}
	if err := os.Remove(s.pathFor(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(s.sessions, id)
	if session.Key != "" {
		delete(s.byKey, session.Key)
	}
	delete(s.messages, id)
	delete(s.branchStart, id)
	return nil
}

func (s *FileStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, errors.New("session not found")
	}
	return cloneSession(s.sessions[id]), nil
}

func (s *FileStore) GetOrCreate(ctx context.Context, key string, agentID string, channel models.ChannelType, channelID string) (*models.Session, error) {
	if existing, err := s.GetByKey(ctx, key); err == nil {
		return existing, nil
	}
	session := &models.Session{
		Key:       key,
		AgentID:   agentID,
		Channel:   channel,
		ChannelID: channelID,
	}
	if err := s.Create(ctx, session); err != nil {
		return nil, err
	}
	return s.Get(ctx, session.ID)
}

func (s *FileStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Session
	for _, session := range s.sessions {
		if agentID != "" && session.AgentID != agentID {
			continue
		}
		if opts.Channel != "" && session.Channel != opts.Channel {
			continue
		}
		out = append(out, cloneSession(session))
	}
	sortSessionsByUpdated(out)
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *FileStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return errors.New("session not found")
	}

	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.SessionID = sessionID

	if err := s.appendRecord(sessionID, logRecord{Type: recordMessage, Timestamp: clone.CreatedAt, Message: clone}); err != nil {
		return err
	}
	s.messages[sessionID] = append(s.messages[sessionID], clone)
	session.UpdatedAt = clone.CreatedAt
	msg.ID = clone.ID
	msg.CreatedAt = clone.CreatedAt
	return nil
}

// GetHistory returns the newest messages of the session's active branch,
// up to limit. Messages before the most recent branch marker belong to a
// compacted-away branch and are not part of the model's context.
func (s *FileStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, errors.New("session not found")
	}
	msgs := s.messages[sessionID]
	if start := s.branchStart[sessionID]; start > 0 && start <= len(msgs) {
		msgs = msgs[start:]
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*models.Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloneMessage(m)
	}
	return out, nil
}

// StartBranch writes a branch marker: messages appended after it form the
// new active branch, while everything before it stays on disk for audit
// and remains readable via FullHistory.
func (s *FileStore) StartBranch(ctx context.Context, sessionID, branchID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return errors.New("session not found")
	}
	if branchID == "" {
		branchID = uuid.NewString()
	}
	rec := logRecord{Type: recordBranch, Timestamp: time.Now(), BranchID: branchID, BranchReason: reason}
	if err := s.appendRecord(sessionID, rec); err != nil {
		return err
	}
	s.branchStart[sessionID] = len(s.messages[sessionID])
	return nil
}

// FullHistory returns every message across all branches, oldest first.
func (s *FileStore) FullHistory(ctx context.Context, sessionID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, errors.New("session not found")
	}
	msgs := s.messages[sessionID]
	out := make([]*models.Message, len(msgs))
	for i, m := range msgs {
		out[i] = cloneMessage(m)
	}
	return out, nil
}

// Branches lists the branch markers recorded in a session's log, oldest
// first, by re-reading the file so the on-disk record is authoritative.
func (s *FileStore) Branches(ctx context.Context, sessionID string) ([]BranchMarker, error) {
	s.mu.RLock()
	path := s.pathFor(sessionID)
	_, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.New("session not found")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []BranchMarker
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec logRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Type == recordBranch {
			out = append(out, BranchMarker{ID: rec.BranchID, Reason: rec.BranchReason, CreatedAt: rec.Timestamp})
		}
	}
	return out, scanner.Err()
}

// BranchMarker describes one branch boundary in a session log.
type BranchMarker struct {
	ID        string
	Reason    string
	CreatedAt time.Time
}

func sortSessionsByUpdated(sessions []*models.Session) {
	for i := 1; i < len(sessions); i++ {
		for j := i; j > 0 && sessions[j].UpdatedAt.After(sessions[j-1].UpdatedAt); j-- {
			sessions[j], sessions[j-1] = sessions[j-1], sessions[j]
		}
	}
}
