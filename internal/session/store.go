// Package session tracks each chat's in-progress request from the first
// media upload through the fade choice that dispatches exactly one render.
package session

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobarin/captionreel/internal/models"
)

type State string

const (
	StateIdle               State = "idle"
	StateDownloading        State = "downloading"
	StateAwaitingCaption    State = "awaiting_caption"
	StateAwaitingFadeChoice State = "awaiting_fade_choice"
	StateDispatched         State = "dispatched"
	StateEvicted            State = "evicted"
)

var (
	// ErrBusy is returned when media arrives while the chat is still
	// downloading or has a render in flight.
	ErrBusy = errors.New("session busy")
	// ErrExpired is returned for a fade choice that no longer matches a
	// session awaiting one.
	ErrExpired = errors.New("session expired")
	// ErrNoSession is returned when a transition targets a missing session.
	ErrNoSession = errors.New("no session")
)

// CaptionResult tells the caller how a caption message was handled.
type CaptionResult int

const (
	CaptionAccepted CaptionResult = iota
	CaptionNeedsMedia
	CaptionIgnored
)

// Session is one chat's in-progress request.
type Session struct {
	ChatID           int64
	State            State
	MediaPath        string
	MediaKind        models.MediaKind
	FileID           string
	CaptionText      string
	ApplyFade        bool
	StatusMessageID  int
	MessagesToDelete []int
	CreatedAt        time.Time
	LastTouchedAt    time.Time
}

// Store holds at most one session per chat. All access goes through one
// mutex so every check-then-transition is atomic.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	inflight map[int64]struct{}
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func NewStore(timeout time.Duration, logger zerolog.Logger) *Store {
	return &Store{
		sessions: make(map[int64]*Session),
		inflight: make(map[int64]struct{}),
		timeout:  timeout,
		now:      time.Now,
		logger:   logger.With().Str("component", "session").Logger(),
	}
}

// SetClock replaces the store's time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// BeginDownload starts a new session in Downloading. A previous session for
// the chat in AwaitingCaption or AwaitingFadeChoice is replaced and its media
// file removed.
func (s *Store) BeginDownload(chatID int64, kind models.MediaKind, fileID string, statusMessageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inflight[chatID]; busy {
		return ErrBusy
	}
	if prev, ok := s.sessions[chatID]; ok {
		if prev.State == StateDownloading {
			return ErrBusy
		}
		s.removeMedia(prev)
	}

	now := s.now()
	s.sessions[chatID] = &Session{
		ChatID:           chatID,
		State:            StateDownloading,
		MediaKind:        kind,
		FileID:           fileID,
		StatusMessageID:  statusMessageID,
		MessagesToDelete: nonZero(statusMessageID),
		CreatedAt:        now,
		LastTouchedAt:    now,
	}
	return nil
}

// CompleteDownload records the local media path and moves to AwaitingCaption.
func (s *Store) CompleteDownload(chatID int64, mediaPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok || sess.State != StateDownloading {
		return ErrNoSession
	}
	sess.MediaPath = mediaPath
	sess.State = StateAwaitingCaption
	sess.LastTouchedAt = s.now()
	return nil
}

// FailDownload drops a session whose download did not complete.
func (s *Store) FailDownload(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[chatID]; ok && sess.State == StateDownloading {
		s.removeMedia(sess)
		delete(s.sessions, chatID)
	}
}

// SetCaption stores caption text for a session awaiting one. The fade prompt
// sent afterwards is recorded with AddMessageToDelete.
func (s *Store) SetCaption(chatID int64, text string) CaptionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok {
		if _, busy := s.inflight[chatID]; busy {
			return CaptionIgnored
		}
		return CaptionNeedsMedia
	}
	if sess.State != StateAwaitingCaption {
		return CaptionIgnored
	}
	sess.CaptionText = text
	sess.State = StateAwaitingFadeChoice
	sess.LastTouchedAt = s.now()
	return CaptionAccepted
}

// AddMessageToDelete records a front-end message to retract after delivery.
func (s *Store) AddMessageToDelete(chatID int64, messageID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[chatID]; ok && messageID != 0 {
		sess.MessagesToDelete = append(sess.MessagesToDelete, messageID)
	}
}

// ChooseFade consumes the session's single fade choice. The session is
// removed from the store and the chat is marked in flight until Release.
// Any later choice for the same chat returns ErrExpired.
func (s *Store) ChooseFade(chatID int64, applyFade bool) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok || sess.State != StateAwaitingFadeChoice {
		return Session{}, ErrExpired
	}
	delete(s.sessions, chatID)
	s.inflight[chatID] = struct{}{}

	sess.ApplyFade = applyFade
	sess.State = StateDispatched
	sess.LastTouchedAt = s.now()

	snap := *sess
	snap.MessagesToDelete = append([]int(nil), sess.MessagesToDelete...)
	return snap, nil
}

// Release clears the in-flight mark set by ChooseFade.
func (s *Store) Release(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, chatID)
}

// Discard drops the chat's session and its media, if any.
func (s *Store) Discard(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok || sess.State == StateDownloading {
		return false
	}
	s.removeMedia(sess)
	delete(s.sessions, chatID)
	return true
}

// Get returns a copy of the chat's session.
func (s *Store) Get(chatID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[chatID]
	if !ok {
		return Session{}, false
	}
	snap := *sess
	snap.MessagesToDelete = append([]int(nil), sess.MessagesToDelete...)
	return snap, true
}

// StateOf reports the chat's current state. Chats without a session are
// Idle, or Dispatched while their render is in flight.
func (s *Store) StateOf(chatID int64) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[chatID]; ok {
		return sess.State
	}
	if _, busy := s.inflight[chatID]; busy {
		return StateDispatched
	}
	return StateIdle
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep evicts sessions untouched for longer than the timeout and returns
// the evicted chat ids.
func (s *Store) Sweep(now time.Time) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []int64
	for chatID, sess := range s.sessions {
		if now.Sub(sess.LastTouchedAt) <= s.timeout {
			continue
		}
		sess.State = StateEvicted
		s.removeMedia(sess)
		delete(s.sessions, chatID)
		evicted = append(evicted, chatID)
	}
	if len(evicted) > 0 {
		s.logger.Info().Int("evicted", len(evicted)).Int("remaining", len(s.sessions)).Msg("swept stale sessions")
	}
	return evicted
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			s.mu.Unlock()
			s.Sweep(now)
		}
	}
}

// removeMedia must be called with s.mu held.
func (s *Store) removeMedia(sess *Session) {
	if sess.MediaPath == "" {
		return
	}
	if err := os.Remove(sess.MediaPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Err(err).Str("path", sess.MediaPath).Msg("failed to remove session media")
	}
	sess.MediaPath = ""
}

func nonZero(id int) []int {
	if id == 0 {
		return nil
	}
	return []int{id}
}
