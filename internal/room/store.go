// Package room holds the in-memory authority over meetings: who is in
// each meeting, the latest liveness score per participant, and a short
// per-participant score history. Meetings are created lazily on first join
// and deleted the instant they empty out.
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/MaxwellShipley/OS-zoom-app/internal/models"
	"github.com/MaxwellShipley/OS-zoom-app/internal/protocol"
)

// HistoryCap bounds the per-participant score history. The oldest record is
// evicted first.
const HistoryCap = 5

var (
	ErrUnknownMeeting     = errors.New("room: unknown meeting")
	ErrUnknownParticipant = errors.New("room: user not in meeting")
)

// participant is a meeting member and the connection that owns the slot.
type participant struct {
	info models.Participant
	conn protocol.Conn
}

// meeting guards its own state so activity in one meeting never blocks
// another.
type meeting struct {
	mu           sync.Mutex
	gone         bool // set when the meeting is deleted out of the map
	participants []*participant
	scores       map[string]models.ScoreRecord
	history      map[string][]models.ScoreRecord
}

func newMeeting() *meeting {
	return &meeting{
		scores:  make(map[string]models.ScoreRecord),
		history: make(map[string][]models.ScoreRecord),
	}
}

func (m *meeting) find(userID string) (int, *participant) {
	for i, p := range m.participants {
		if p.info.UserID == userID {
			return i, p
		}
	}
	return -1, nil
}

func (m *meeting) snapshot() ([]models.Participant, map[string]models.ScoreRecord) {
	infos := make([]models.Participant, len(m.participants))
	for i, p := range m.participants {
		infos[i] = p.info
	}
	scores := make(map[string]models.ScoreRecord, len(m.scores))
	for userID, rec := range m.scores {
		scores[userID] = rec
	}
	return infos, scores
}

func (m *meeting) conns(exceptConnID string) []protocol.Conn {
	var out []protocol.Conn
	for _, p := range m.participants {
		if p.conn.ID() == exceptConnID {
			continue
		}
		out = append(out, p.conn)
	}
	return out
}

// Store is the meeting map. The outer lock guards the map itself; each
// meeting carries its own lock.
type Store struct {
	mu       sync.RWMutex
	meetings map[string]*meeting
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		meetings: make(map[string]*meeting),
		now:      time.Now,
	}
}

// JoinResult reports the outcome of a join: whether the user is a new
// participant, the effective display name, a full snapshot for the joiner,
// and the other connections to notify.
type JoinResult struct {
	IsNew        bool
	UserName     string
	Participants []models.Participant
	Scores       map[string]models.ScoreRecord
	Others       []protocol.Conn
}

// Join adds userID to the meeting, creating the meeting if needed. A user
// already present keeps their single slot: the owning connection and
// display name are updated instead (the reconnect case).
func (s *Store) Join(meetingID, userID, userName string, conn protocol.Conn) JoinResult {
	for {
		s.mu.Lock()
		m, ok := s.meetings[meetingID]
		if !ok {
			m = newMeeting()
			s.meetings[meetingID] = m
		}
		s.mu.Unlock()

		m.mu.Lock()
		if m.gone {
			// Deleted between map lookup and lock acquisition; retry
			// against a fresh meeting record.
			m.mu.Unlock()
			continue
		}

		var res JoinResult
		if _, p := m.find(userID); p != nil {
			p.conn = conn
			if userName != "" {
				p.info.UserName = userName
			}
			res.UserName = p.info.UserName
		} else {
			if userName == "" {
				userName = "Unknown"
			}
			m.participants = append(m.participants, &participant{
				info: models.Participant{UserID: userID, UserName: userName, JoinedAt: s.now()},
				conn: conn,
			})
			res.IsNew = true
			res.UserName = userName
		}
		res.Participants, res.Scores = m.snapshot()
		res.Others = m.conns(conn.ID())
		m.mu.Unlock()
		return res
	}
}

// Participant returns the membership record for userID in meetingID.
func (s *Store) Participant(meetingID, userID string) (models.Participant, bool) {
	s.mu.RLock()
	m := s.meetings[meetingID]
	s.mu.RUnlock()
	if m == nil {
		return models.Participant{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gone {
		return models.Participant{}, false
	}
	if _, p := m.find(userID); p != nil {
		return p.info, true
	}
	return models.Participant{}, false
}

// RecordScore overwrites the participant's scoreboard entry and appends to
// their bounded history. Values are expected to be validated and quantized
// by the caller before they get here. Returns the stored record and every
// connection currently in the meeting, for the broadcast.
func (s *Store) RecordScore(meetingID, userID string, prob1 float64, prob2 *float64, timestamp string) (models.ScoreRecord, []protocol.Conn, error) {
	s.mu.RLock()
	m := s.meetings[meetingID]
	s.mu.RUnlock()
	if m == nil {
		return models.ScoreRecord{}, nil, ErrUnknownMeeting
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gone {
		return models.ScoreRecord{}, nil, ErrUnknownMeeting
	}
	_, p := m.find(userID)
	if p == nil {
		return models.ScoreRecord{}, nil, ErrUnknownParticipant
	}

	rec := models.ScoreRecord{
		UserID:    userID,
		UserName:  p.info.UserName,
		Prob1:     prob1,
		Prob2:     prob2,
		Timestamp: timestamp,
	}
	m.scores[userID] = rec

	hist := append(m.history[userID], rec)
	if len(hist) > HistoryCap {
		hist = hist[len(hist)-HistoryCap:]
	}
	m.history[userID] = hist

	return rec, m.conns(""), nil
}

// History returns a copy of the bounded score history for one participant.
// Retained for audit and debugging; not part of the broadcast path.
func (s *Store) History(meetingID, userID string) []models.ScoreRecord {
	s.mu.RLock()
	m := s.meetings[meetingID]
	s.mu.RUnlock()
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := m.history[userID]
	out := make([]models.ScoreRecord, len(hist))
	copy(out, hist)
	return out
}

// Membership names one meeting a connection currently owns a slot in.
type Membership struct {
	MeetingID string
	UserID    string
}

// MembershipsOf lists every meeting slot owned by conn. Used by the
// disconnect failsafe while the memberships are still intact.
func (s *Store) MembershipsOf(conn protocol.Conn) []Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Membership
	for meetingID, m := range s.meetings {
		m.mu.Lock()
		for _, p := range m.participants {
			if p.conn.ID() == conn.ID() {
				out = append(out, Membership{MeetingID: meetingID, UserID: p.info.UserID})
			}
		}
		m.mu.Unlock()
	}
	return out
}

// Departure reports one participant removed by Leave, with the connections
// still in the meeting so the caller can broadcast the departure. Remaining
// is empty when the meeting emptied out and was deleted.
type Departure struct {
	MeetingID      string
	Participant    models.Participant
	Remaining      []protocol.Conn
	RemainingCount int
}

// Leave removes every participant slot owned by conn. A meeting left with
// zero participants is deleted entirely, scoreboard and history included.
// Calling Leave again for an already-removed connection is a no-op.
func (s *Store) Leave(conn protocol.Conn) []Departure {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Departure
	for meetingID, m := range s.meetings {
		m.mu.Lock()
		idx := -1
		for i, p := range m.participants {
			if p.conn.ID() == conn.ID() {
				idx = i
				break
			}
		}
		if idx < 0 {
			m.mu.Unlock()
			continue
		}
		removed := m.participants[idx]
		m.participants = append(m.participants[:idx], m.participants[idx+1:]...)
		delete(m.scores, removed.info.UserID)
		delete(m.history, removed.info.UserID)

		dep := Departure{
			MeetingID:      meetingID,
			Participant:    removed.info,
			RemainingCount: len(m.participants),
		}
		if len(m.participants) == 0 {
			m.gone = true
			delete(s.meetings, meetingID)
		} else {
			dep.Remaining = m.conns("")
		}
		m.mu.Unlock()
		out = append(out, dep)
	}
	return out
}

// Len reports the number of live meetings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.meetings)
}

// Snapshot returns the participants and scoreboard of one meeting for
// read-only consumers. The bool reports whether the meeting exists.
func (s *Store) Snapshot(meetingID string) ([]models.Participant, map[string]models.ScoreRecord, bool) {
	s.mu.RLock()
	m := s.meetings[meetingID]
	s.mu.RUnlock()
	if m == nil {
		return nil, nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gone {
		return nil, nil, false
	}
	participants, scores := m.snapshot()
	return participants, scores, true
}

// Totals is an aggregate view across all live meetings.
type Totals struct {
	Meetings     int
	Participants int
	Scores       int
	LastJoin     *time.Time
}

// Stats walks the meeting map and counts everything. Cheap at relay scale;
// the map holds at most a few hundred meetings.
func (s *Store) Stats() Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := Totals{Meetings: len(s.meetings)}
	for _, m := range s.meetings {
		m.mu.Lock()
		t.Participants += len(m.participants)
		t.Scores += len(m.scores)
		for _, p := range m.participants {
			joined := p.info.JoinedAt
			if t.LastJoin == nil || joined.After(*t.LastJoin) {
				j := joined
				t.LastJoin = &j
			}
		}
		m.mu.Unlock()
	}
	return t
}
