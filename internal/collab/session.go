package collab

import "time"

// AddParticipant appends a new participant, or reactivates an inactive entry
// for the same user so a rejoin never duplicates a roster row. Returns
// ErrSessionFull when the active roster is already at capacity.
func (s *Session) AddParticipant(userID, username string, role Role, now time.Time) error {
	for i := range s.Participants {
		if s.Participants[i].UserID != userID {
			continue
		}
		if !s.Participants[i].IsActive && s.activeCount() >= s.MaxParticipants {
			return ErrSessionFull
		}
		s.Participants[i].IsActive = true
		s.Participants[i].LastActivity = now
		if username != "" {
			s.Participants[i].Username = username
		}
		s.LastActivity = now
		return nil
	}

	if s.activeCount() >= s.MaxParticipants {
		return ErrSessionFull
	}
	s.Participants = append(s.Participants, Participant{
		UserID:       userID,
		Username:     username,
		Role:         role,
		JoinedAt:     now,
		LastActivity: now,
		IsActive:     true,
	})
	s.LastActivity = now
	return nil
}

// RemoveParticipant marks the participant inactive. The row is kept so history
// and rejoin reactivation still work.
func (s *Session) RemoveParticipant(userID string, now time.Time) {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			s.Participants[i].IsActive = false
			s.Participants[i].LastActivity = now
		}
	}
	s.LastActivity = now
}

func (s *Session) ActiveParticipants() []Participant {
	out := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out
}

func (s *Session) ParticipantCount() int {
	return s.activeCount()
}

// End marks the session inactive and timestamps it. History is kept.
func (s *Session) End(now time.Time) {
	s.IsActive = false
	s.EndedAt = &now
	s.LastActivity = now
}

func (s *Session) activeCount() int {
	n := 0
	for _, p := range s.Participants {
		if p.IsActive {
			n++
		}
	}
	return n
}
