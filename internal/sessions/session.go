package sessions

import "time"

// Session is a pending verification attempt: the user must place Code in the
// motto of the Habbo account they claim.
type Session struct {
	UserID    string    `json:"userId"`
	Code      string    `json:"code"`
	Habbo     string    `json:"habbo"`
	CreatedAt time.Time `json:"createdAt"`
}

// Age reports how long the session has existed at now.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}
