package model

import (
	"encoding/json"
	"fmt"
)

// Status is one invitee's response to a plan. The string values are the
// backend's wire spellings.
type Status string

const (
	StatusDeciding   Status = "DECIDING"
	StatusAccepted   Status = "ACCEPTED"
	StatusMaybe      Status = "MAYBED"
	StatusWaitlisted Status = "WAITLISTED"
	StatusFillIn     Status = "FILLINED"
	StatusDeclined   Status = "DECLINED"
)

// statusRank is the roster display order, lowest first. It is independent
// of declaration order and of the wire strings.
var statusRank = map[Status]int{
	StatusAccepted:   0,
	StatusFillIn:     1,
	StatusMaybe:      2,
	StatusWaitlisted: 3,
	StatusDeciding:   4,
	StatusDeclined:   5,
}

// Rank returns the display rank of s. Unknown values sort last.
func Rank(s Status) int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return len(statusRank)
}

// Less reports whether s is shown before other.
func (s Status) Less(other Status) bool {
	return Rank(s) < Rank(other)
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Label is the human-readable form used by the widget and web UI.
func (s Status) Label() string {
	switch s {
	case StatusDeciding:
		return "Deciding"
	case StatusAccepted:
		return "Accepted"
	case StatusMaybe:
		return "Maybe"
	case StatusWaitlisted:
		return "Waitlisted"
	case StatusFillIn:
		return "Fill in"
	case StatusDeclined:
		return "Declined"
	default:
		return string(s)
	}
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v := Status(raw)
	if !v.Valid() {
		return fmt.Errorf("unknown status %q", raw)
	}
	*s = v
	return nil
}
