package model

import (
	"sort"
	"time"
)

// EventUser is one invitee's row in a plan's roster.
type EventUser struct {
	ID     int64
	Status Status
	// NeedsFillIn is set by the author to mark the slot as open for a fill-in.
	NeedsFillIn bool
}

// Event is a plan as the backend sends it. All derived views are computed on
// read; nothing here is cached.
type Event struct {
	ID        int64
	Title     string
	Notes     string
	StartTime time.Time
	// Count is the accepted-user capacity. Zero or negative means unlimited.
	Count    int
	AuthorID int64
	Users    []EventUser
}

// Unlimited reports whether the plan has no capacity limit.
func (e Event) Unlimited() bool {
	return e.Count <= 0
}

func (e Event) AcceptedUsers() []EventUser {
	return e.usersWith(StatusAccepted)
}

func (e Event) FillinedUsers() []EventUser {
	return e.usersWith(StatusFillIn)
}

func (e Event) usersWith(s Status) []EventUser {
	out := make([]EventUser, 0, len(e.Users))
	for _, u := range e.Users {
		if u.Status == s {
			out = append(out, u)
		}
	}
	return out
}

func (e Event) AcceptedCount() int {
	n := 0
	for _, u := range e.Users {
		if u.Status == StatusAccepted {
			n++
		}
	}
	return n
}

// IsFull reports whether a capped plan has reached its capacity.
func (e Event) IsFull() bool {
	return e.Count > 0 && e.AcceptedCount() >= e.Count
}

// NeedsFillIn reports whether any roster slot is flagged as open.
func (e Event) NeedsFillIn() bool {
	for _, u := range e.Users {
		if u.NeedsFillIn {
			return true
		}
	}
	return false
}

// StatusOf returns the roster status of userID. ok is false when the user
// is not on the roster, which is distinct from StatusDeclined.
func (e Event) StatusOf(userID int64) (s Status, ok bool) {
	for _, u := range e.Users {
		if u.ID == userID {
			return u.Status, true
		}
	}
	return "", false
}

// SortedRoster returns a copy of the roster ordered by status rank. Entries
// with the same status keep their relative order.
func (e Event) SortedRoster() []EventUser {
	out := make([]EventUser, len(e.Users))
	copy(out, e.Users)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Status.Less(out[j].Status)
	})
	return out
}

// AcceptedAndOwnerIDs lists the author followed by every accepted user,
// without duplicates. Used to decide whose avatars to prefetch.
func (e Event) AcceptedAndOwnerIDs() []int64 {
	ids := []int64{e.AuthorID}
	seen := map[int64]bool{e.AuthorID: true}
	for _, u := range e.Users {
		if u.Status != StatusAccepted || seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		ids = append(ids, u.ID)
	}
	return ids
}

func (e Event) IsHostedBy(userID int64) bool {
	return e.AuthorID == userID
}

func (e Event) IsInvited(userID int64) bool {
	_, ok := e.StatusOf(userID)
	return ok
}

func (e Event) IsAuthorOrAccepted(userID int64) bool {
	if e.AuthorID == userID {
		return true
	}
	s, ok := e.StatusOf(userID)
	return ok && s == StatusAccepted
}

// Clone returns a deep copy so callers may hold an Event across updates.
func (e Event) Clone() Event {
	c := e
	c.Users = make([]EventUser, len(e.Users))
	copy(c.Users, e.Users)
	return c
}

// EventLess orders plans by start time, then by id.
func EventLess(a, b Event) bool {
	if !a.StartTime.Equal(b.StartTime) {
		return a.StartTime.Before(b.StartTime)
	}
	return a.ID < b.ID
}

// SortEvents sorts events in place, ascending by start time then id.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return EventLess(events[i], events[j])
	})
}

// dedupeRoster keeps one row per user id: the first row's position with the
// last row's values.
func dedupeRoster(users []EventUser) []EventUser {
	index := make(map[int64]int, len(users))
	out := make([]EventUser, 0, len(users))
	for _, u := range users {
		if i, ok := index[u.ID]; ok {
			out[i] = u
			continue
		}
		index[u.ID] = len(out)
		out = append(out, u)
	}
	return out
}
