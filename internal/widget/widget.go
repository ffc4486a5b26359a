package widget

import (
	"fmt"
	"sort"
	"time"

	"plannerbot/internal/model"
)

// maxAvatars is how many faces fit on the widget row before it shows an
// overflow marker instead.
const maxAvatars = 7

// DayGroup is the plans starting on one local calendar day.
type DayGroup struct {
	Day    time.Time
	Events []model.Event
}

// NextEventToday returns the first plan the user hosts or has accepted that
// starts on now's local calendar day, or nil.
func NextEventToday(events []model.Event, userID int64, now time.Time) *model.Event {
	dayStart := startOfDay(now)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var best *model.Event
	for i := range events {
		e := events[i]
		if !e.IsAuthorOrAccepted(userID) {
			continue
		}
		if e.StartTime.Before(dayStart) || !e.StartTime.Before(dayEnd) {
			continue
		}
		if best == nil || model.EventLess(e, *best) {
			c := e.Clone()
			best = &c
		}
	}
	return best
}

// GroupByDay buckets events by calendar day in loc. Days are ascending and
// each day keeps the order events were given in.
func GroupByDay(events []model.Event, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}
	index := map[time.Time]int{}
	var groups []DayGroup
	for _, e := range events {
		day := startOfDay(e.StartTime.In(loc))
		i, ok := index[day]
		if !ok {
			i = len(groups)
			index[day] = i
			groups = append(groups, DayGroup{Day: day})
		}
		groups[i].Events = append(groups[i].Events, e)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].Day.Before(groups[b].Day)
	})
	return groups
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Entry is what the widget renders at one moment.
type Entry struct {
	Date     time.Time    `json:"date"`
	LoggedIn bool         `json:"logged_in"`
	Event    *model.Event `json:"event,omitempty"`
	// TimeLabel is the start time in the widget's zone, e.g. "8:00PM".
	TimeLabel string `json:"time_label,omitempty"`
	Gauge     string `json:"gauge,omitempty"`
	// Fill is accepted/count in [0,1]; zero for unlimited plans.
	Fill        float64  `json:"fill"`
	Avatars     []string `json:"avatars,omitempty"`
	MoreAvatars bool     `json:"more_avatars,omitempty"`
}

// NewEntry builds the widget entry for now. auth is nil when logged out.
func NewEntry(now time.Time, auth *model.Auth, events []model.Event, users []model.UserProfile) Entry {
	entry := Entry{Date: now, LoggedIn: auth != nil}
	if auth == nil {
		return entry
	}
	e := NextEventToday(events, auth.User.ID, now)
	if e == nil {
		return entry
	}

	entry.Event = e
	entry.TimeLabel = e.StartTime.In(now.Location()).Format("3:04PM")
	accepted := e.AcceptedCount()
	if e.Unlimited() {
		entry.Gauge = "Not limited"
	} else {
		entry.Gauge = fmt.Sprintf("%d/%d accepted", accepted, e.Count)
		entry.Fill = float64(accepted) / float64(e.Count)
		if entry.Fill > 1 {
			entry.Fill = 1
		}
	}

	avatars := make(map[int64]string, len(users))
	for _, u := range users {
		avatars[u.ID] = u.AvatarURL()
	}
	ids := e.AcceptedAndOwnerIDs()
	if len(ids) > maxAvatars {
		ids = ids[:maxAvatars-1]
		entry.MoreAvatars = true
	}
	for _, id := range ids {
		if url := avatars[id]; url != "" {
			entry.Avatars = append(entry.Avatars, url)
		}
	}
	return entry
}
