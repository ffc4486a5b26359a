package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// The backend uses space-separated keys ("start time", "author id"), which
// struct tags cannot express, so events are encoded through raw maps.

// TimeLayout is ISO-8601 with millisecond fractional seconds.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

const (
	keyID          = "id"
	keyTitle       = "title"
	keyNotes       = "notes"
	keyStartTime   = "start time"
	keyCount       = "count"
	keyAuthorID    = "author id"
	keyInvitees    = "invitees"
	keyUserID      = "user id"
	keyStatus      = "status"
	keyNeedsFillIn = "needs fill in"
	keyAuthor      = "author"
	keyUserInvites = "user invites"
	keyRoleInvites = "role invites"
)

// FormatTime renders t in the backend's wire format, in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts RFC 3339 timestamps with or without fractional seconds
// and normalises them to UTC.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse start time %q: %w", s, err)
	}
	return t.UTC(), nil
}

type rawObject map[string]json.RawMessage

func (o rawObject) decode(key string, v any) error {
	raw, ok := o[key]
	if !ok {
		return fmt.Errorf("missing key %q", key)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}
	return nil
}

// decodeOptional is decode for a key that may be absent. A present key that
// does not decode is still an error.
func (o rawObject) decodeOptional(key string, v any) error {
	if _, ok := o[key]; !ok {
		return nil
	}
	return o.decode(key, v)
}

func (u EventUser) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		keyUserID:      u.ID,
		keyStatus:      u.Status,
		keyNeedsFillIn: u.NeedsFillIn,
	})
}

func (u *EventUser) UnmarshalJSON(data []byte) error {
	var o rawObject
	if err := json.Unmarshal(data, &o); err != nil {
		return err
	}
	var out EventUser
	if err := o.decode(keyUserID, &out.ID); err != nil {
		return err
	}
	if err := o.decode(keyStatus, &out.Status); err != nil {
		return err
	}
	if err := o.decode(keyNeedsFillIn, &out.NeedsFillIn); err != nil {
		return err
	}
	*u = out
	return nil
}

func (e Event) MarshalJSON() ([]byte, error) {
	users := e.Users
	if users == nil {
		users = []EventUser{}
	}
	return json.Marshal(map[string]any{
		keyID:        e.ID,
		keyTitle:     e.Title,
		keyNotes:     e.Notes,
		keyStartTime: FormatTime(e.StartTime),
		keyCount:     e.Count,
		keyAuthorID:  e.AuthorID,
		keyInvitees:  users,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var o rawObject
	if err := json.Unmarshal(data, &o); err != nil {
		return err
	}

	var (
		out   Event
		start string
	)
	if err := o.decode(keyID, &out.ID); err != nil {
		return err
	}
	if err := o.decode(keyTitle, &out.Title); err != nil {
		return err
	}
	if err := o.decode(keyNotes, &out.Notes); err != nil {
		return err
	}
	if err := o.decode(keyStartTime, &start); err != nil {
		return err
	}
	t, err := ParseTime(start)
	if err != nil {
		return err
	}
	out.StartTime = t
	if err := o.decode(keyCount, &out.Count); err != nil {
		return err
	}
	if err := o.decode(keyAuthorID, &out.AuthorID); err != nil {
		return err
	}
	if err := o.decode(keyInvitees, &out.Users); err != nil {
		return err
	}
	out.Users = dedupeRoster(out.Users)

	*e = out
	return nil
}

// DecodeEvents decodes a JSON array of events and sorts it.
func DecodeEvents(data []byte) ([]Event, error) {
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	if events == nil {
		events = []Event{}
	}
	SortEvents(events)
	return events, nil
}
