package ics

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"plannerbot/internal/model"
)

// ExportOptions controls how plans are rendered as VEVENTs.
type ExportOptions struct {
	// UserID selects whose roster status maps to the event STATUS.
	UserID int64
	// Duration is the length given to every plan, which has only a start.
	// Zero means one hour.
	Duration time.Duration
	// Name is the calendar display name.
	Name string
	// Now stamps DTSTAMP. Zero means time.Now.
	Now time.Time
}

// Export renders events as a VCALENDAR.
func Export(events []model.Event, opts ExportOptions) string {
	if opts.Duration <= 0 {
		opts.Duration = time.Hour
	}
	if opts.Name == "" {
		opts.Name = "Plans"
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	cal := ical.NewCalendarFor("plannerbot")
	cal.SetMethod(ical.MethodPublish)
	cal.SetName(opts.Name)
	cal.SetXWRCalName(opts.Name)
	cal.SetRefreshInterval("PT15M")

	for _, e := range events {
		ve := cal.AddEvent(EventUID(e.ID))
		ve.SetDtStampTime(opts.Now)
		ve.SetStartAt(e.StartTime)
		ve.SetEndAt(e.StartTime.Add(opts.Duration))
		ve.SetSummary(e.Title)
		ve.SetDescription(describe(e))
		ve.SetStatus(statusFor(e, opts.UserID))
		if e.IsHostedBy(opts.UserID) {
			ve.AddCategory("Hosting")
		}
	}
	return cal.Serialize()
}

// EventUID is the stable VEVENT UID of a plan.
func EventUID(id int64) string {
	return fmt.Sprintf("plan-%d@plannerbot", id)
}

func describe(e model.Event) string {
	var b strings.Builder
	if e.Notes != "" {
		b.WriteString(e.Notes)
		b.WriteString("\n\n")
	}
	if e.Unlimited() {
		fmt.Fprintf(&b, "%d accepted", e.AcceptedCount())
	} else {
		fmt.Fprintf(&b, "%d/%d accepted", e.AcceptedCount(), e.Count)
	}
	if n := len(e.FillinedUsers()); n > 0 {
		fmt.Fprintf(&b, ", %d filling in", n)
	}
	return b.String()
}

func statusFor(e model.Event, userID int64) ical.ObjectStatus {
	if e.IsHostedBy(userID) {
		return ical.ObjectStatusConfirmed
	}
	s, ok := e.StatusOf(userID)
	if !ok {
		return ical.ObjectStatusTentative
	}
	switch s {
	case model.StatusAccepted, model.StatusFillIn:
		return ical.ObjectStatusConfirmed
	case model.StatusDeclined:
		return ical.ObjectStatusCancelled
	default:
		return ical.ObjectStatusTentative
	}
}
