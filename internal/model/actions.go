package model

import (
	"fmt"
	"strings"
)

// Action is something a user can do to a plan from its detail view.
type Action int

const (
	ActionSendMessage Action = iota
	ActionDeleteEvent
	ActionAccept
	ActionMaybe
	ActionDeny
	ActionDropout
	ActionWaitlist
	ActionRequestFillIn
	ActionFillIn
)

// Actions lists every action in display order.
var Actions = []Action{
	ActionSendMessage,
	ActionDeleteEvent,
	ActionAccept,
	ActionMaybe,
	ActionDeny,
	ActionDropout,
	ActionWaitlist,
	ActionRequestFillIn,
	ActionFillIn,
}

var actionNames = map[Action]string{
	ActionSendMessage:   "send-message",
	ActionDeleteEvent:   "delete-event",
	ActionAccept:        "accept",
	ActionMaybe:         "maybe",
	ActionDeny:          "deny",
	ActionDropout:       "dropout",
	ActionWaitlist:      "waitlist",
	ActionRequestFillIn: "request-fill-in",
	ActionFillIn:        "fill-in",
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction maps a name produced by String back to its Action.
func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for a, n := range actionNames {
		if n == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

func (a Action) MarshalText() ([]byte, error) {
	if _, ok := actionNames[a]; !ok {
		return nil, fmt.Errorf("unknown action %d", int(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	v, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Buttons maps every Action to whether it is currently enabled.
type Buttons map[Action]bool

func (b Buttons) Allowed(a Action) bool {
	return b[a]
}

// Enabled lists the enabled actions in display order.
func (b Buttons) Enabled() []Action {
	out := make([]Action, 0, len(Actions))
	for _, a := range Actions {
		if b[a] {
			out = append(out, a)
		}
	}
	return out
}

// EligibleActions computes which actions requesterID may take on e.
//
// SendMessage and DeleteEvent belong to the author regardless of roster
// state. The rest depend only on the requester's own status, whether the plan
// is full, and whether any slot is flagged for a fill-in. Unlimited plans are
// never full, so waitlist and fill-in are unreachable for them.
func EligibleActions(e Event, requesterID int64) Buttons {
	b := make(Buttons, len(Actions))
	for _, a := range Actions {
		b[a] = false
	}

	isAuthor := requesterID == e.AuthorID
	b[ActionSendMessage] = isAuthor
	b[ActionDeleteEvent] = isAuthor

	status, invited := e.StatusOf(requesterID)
	if !invited {
		return b
	}

	planFilled := e.IsFull()
	planNeedsFillIn := e.NeedsFillIn()

	switch status {
	case StatusDeciding:
		b[ActionAccept] = !planFilled
		b[ActionMaybe] = !planFilled
		b[ActionDeny] = !planFilled
		b[ActionWaitlist] = planFilled
		b[ActionFillIn] = planFilled && planNeedsFillIn
	case StatusAccepted:
		b[ActionDropout] = true
		b[ActionRequestFillIn] = true
	case StatusMaybe:
		b[ActionAccept] = !planFilled
		b[ActionDeny] = !planFilled
		b[ActionWaitlist] = planFilled
		b[ActionFillIn] = planFilled && planNeedsFillIn
	case StatusWaitlisted:
		b[ActionDropout] = true
	case StatusFillIn, StatusDeclined:
		// No self-service actions.
	}
	return b
}
