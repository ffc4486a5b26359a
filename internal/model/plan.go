package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ErrInvalidPlan wraps every CreatePlanRequest validation failure.
var ErrInvalidPlan = errors.New("invalid plan")

// CreatePlanRequest is the payload of POST /plans.
type CreatePlanRequest struct {
	StartTime time.Time
	Title     string `validate:"required,max=256"`
	Notes     string `validate:"max=4000"`
	// Count is the capacity; 0 and -1 both mean unlimited.
	Count        int     `validate:"gte=-1,lte=100"`
	Author       int64   `validate:"required"`
	UserInvitees []int64 `validate:"dive,required"`
	RoleInvitees []int64 `validate:"dive,required"`
}

// Validate normalises the request and checks it. A zero count is sent as -1.
func (r *CreatePlanRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	if r.Count == 0 {
		r.Count = -1
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	if r.StartTime.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrInvalidPlan)
	}
	if len(r.UserInvitees) == 0 && len(r.RoleInvitees) == 0 {
		return fmt.Errorf("%w: at least one user or role must be invited", ErrInvalidPlan)
	}
	return nil
}

func (r CreatePlanRequest) MarshalJSON() ([]byte, error) {
	users := r.UserInvitees
	if users == nil {
		users = []int64{}
	}
	roles := r.RoleInvitees
	if roles == nil {
		roles = []int64{}
	}
	return json.Marshal(map[string]any{
		keyStartTime:   FormatTime(r.StartTime),
		keyTitle:       r.Title,
		keyNotes:       r.Notes,
		keyCount:       r.Count,
		keyAuthor:      r.Author,
		keyUserInvites: users,
		keyRoleInvites: roles,
	})
}

func (r *CreatePlanRequest) UnmarshalJSON(data []byte) error {
	var o rawObject
	if err := json.Unmarshal(data, &o); err != nil {
		return err
	}
	var (
		out   CreatePlanRequest
		start string
	)
	if err := o.decode(keyStartTime, &start); err != nil {
		return err
	}
	t, err := ParseTime(start)
	if err != nil {
		return err
	}
	out.StartTime = t
	if err := o.decode(keyTitle, &out.Title); err != nil {
		return err
	}
	// notes, count, author and invitees are optional on input.
	optional := []struct {
		key string
		v   any
	}{
		{keyNotes, &out.Notes},
		{keyCount, &out.Count},
		{keyAuthor, &out.Author},
		{keyUserInvites, &out.UserInvitees},
		{keyRoleInvites, &out.RoleInvitees},
	}
	for _, f := range optional {
		if err := o.decodeOptional(f.key, f.v); err != nil {
			return err
		}
	}
	*r = out
	return nil
}
