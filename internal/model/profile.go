package model

import (
	"encoding/json"
	"fmt"
)

// UserProfile is a member of the Discord server as listed by /plan/users.
type UserProfile struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Avatar   *string `json:"avatar"`
}

// AvatarURL returns the Discord CDN URL of the user's avatar, or "" if the
// user has none.
func (p UserProfile) AvatarURL() string {
	if p.Avatar == nil || *p.Avatar == "" {
		return ""
	}
	return fmt.Sprintf("https://cdn.discordapp.com/avatars/%d/%s.png", p.ID, *p.Avatar)
}

// RGB is a role color with 0-255 channels.
type RGB struct {
	Red   float64 `json:"red"`
	Green float64 `json:"green"`
	Blue  float64 `json:"blue"`
}

// Hex renders the color as #rrggbb.
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", clampByte(c.Red), clampByte(c.Green), clampByte(c.Blue))
}

func clampByte(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return int(v + 0.5)
	}
}

// RoleProfile is a Discord role that can be invited as a whole.
type RoleProfile struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color *RGB   `json:"color,omitempty"`
}

// UnmarshalJSON tolerates a missing or malformed color, which decodes to nil.
func (r *RoleProfile) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID    int64           `json:"id"`
		Name  string          `json:"name"`
		Color json.RawMessage `json:"color"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := RoleProfile{ID: raw.ID, Name: raw.Name}

	var c struct {
		Red   *float64 `json:"red"`
		Green *float64 `json:"green"`
		Blue  *float64 `json:"blue"`
	}
	if len(raw.Color) > 0 && json.Unmarshal(raw.Color, &c) == nil &&
		c.Red != nil && c.Green != nil && c.Blue != nil {
		out.Color = &RGB{Red: *c.Red, Green: *c.Green, Blue: *c.Blue}
	}

	*r = out
	return nil
}
