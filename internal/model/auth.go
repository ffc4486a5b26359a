package model

// User is the Discord identity returned with a login.
type User struct {
	Locale     string `json:"locale"`
	Verified   bool   `json:"verified"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Avatar     string `json:"avatar"`
	ID         int64  `json:"id"`
}

// Token is the OAuth token the backend issued for this device.
type Token struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// Auth is the bundle persisted in the vault between launches.
type Auth struct {
	User  User  `json:"user"`
	Token Token `json:"token"`
}

// ActionResult is the backend's answer to a plan action. Success=false is a
// business-rule denial (e.g. the plan filled up), not a transport error.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
