package session

// View is the browser facing projection of a payload. Tokens stay server side.
type View struct {
	User      *User  `json:"user,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	HasAccess bool   `json:"hasAccess"`
	Error     string `json:"error,omitempty"`
}

// Project derives the View of p. It returns nil for an anonymous request.
func Project(p *Payload) *View {
	if p == nil {
		return nil
	}
	return &View{
		User:      p.User,
		ExpiresAt: p.ExpiresAt,
		HasAccess: p.AccessToken != "",
		Error:     p.Error,
	}
}
