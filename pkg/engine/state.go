package engine

import "net/url"

// ConnectionState is the session an adapter mirrors for its driver. Empty
// strings and a nil URL mean absent.
type ConnectionState struct {
	URL       *url.URL
	Namespace string
	Database  string
	Token     string
}

func (s ConnectionState) clone() ConnectionState {
	if s.URL != nil {
		u := *s.URL
		if s.URL.User != nil {
			user := *s.URL.User
			u.User = &user
		}
		s.URL = &u
	}
	return s
}
