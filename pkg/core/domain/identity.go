package domain

// UnknownSession is used when an anonymous event carries no session id.
const UnknownSession = "unknown"

// Identity is who sent a tracking event. A registered identity wins over the
// session id; the two forms are never merged.
type Identity struct {
	UserID    string
	SessionID string
}

// Registered reports whether the event came with a valid user credential.
func (i Identity) Registered() bool {
	return i.UserID != ""
}

// VisitorKey returns "user_<id>" or "session_<sessionId>".
func (i Identity) VisitorKey() string {
	if i.Registered() {
		return "user_" + i.UserID
	}
	return "session_" + i.Session()
}

// Session returns the session id, falling back to UnknownSession.
func (i Identity) Session() string {
	if i.SessionID == "" {
		return UnknownSession
	}
	return i.SessionID
}
