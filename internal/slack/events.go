package slack

// Events API payload types, covering only the shapes the relay consumes.

// File is a file attachment on a file-share message.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Filetype string `json:"filetype"`
}

// MessageEvent is the inner event of a message callback.
type MessageEvent struct {
	Type     string `json:"type"`
	Channel  string `json:"channel"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
	Files    []File `json:"files,omitempty"`
}

// ThreadDestination is the thread replies should land in: the existing
// thread when the message is already threaded, otherwise a new thread
// rooted at the message itself.
func (e MessageEvent) ThreadDestination() string {
	if e.ThreadTS != "" {
		return e.ThreadTS
	}
	return e.TS
}

// EventCallback is the outer Events API envelope. Challenge is only set on
// url_verification requests.
type EventCallback struct {
	Type      string       `json:"type"`
	Challenge string       `json:"challenge,omitempty"`
	Event     MessageEvent `json:"event"`
}
