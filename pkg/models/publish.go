package models

// PublishRequest is the payload for publishing one note
type PublishRequest struct {
	Username string   `json:"username"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Images   []string `json:"images,omitempty"`
	Video    string   `json:"video,omitempty"`
	Cover    string   `json:"cover,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// ProgressEvent is one update streamed while a publish job runs
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message,omitempty"`
}

// StreamMessage frames messages on the publish websocket
type StreamMessage struct {
	Type     string         `json:"type"`
	Progress *ProgressEvent `json:"progress,omitempty"`
	Result   any            `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

const (
	StreamProgress = "progress"
	StreamResult   = "result"
	StreamError    = "error"
)
