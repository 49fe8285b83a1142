package notify

import (
	"encoding/json"
	"time"
)

// ChangeNotification tells an out-of-process reader that the commit log has
// advanced. It carries no record data; the reader replays the change cursor
// (or re-reads the snapshot) using the token.
type ChangeNotification struct {
	Token     string    `json:"token"`
	Kinds     []string  `json:"kinds"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChangeNotification creates a notification for a commit token and the
// record kinds it touched.
func NewChangeNotification(token string, kinds []string) *ChangeNotification {
	return &ChangeNotification{
		Token:     token,
		Kinds:     kinds,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the notification to JSON bytes
func (n *ChangeNotification) ToJSON() ([]byte, error) {
	return json.Marshal(n)
}

// ChangeNotificationFromJSON creates a notification from JSON bytes
func ChangeNotificationFromJSON(data []byte) (*ChangeNotification, error) {
	var n ChangeNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
