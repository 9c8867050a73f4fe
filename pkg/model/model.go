package model

// SendJob is the queue message for one personalized email.
type SendJob struct {
	SessionID int64  `json:"session_id"`
	ContactID int64  `json:"contact_id"`
	Address   string `json:"address"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}
