package models

import "time"

// Channel is a delivery medium for bulletin notifications.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// Valid reports whether the channel is supported.
func (c Channel) Valid() bool {
	return c == ChannelSMS || c == ChannelEmail || c == ChannelWhatsApp
}

// RecipientRole describes the recipient's relation to the student.
type RecipientRole string

const (
	RecipientStudent RecipientRole = "student"
	RecipientParent  RecipientRole = "parent"
)

// NotificationRecipient is someone who receives bulletin notifications.
type NotificationRecipient struct {
	ID                string        `db:"id" json:"id"`
	StudentID         string        `db:"student_id" json:"student_id,omitempty"`
	DisplayName       string        `db:"display_name" json:"display_name"`
	Role              RecipientRole `db:"role" json:"role"`
	Email             *string       `db:"email" json:"email,omitempty"`
	Phone             *string       `db:"phone" json:"phone,omitempty"`
	WhatsApp          *string       `db:"whatsapp" json:"whatsapp,omitempty"`
	PreferredLanguage string        `db:"preferred_language" json:"preferred_language,omitempty"`
	Primary           bool          `db:"is_primary" json:"primary"`
}

// Contact returns the address for channel, or "" when the recipient has none.
func (r NotificationRecipient) Contact(channel Channel) string {
	var v *string
	switch channel {
	case ChannelSMS:
		v = r.Phone
	case ChannelEmail:
		v = r.Email
	case ChannelWhatsApp:
		v = r.WhatsApp
	}
	if v == nil {
		return ""
	}
	return *v
}

// NotificationResult is the immutable outcome of one (recipient, channel) attempt.
type NotificationResult struct {
	BulletinID     string    `json:"bulletin_id"`
	RecipientID    string    `json:"recipient_id"`
	Channel        Channel   `json:"channel"`
	IdempotencyKey string    `json:"idempotency_key"`
	Success        bool      `json:"success"`
	Duplicate      bool      `json:"duplicate,omitempty"`
	Error          string    `json:"error,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// SkippedAttempt records a (recipient, channel) pair that was not attempted.
type SkippedAttempt struct {
	BulletinID  string  `json:"bulletin_id"`
	RecipientID string  `json:"recipient_id"`
	Channel     Channel `json:"channel"`
	Reason      string  `json:"reason"`
}

// NotificationBatchResult aggregates the attempts of one dispatch.
type NotificationBatchResult struct {
	BulletinID         string               `json:"bulletin_id,omitempty"`
	SuccessfulSMS      int                  `json:"successful_sms"`
	SuccessfulEmail    int                  `json:"successful_email"`
	SuccessfulWhatsApp int                  `json:"successful_whatsapp"`
	Failed             int                  `json:"failed"`
	Duplicates         int                  `json:"duplicates"`
	Results            []NotificationResult `json:"results"`
	Skipped            []SkippedAttempt     `json:"skipped"`
	// MarkedSent reports whether this dispatch moved the bulletin to sent.
	MarkedSent bool `json:"marked_sent"`
}

// Successful counts successful attempts across channels.
func (r NotificationBatchResult) Successful() int {
	return r.SuccessfulSMS + r.SuccessfulEmail + r.SuccessfulWhatsApp
}

// BulkDispatchSummary is the top-level outcome of a bulk run.
type BulkDispatchSummary struct {
	ID         string                              `json:"id,omitempty"`
	Processed  int                                 `json:"processed"`
	Successful int                                 `json:"successful"`
	Failed     int                                 `json:"failed"`
	Results    []NotificationResult                `json:"results"`
	Bulletins  map[string]*NotificationBatchResult `json:"bulletins"`
	Errors     map[string]string                   `json:"errors,omitempty"`
	StartedAt  time.Time                           `json:"started_at"`
	FinishedAt time.Time                           `json:"finished_at"`
}

// BulkJobStatus tracks asynchronous bulk dispatches.
type BulkJobStatus string

const (
	BulkJobQueued   BulkJobStatus = "queued"
	BulkJobFinished BulkJobStatus = "finished"
	BulkJobFailed   BulkJobStatus = "failed"
)

// BulkJob is the cached state of an asynchronous bulk dispatch.
type BulkJob struct {
	ID        string               `json:"id"`
	Status    BulkJobStatus        `json:"status"`
	Summary   *BulkDispatchSummary `json:"summary,omitempty"`
	Error     string               `json:"error,omitempty"`
	CreatedBy string               `json:"created_by"`
	CreatedAt time.Time            `json:"created_at"`
}
