package dispatch

import (
	"errors"
	"strings"
)

// Recipient is one row of caller-supplied list data. The engine only reads
// it; the caller owns the slice for the duration of the job.
type Recipient struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
}

// Credentials authenticate one job against the relay. They are supplied per
// job by the caller and never persisted.
type Credentials struct {
	User string `json:"smtp_user"`
	Pass string `json:"smtp_pass"`
}

// Job groups everything one dispatch invocation needs: relay credentials,
// the HTML template with placeholder tokens, a subject used verbatim for
// every message, an optional bcc, and the ordered recipient list.
type Job struct {
	Credentials Credentials
	Template    string
	Subject     string
	BCC         string
	Recipients  []Recipient
}

// Per-recipient terminal statuses.
const (
	StatusSent                = "sent"
	StatusSentAfterReconnect  = "sent_after_reconnect"
	StatusFailed              = "failed"
	StatusSkippedMissingEmail = "skipped_missing_email"
)

// Outcome is the terminal result recorded for one recipient. Error is set
// only when Status is "failed" and carries the second (post-reconnect)
// attempt's error text.
type Outcome struct {
	Email  string `json:"email"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Result is the terminal return value of one job. Outcomes are in strict
// input order; SentCount counts only "sent" and "sent_after_reconnect".
type Result struct {
	SentCount int       `json:"sent_count"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Precondition errors. These reject a job before any relay interaction.
var (
	ErrMissingCredentials = errors.New("smtp credentials are required")
	ErrMissingRecipients  = errors.New("recipient list is required")
	ErrMissingTemplate    = errors.New("template is required")
)

// Validate checks the job preconditions: credentials, a recipient list
// (empty is allowed, absent is not) and a template must all be present.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.Credentials.User) == "" || j.Credentials.Pass == "" {
		return ErrMissingCredentials
	}
	if j.Recipients == nil {
		return ErrMissingRecipients
	}
	if j.Template == "" {
		return ErrMissingTemplate
	}
	return nil
}
