package models

import "time"

// HeaderValue is a captured email header value, which upstream may deliver
// as a single string or a multi-valued ordered list.
type HeaderValue struct {
	Single string   `json:"single,omitempty"`
	Multi  []string `json:"multi,omitempty"`
}

// EmailMetadata is the canonical metadata envelope for one message.
type EmailMetadata struct {
	Subject         string    `json:"subject"`
	From            string    `json:"from"`
	To              []string  `json:"to,omitempty"`
	CC              []string  `json:"cc,omitempty"`
	BCC             []string  `json:"bcc,omitempty"`
	SentAt          time.Time `json:"sentAt"`
	ReceivedAt      time.Time `json:"receivedAt"`
	Importance      string    `json:"importance,omitempty"`
	IsRead          bool      `json:"isRead"`
	IsDraft         bool      `json:"isDraft"`
	ConversationID  string    `json:"conversationId,omitempty"`
	AttachmentCount int       `json:"attachmentCount"`
}

// EmailBodies carries whichever body forms the upstream provided. Any subset
// may be present; at least one must be non-empty if the upstream supplied
// any body at all.
type EmailBodies struct {
	HTML string `json:"html,omitempty"`
	Text string `json:"text,omitempty"`
	RTF  string `json:"rtf,omitempty"`
}

// HasAny reports whether at least one body form is populated.
func (b EmailBodies) HasAny() bool {
	return b.HTML != "" || b.Text != "" || b.RTF != ""
}

// Attachment is one file attached to a message.
type Attachment struct {
	ID              string `json:"id"`
	Name            string `json:"name"` // sanitized
	ContentType     string `json:"contentType"`
	Size            int64  `json:"size"`
	IsInline        bool   `json:"isInline"`
	ContentID       string `json:"contentId,omitempty"`
	ContentLocation string `json:"contentLocation,omitempty"`
	Content         []byte `json:"-"`
}

// ArchivedEmail is the canonical persisted form of one message.
type ArchivedEmail struct {
	MessageID      string                 `json:"messageId"`
	CaseID         string                 `json:"caseId"`
	Metadata       EmailMetadata          `json:"metadata"`
	Bodies         EmailBodies            `json:"bodies"`
	Headers        map[string]HeaderValue `json:"headers,omitempty"`
	Attachments    []Attachment           `json:"attachments,omitempty"`
	StoredAt       time.Time              `json:"storedAt"`
	StorageVersion int                    `json:"storageVersion"`
	Checksum       string                 `json:"checksum,omitempty"`
}

// Fingerprint returns the (messageId, caseId) tuple that uniquely identifies
// an archived message.
func (e *ArchivedEmail) Fingerprint() string {
	return e.CaseID + "/" + e.MessageID
}

// FetchResult is what the Mail-Fetcher returns for one message: content plus
// metadata, in canonical form.
type FetchResult struct {
	Bodies      EmailBodies
	Headers     map[string]HeaderValue
	Metadata    EmailMetadata
	Attachments []Attachment
}
