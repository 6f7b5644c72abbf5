package archiver

import "strings"

// isEmailMetadataKey reports whether key is an email's own metadata.json,
// i.e. cases/{caseId}/emails/{messageId}/metadata.json, as opposed to an
// attachment's metadata.json nested further down.
func isEmailMetadataKey(key string) bool {
	if !strings.HasSuffix(key, "/metadata.json") {
		return false
	}
	parts := strings.Split(key, "/")
	return len(parts) == 5 && parts[0] == "cases" && parts[2] == "emails"
}

// isAttachmentMetadataKey reports whether key is an attachment's
// metadata.json, i.e.
// cases/{caseId}/emails/{messageId}/attachments/{attachmentId}/metadata.json.
func isAttachmentMetadataKey(key string) bool {
	if !strings.HasSuffix(key, "/metadata.json") {
		return false
	}
	parts := strings.Split(key, "/")
	return len(parts) == 7 && parts[0] == "cases" && parts[2] == "emails" && parts[4] == "attachments"
}
