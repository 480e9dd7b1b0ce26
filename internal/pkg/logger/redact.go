package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactEmails masks every address in a recipient list.
func RedactEmails(emails []string) string {
	out := make([]string, len(emails))
	for i, e := range emails {
		out[i] = RedactEmail(e)
	}
	return strings.Join(out, ",")
}
