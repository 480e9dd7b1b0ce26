package sending

import (
	"fmt"
	"strings"

	"github.com/ignite/mailengine/internal/domain"
)

const testSubjectPrefix = "[TEST -> "

// ApplyTestMode returns a copy of msg redirected to the test recipient with
// the original recipients kept in the subject. The input is never modified.
// Applying it to an already redirected message changes nothing.
func ApplyTestMode(msg domain.EmailMessage, tm domain.TestMode) domain.EmailMessage {
	out := msg.Clone()
	if !tm.Active() {
		return out
	}
	redirect := strings.TrimSpace(tm.Recipient)
	if !strings.HasPrefix(out.Subject, testSubjectPrefix) {
		out.Subject = fmt.Sprintf("%s%s] %s", testSubjectPrefix, out.To.String(), out.Subject)
	}
	out.To = domain.Recipients{redirect}
	return out
}
