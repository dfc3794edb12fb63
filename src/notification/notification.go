// Package notification reports fatal errors to a user who may not be looking
// at a terminal.
package notification

import "strings"

// maxMessage bounds the dialog body; longer messages are cut with "...".
const maxMessage = 600

func clip(message string) string {
	message = strings.TrimSpace(message)
	if len(message) <= maxMessage {
		return message
	}
	return message[:maxMessage] + "..."
}
