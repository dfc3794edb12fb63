//go:build !windows

package notification

import "log"

// ShowBlockingError logs the error; there is no portable modal dialog.
func ShowBlockingError(title, message string) {
	log.Printf("%s: %s", title, clip(message))
}
