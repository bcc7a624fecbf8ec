// Package replies holds the user-facing reply texts.
package replies

import (
	"fmt"

	"github.com/JakeFAU/pinsave/internal/media"
)

// Fixed replies.
const (
	NoLink     = "Send a link in one message and I will fetch the media for you."
	Processing = "Processing started..."
	Done       = "Done."
	Failed     = "Sorry, I could not process that link. Please try again later."
	Overloaded = "The queue is full right now. Please try again in a few minutes."
	UserFull   = "You already have the maximum number of links in the queue. Wait for them to finish."
)

// Cooldown asks the requester to wait n seconds.
func Cooldown(n int) string {
	return fmt.Sprintf("Please wait %d seconds before sending another link.", n)
}

// Queued confirms admission with the approximate queue position.
func Queued(position int) string {
	return fmt.Sprintf("Added to the queue. Position: %d.", position)
}

// TooLarge reports a size rejection with the size and the limit in MB.
func TooLarge(size, limit int64) string {
	return fmt.Sprintf("The file is too large (%s MB). The limit is %s MB.", media.FormatMB(size), media.FormatMB(limit))
}
