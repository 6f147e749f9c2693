package conversation

import "regexp"

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// Chilean mobiles and landlines, with or without +56 and separators.
	phoneRe = regexp.MustCompile(`(?:\+?56[\s.-]?)?(?:\(?\d{1,2}\)?[\s.-]?)?\d{4}[\s.-]?\d{4}`)
)

// scrubPII masks emails and phone numbers before model output reaches logs.
// Names are kept so failures stay debuggable.
func scrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	return phoneRe.ReplaceAllString(text, "[PHONE]")
}
