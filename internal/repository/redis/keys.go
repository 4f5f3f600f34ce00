package redis

// Keys hash-tag the phone so all keys of one number share a cluster slot.
const (
	rateLimitPrefix = "otp:wa:ratelimit:"
	challengePrefix = "otp:wa:challenge:"
	issuedPrefix    = "otp:wa:issued:"
)

func rateLimitKey(phone string) string { return rateLimitPrefix + "{" + phone + "}" }
func challengeKey(phone string) string { return challengePrefix + "{" + phone + "}" }
func issuedKey(phone string) string    { return issuedPrefix + "{" + phone + "}" }
