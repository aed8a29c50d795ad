package transport

import "go.uber.org/ratelimit"

// NewSendLimiter paces writes to perSecond frames. Zero or negative disables pacing.
func NewSendLimiter(perSecond int) ratelimit.Limiter {
	if perSecond <= 0 {
		return ratelimit.NewUnlimited()
	}
	return ratelimit.New(perSecond, ratelimit.WithoutSlack)
}
