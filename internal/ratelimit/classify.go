package ratelimit

// Transport error codes that mean "slow down" rather than "this recipient
// failed".
const (
	CodeHTTPTooManyRequests = 429
	CodeThroughputReached   = 130429 // Cloud API throughput reached
	CodePairRateLimit       = 131056 // too many messages to the same recipient
	CodeAccountRateLimit    = 80007  // WABA rate limit
)

// IsThrottlingSignal classifies a transport error code. Anything outside the
// closed set is an ordinary failure.
func IsThrottlingSignal(code int) bool {
	switch code {
	case CodeHTTPTooManyRequests, CodeThroughputReached, CodePairRateLimit, CodeAccountRateLimit:
		return true
	}
	return false
}
