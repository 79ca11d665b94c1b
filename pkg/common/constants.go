package common

const (
	ApiKeyHeader             = "x-api-key"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"

	UserIDKey = "user_id"

	ApiKeyCachePattern   = "apikey:%s"
	RateLimitKeyPattern  = "ratelimit:%s:%s"
	PolicyCacheKeyFormat = "%s:%s"
)
