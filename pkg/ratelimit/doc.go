// Package ratelimit keeps pexelsync inside the provider's request quota.
//
// Two strategies are available: a token bucket that refills all at once
// per period, and a sliding window that counts requests over the last
// period. Both can be paused until a reset time reported by the provider.
package ratelimit
