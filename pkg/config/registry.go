package config

// Persistent state keys (Registry)
const (
	KeyMaxConcurrency = "pipeline_max_concurrency"
	KeyMaxRetries     = "pipeline_max_retries"
	KeyRetryBaseDelay = "pipeline_retry_base_delay"
	KeyCancelPoll     = "pipeline_cancel_poll"
	KeyAudioByteLimit = "pipeline_audio_byte_limit"
	KeySuggestRadius  = "cache_suggest_radius"
	KeyDefaultVoice   = "tts_default_voice"
)

// RuntimeKeys lists the keys that may be overridden at runtime.
var RuntimeKeys = []string{
	KeyMaxConcurrency,
	KeyMaxRetries,
	KeyRetryBaseDelay,
	KeyCancelPoll,
	KeyAudioByteLimit,
	KeySuggestRadius,
	KeyDefaultVoice,
}
