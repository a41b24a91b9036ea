package types

// AnalyzeRequest is the payload of POST /analyze.
type AnalyzeRequest struct {
	// Text to analyze (1-10000 characters after normalization).
	// example: You are wonderful
	Text string `json:"text" example:"You are wonderful"`
	// Kinds to run. Empty selects the server default kinds.
	// example: ["toxicity","sentiment"]
	Kinds []string `json:"kinds,omitempty" example:"toxicity,sentiment"`
	// Optional analysis options; part of the cache key.
	Options map[string]any `json:"options,omitempty"`
	// Set to false to bypass the result cache. Defaults to true.
	// example: true
	UseCache *bool `json:"use_cache,omitempty" example:"true"`
}

// BulkAnalyzeRequest is the payload of POST /analyze-bulk.
type BulkAnalyzeRequest struct {
	// Texts to analyze, 1 to 50 per request.
	Texts []string `json:"texts"`
	// Kinds to run for every text. Empty selects the server default kinds.
	Kinds   []string       `json:"kinds,omitempty" example:"toxicity,sentiment"`
	Options map[string]any `json:"options,omitempty"`
	// example: true
	UseCache *bool `json:"use_cache,omitempty" example:"true"`
}

// KindResult is a successful classification for one kind.
type KindResult struct {
	// example: non-toxic
	Label string `json:"label" example:"non-toxic"`
	// example: 0.97
	Score float64 `json:"score" example:"0.97"`
	// Severity band for toxicity and hate speech.
	// example: none
	Severity string `json:"severity,omitempty" example:"none"`
	// Suggested moderation action for toxicity and hate speech.
	// example: allow
	Action string `json:"action,omitempty" example:"allow"`
	// Sentiment polarity.
	// example: positive
	Polarity string `json:"polarity,omitempty" example:"positive"`
	// Star rating when the sentiment engine reports one.
	// example: 5
	Stars int `json:"stars,omitempty" example:"5"`
	// Whether the result came from the result cache.
	// example: false
	CacheHit bool `json:"cache_hit" example:"false"`
}

// KindError is a per-kind failure inside an otherwise successful response.
type KindError struct {
	// Machine-readable code: load_failure, capacity_exceeded, not_ready, inference_failure, internal.
	// example: capacity_exceeded
	Code string `json:"code" example:"capacity_exceeded"`
	// example: capacity exceeded for emotion: need=300 usage=900 limit=1000
	Message string `json:"message"`
}

// AnalyzeResponse returns results and errors keyed by kind name. A kind
// appears in exactly one of the two maps.
type AnalyzeResponse struct {
	Results map[string]KindResult `json:"results"`
	Errors  map[string]KindError  `json:"errors,omitempty"`
	// example: 12.5
	ProcessingMS float64 `json:"processing_ms" example:"12.5"`
}

// BulkItem is the result for texts[index]. Error is set instead of
// Results and Errors when the text itself was rejected.
type BulkItem struct {
	// example: 0
	Index   int                   `json:"index" example:"0"`
	Results map[string]KindResult `json:"results,omitempty"`
	Errors  map[string]KindError  `json:"errors,omitempty"`
	Error   *KindError            `json:"error,omitempty"`
}

// BulkAnalyzeResponse is returned by POST /analyze-bulk.
type BulkAnalyzeResponse struct {
	Results []BulkItem `json:"results"`
	// example: 2
	TotalProcessed int `json:"total_processed" example:"2"`
	// example: 20.1
	ProcessingMS float64 `json:"processing_ms" example:"20.1"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// SlotStatus summarizes one kind's engine for /stats.
type SlotStatus struct {
	// example: toxicity
	Kind string `json:"kind" example:"toxicity"`
	// Lifecycle state: unloaded, loading, loaded, failed.
	// example: loaded
	State string `json:"state" example:"loaded"`
	// example: 0
	Priority int `json:"priority" example:"0"`
	// example: 440000000
	EstimateBytes uint64 `json:"estimate_bytes" example:"440000000"`
	// Unix seconds; 0 when never loaded.
	LoadedAt int64 `json:"loaded_at_unix"`
	// Unix seconds of the last successful inference or load.
	LastUsed int64 `json:"last_used_unix"`
	// Last load error, if the slot failed.
	LastError string `json:"last_error,omitempty"`
	// example: 2
	Loads uint64 `json:"loads" example:"2"`
	// example: 0
	Failures uint64 `json:"failures" example:"0"`
	// Consecutive load failures; a growing value suggests disabling the kind.
	// example: 0
	ConsecutiveFailures int `json:"consecutive_failures" example:"0"`
	// example: 1
	Evictions uint64 `json:"evictions" example:"1"`
	// Requests currently using the engine.
	// example: 0
	Inflight int `json:"inflight" example:"0"`
}

// CacheStats summarizes the result cache.
type CacheStats struct {
	// example: 120
	Size int `json:"size" example:"120"`
	// example: 1000
	MaxEntries int `json:"max_entries" example:"1000"`
	// example: 3600
	TTLSeconds float64 `json:"ttl_seconds" example:"3600"`
	// example: 400
	Hits uint64 `json:"hits" example:"400"`
	// example: 100
	Misses uint64 `json:"misses" example:"100"`
	// example: 0.8
	HitRate float64 `json:"hit_rate" example:"0.8"`
	// example: 3
	Evictions uint64 `json:"evictions" example:"3"`
	// example: 7
	Expirations uint64 `json:"expirations" example:"7"`
}

// MemoryStats reports the budget and the latest reading.
type MemoryStats struct {
	// example: rss
	Source string `json:"source" example:"rss"`
	// example: 734003200
	UsageBytes uint64 `json:"usage_bytes" example:"734003200"`
	// 0 means unlimited.
	// example: 10737418240
	LimitBytes uint64 `json:"limit_bytes" example:"10737418240"`
	// example: false
	OverBudget bool `json:"over_budget" example:"false"`
	// Bytes reserved by loads in flight.
	PendingBytes uint64 `json:"pending_bytes"`
	Error        string `json:"error,omitempty"`
}

// LoaderStats reports background loader activity.
type LoaderStats struct {
	// example: true
	Running bool `json:"running" example:"true"`
	// example: true
	Active bool `json:"active" example:"true"`
	// example: false
	Paused bool `json:"paused" example:"false"`
	// Paused automatically because of sustained memory pressure.
	PausedForPressure bool `json:"paused_for_pressure"`
	// Kind being loaded right now.
	// example: emotion
	Current string `json:"current,omitempty" example:"emotion"`
}

// StatsResponse is returned by GET /stats.
type StatsResponse struct {
	Kinds  []SlotStatus `json:"kinds"`
	Cache  CacheStats   `json:"cache"`
	Memory MemoryStats  `json:"memory"`
	Loader LoaderStats  `json:"loader"`
	// example: 4
	LoadsTotal uint64 `json:"loads_total" example:"4"`
	// example: 2
	EvictionsTotal uint64 `json:"evictions_total" example:"2"`
	// example: 1500
	AnalyzeTotal uint64 `json:"analyze_total" example:"1500"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
