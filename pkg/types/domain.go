package types

// KindInfo describes a configured analysis kind for GET /kinds.
type KindInfo struct {
	// Kind name.
	// example: toxicity
	Name string `json:"name" example:"toxicity"`
	// Background load rank; lower loads first.
	// example: 0
	Priority int `json:"priority" example:"0"`
	// Estimated resident memory once loaded, in bytes.
	// example: 440000000
	EstimateBytes uint64 `json:"estimate_bytes" example:"440000000"`
	// Model file backing the kind, if any.
	// example: /home/user/models/analyzer/toxicity.yaml
	ModelPath string `json:"model_path,omitempty" example:"/home/user/models/analyzer/toxicity.yaml"`
}

// KindsResponse wraps the list returned by GET /kinds.
type KindsResponse struct {
	Kinds []KindInfo `json:"kinds"`
}
