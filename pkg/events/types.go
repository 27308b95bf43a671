package events

// ModuleReadyEvent announces that a module finished registering its
// capabilities and opened live delivery.
type ModuleReadyEvent struct {
	ModuleID   string `json:"moduleId"`
	ModuleType string `json:"moduleType,omitempty"`
	Timestamp  string `json:"timestamp"`
}
