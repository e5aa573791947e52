package types

// ModelInfo describes one model offered by a provider.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProviderInfo describes a model provider and its models.
type ProviderInfo struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Models []ModelInfo `json:"models"`
}

// SlashCommand is a command the user can run inside a session.
type SlashCommand struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
