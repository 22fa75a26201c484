package domain

// AutostartConfig selects which groups and individual containers must run
// with a persistent restart policy. Either set may reference entities that no
// longer exist; reconciliation tolerates dangling references.
type AutostartConfig struct {
	Groups     []string `json:"groups"`
	Containers []string `json:"containers"`
}
