package domain

// Container is one row of the engine's container listing, enriched with the
// restart policy and any icon hint found in its labels.
type Container struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Image         string `json:"image"`
	Command       string `json:"command"`
	State         string `json:"state"`
	Status        string `json:"status"`
	Ports         string `json:"ports"`
	Project       string `json:"project,omitempty"`
	Mounts        string `json:"mounts,omitempty"`
	Icon          string `json:"icon,omitempty"`
	RestartPolicy string `json:"restart_policy"`
}
