package model

// SiteBindingItem is a locally hosted site discovered on the host
type SiteBindingItem struct {
	SiteID       string   `json:"site_id"`
	SiteName     string   `json:"site_name"`
	PhysicalPath string   `json:"physical_path"`
	Hosts        []string `json:"hosts"`
	IsEnabled    bool     `json:"is_enabled"`
	ConfigFile   string   `json:"config_file,omitempty"`
}
