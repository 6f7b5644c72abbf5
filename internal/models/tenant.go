package models

// Tenant is a registered isolation unit. TenantDirectory is the whitelist
// consulted by global sweeps (Maintenance, Monitor) instead of deriving
// identifiers from unvalidated request input.
type Tenant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}
