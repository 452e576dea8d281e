package model

import "time"

// ConnectorInfo is the registration metadata of a connector. Dispatch always
// goes through the live adapter; this record is for discovery only.
type ConnectorInfo struct {
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Capabilities []string  `json:"capabilities"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}
