package entity

import "encoding/json"

// Setting represents a configuration record stored as JSON metadata.
type Setting struct {
	ID       string          `json:"id" db:"id"`
	Category string          `json:"category,omitempty" db:"category"`
	Metadata json.RawMessage `json:"metadata,omitempty" db:"metadata"`
}

// NewSetting creates a new Setting.
func NewSetting(id string, category string, metadata json.RawMessage) *Setting {
	return &Setting{ID: id, Category: category, Metadata: metadata}
}

// SystemConfigID is the id of the singleton process-wide configuration row.
const SystemConfigID = "system"

// SystemConfig is the process-wide configuration persisted in the settings table.
type SystemConfig struct {
	MOTD string `json:"motd"`
}

// Defaults fills in the values used when no record exists yet.
func (c *SystemConfig) Defaults() {
	c.MOTD = ""
}
