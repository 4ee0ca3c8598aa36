package types

import (
	"fmt"
)

// CurrentConfigVersion is the current version of the card config.
// Increment this value when adding fields that need default values.
const CurrentConfigVersion = 2

const (
	DefaultSolarColor   = "#ff9800"
	DefaultGridColor    = "#488fc2"
	DefaultBatteryColor = "#f06292"
	// DefaultNodeColor is used for nodes without a role color or override.
	DefaultNodeColor = "pink"
)

// NodeConfig describes where a node gets its readings from and how it is
// drawn.
type NodeConfig struct {
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	PrimaryInputEntity  string `yaml:"primaryInputEntity,omitempty" json:"primaryInputEntity,omitempty"`
	PrimaryOutputEntity string `yaml:"primaryOutputEntity,omitempty" json:"primaryOutputEntity,omitempty"`
	SecondaryEntity     string `yaml:"secondaryEntity,omitempty" json:"secondaryEntity,omitempty"`

	// Primary readings are accumulated over the selected time range instead
	// of taken from the current state.
	UsesDatePicker          bool `yaml:"usesDatePicker,omitempty" json:"usesDatePicker,omitempty"`
	SecondaryUsesDatePicker bool `yaml:"secondaryUsesDatePicker,omitempty" json:"secondaryUsesDatePicker,omitempty"`

	// Unit overrides the unit reported for the primary entities.
	Unit string `yaml:"unit,omitempty" json:"unit,omitempty" validate:"omitempty,oneof=W kW MW GW Wh kWh MWh GWh"`

	ColorOverride string  `yaml:"colorOverride,omitempty" json:"colorOverride,omitempty"`
	TextColor     string  `yaml:"textColor,omitempty" json:"textColor,omitempty"`
	IconColor     string  `yaml:"iconColor,omitempty" json:"iconColor,omitempty"`
	Icon          string  `yaml:"icon,omitempty" json:"icon,omitempty"`
	X             float64 `yaml:"x,omitempty" json:"x,omitempty"`
}

// SubHomeConfig is a NodeConfig placed below Home or another SubHome.
type SubHomeConfig struct {
	ID         string `yaml:"id" json:"id" validate:"required"`
	ParentID   string `yaml:"parentId" json:"parentId" validate:"required"`
	NodeConfig `yaml:",inline"`
}

// CardConfig is the full card configuration.
type CardConfig struct {
	Version int `yaml:"version" json:"version"`

	Grid     NodeConfig      `yaml:"grid" json:"grid"`
	Solar    NodeConfig      `yaml:"solar" json:"solar"`
	Battery  NodeConfig      `yaml:"battery" json:"battery"`
	Home     NodeConfig      `yaml:"home" json:"home"`
	SubHomes []SubHomeConfig `yaml:"subHomes,omitempty" json:"subHomes,omitempty" validate:"unique=ID,dive"`

	// Display Settings
	KiloThreshold float64 `yaml:"kiloThreshold" json:"kiloThreshold" validate:"gte=0"`
	MegaThreshold float64 `yaml:"megaThreshold" json:"megaThreshold" validate:"gtefield=KiloThreshold"`
	GigaThreshold float64 `yaml:"gigaThreshold" json:"gigaThreshold" validate:"gtefield=MegaThreshold"`

	SolarColor   string `yaml:"solarColor" json:"solarColor"`
	GridColor    string `yaml:"gridColor" json:"gridColor"`
	BatteryColor string `yaml:"batteryColor" json:"batteryColor"`

	// PrimaryUsesDatePicker switched every node to windowed readings in
	// version 1. It is folded into the per-node setting on migration.
	PrimaryUsesDatePicker bool `yaml:"primaryUsesDatePicker,omitempty" json:"-"`
}

// Thresholds returns the display thresholds of the card. A threshold left
// at zero takes its default.
func (c CardConfig) Thresholds() Thresholds {
	c = ApplyDefaults(c)
	return Thresholds{
		Kilo: c.KiloThreshold,
		Mega: c.MegaThreshold,
		Giga: c.GigaThreshold,
	}
}

// ApplyDefaults fills every unset threshold and role color with its default,
// whatever the version of c.
func ApplyDefaults(c CardConfig) CardConfig {
	defaults := DefaultThresholds()
	if c.KiloThreshold == 0 {
		c.KiloThreshold = defaults.Kilo
	}
	if c.MegaThreshold == 0 {
		c.MegaThreshold = defaults.Mega
	}
	if c.GigaThreshold == 0 {
		c.GigaThreshold = defaults.Giga
	}
	if c.SolarColor == "" {
		c.SolarColor = DefaultSolarColor
	}
	if c.GridColor == "" {
		c.GridColor = DefaultGridColor
	}
	if c.BatteryColor == "" {
		c.BatteryColor = DefaultBatteryColor
	}
	return c
}

// MigrateConfig migrates the config to the current version.
// It returns the migrated config, a boolean indicating if changes were made, and an error if migration failed.
func MigrateConfig(c CardConfig) (CardConfig, bool, error) {
	if c.Version >= CurrentConfigVersion {
		return c, false, nil
	}

	migrated := false
	for version := c.Version + 1; version <= CurrentConfigVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			defaults := DefaultThresholds()
			if c.KiloThreshold == 0 {
				c.KiloThreshold = defaults.Kilo
				migrated = true
			}
			if c.MegaThreshold == 0 {
				c.MegaThreshold = defaults.Mega
				migrated = true
			}
			if c.GigaThreshold == 0 {
				c.GigaThreshold = defaults.Giga
				migrated = true
			}
			if c.SolarColor == "" {
				c.SolarColor = DefaultSolarColor
				migrated = true
			}
			if c.GridColor == "" {
				c.GridColor = DefaultGridColor
				migrated = true
			}
			if c.BatteryColor == "" {
				c.BatteryColor = DefaultBatteryColor
				migrated = true
			}
		case 2:
			// version 2: the date picker moved from the card onto each node
			if c.PrimaryUsesDatePicker {
				for _, n := range []*NodeConfig{&c.Grid, &c.Solar, &c.Battery, &c.Home} {
					n.UsesDatePicker = true
				}
				for i := range c.SubHomes {
					c.SubHomes[i].UsesDatePicker = true
				}
				c.PrimaryUsesDatePicker = false
				migrated = true
			}
		default:
			return c, false, fmt.Errorf("unknown config version: %d", version)
		}
	}
	c.Version = CurrentConfigVersion

	return c, migrated, nil
}
