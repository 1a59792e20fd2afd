package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Config configures an audit job.
type Config struct {
	// BatchSize is the number of repairs between intermediate commits.
	// Default: 1000
	BatchSize int64

	// DateLayout is the Go time layout of legacy string values.
	// Default: "2006-01-02 15:04"
	DateLayout string

	// FallbackDate is substituted when a legacy value fails to parse.
	// It is parsed with DateLayout.
	// Default: "2022-01-31 20:23"
	FallbackDate string

	// Location is the time zone legacy values are interpreted in.
	// Default: UTC
	Location *time.Location

	// MetadataPath is the path of the metadata sub-entity relative to a
	// target leaf.
	// Default: "jcr:content/metadata"
	MetadataPath string

	// Property is the inspected attribute on the metadata sub-entity.
	// Default: "prism:expirationDate"
	Property string

	// ContainerTypes are node types the walker recurses into.
	ContainerTypes []string

	// LeafTypes are node types handed to the inspector.
	LeafTypes []string

	// Excludes are doublestar patterns matched against entity paths
	// (without the leading slash). Matching entities are counted as
	// visited but neither inspected nor descended into.
	Excludes []string

	// RateLimit caps node visits per second. Zero means unlimited.
	RateLimit float64
}

// Default values.
const (
	DefaultBatchSize    = 1000
	DefaultDateLayout   = "2006-01-02 15:04"
	DefaultFallbackDate = "2022-01-31 20:23"
	DefaultMetadataPath = "jcr:content/metadata"
	DefaultProperty     = "prism:expirationDate"
)

// DefaultContainerTypes are the folder types of a DAM-style content tree.
var DefaultContainerTypes = []string{"nt:folder", "sling:Folder", "sling:OrderedFolder"}

// DefaultLeafTypes are the asset types of a DAM-style content tree.
var DefaultLeafTypes = []string{"dam:Asset"}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:      DefaultBatchSize,
		DateLayout:     DefaultDateLayout,
		FallbackDate:   DefaultFallbackDate,
		Location:       time.UTC,
		MetadataPath:   DefaultMetadataPath,
		Property:       DefaultProperty,
		ContainerTypes: append([]string(nil), DefaultContainerTypes...),
		LeafTypes:      append([]string(nil), DefaultLeafTypes...),
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if strings.TrimSpace(c.DateLayout) == "" {
		c.DateLayout = d.DateLayout
	}
	if strings.TrimSpace(c.FallbackDate) == "" {
		c.FallbackDate = d.FallbackDate
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	if strings.TrimSpace(c.MetadataPath) == "" {
		c.MetadataPath = d.MetadataPath
	}
	if strings.TrimSpace(c.Property) == "" {
		c.Property = d.Property
	}
	if len(c.ContainerTypes) == 0 {
		c.ContainerTypes = d.ContainerTypes
	}
	if len(c.LeafTypes) == 0 {
		c.LeafTypes = d.LeafTypes
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if _, err := time.ParseInLocation(c.DateLayout, c.FallbackDate, c.Location); err != nil {
		return fmt.Errorf("fallback date %q does not match layout %q: %w", c.FallbackDate, c.DateLayout, err)
	}
	for _, p := range c.Excludes {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	for _, t := range c.ContainerTypes {
		for _, l := range c.LeafTypes {
			if t == l {
				return fmt.Errorf("type %q is both a container and a leaf type", t)
			}
		}
	}
	return nil
}

// fallbackTime returns the parsed fallback date. Validate must have passed.
func (c Config) fallbackTime() time.Time {
	t, _ := time.ParseInLocation(c.DateLayout, c.FallbackDate, c.Location)
	return t
}
