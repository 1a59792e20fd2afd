// Package s3 implements contentstore.Store on AWS S3 and S3-compatible
// object storage.
//
// Layout under Config.Prefix:
//
//	photos/                         folder (key prefix)
//	photos/beach.jpg.node.json      node document for /photos/beach.jpg
//	photos/readme.txt               plain object, surfaces as nt:file
//
// A node document is a contentstore.Node encoded as JSON, carrying the
// node's type, properties and embedded descendants such as
// jcr:content/metadata. Property writes mark the owning document dirty;
// Commit uploads every dirty document.
package s3

import "strings"

// DocumentSuffix marks node document objects.
const DocumentSuffix = ".node.json"

// FileType is the node type of plain objects.
const FileType = "nt:file"

// DefaultFolderType is the node type reported for key prefixes.
const DefaultFolderType = "nt:folder"

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// DefaultFolderTypes are the node types Seed stores as key prefixes.
var DefaultFolderTypes = []string{"nt:folder", "sling:Folder", "sling:OrderedFolder"}

// Config configures an S3 content store.
//
// Session credentials, when they carry a password, are used as a static
// access key pair (username = access key ID, password = secret). Otherwise
// the AWS SDK v2 default chain applies: environment, shared config and
// credentials files (optionally Profile), then instance or task roles.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Prefix is the key prefix the content root lives under.
	// A trailing slash is added when missing.
	Prefix string

	// Region is the AWS region.
	// For AWS S3: defaults to us-east-1 if not specified via config or environment.
	// For S3-compatible (when Endpoint is set): no default applied.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile is the AWS profile name to use from shared config.
	Profile string

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	ForcePathStyle bool

	// FolderType is the type reported for key prefixes.
	// Default: "nt:folder"
	FolderType string

	// FolderTypes are the node types Seed writes as key prefixes.
	FolderTypes []string
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if strings.Contains(c.Prefix, "//") {
		return &ConfigError{Field: "Prefix", Message: "prefix must not contain empty segments"}
	}
	return nil
}

func (c Config) withDefaults() Config {
	c.Prefix = normalizePrefix(c.Prefix)
	if c.FolderType == "" {
		c.FolderType = DefaultFolderType
	}
	if len(c.FolderTypes) == 0 {
		c.FolderTypes = DefaultFolderTypes
	}
	return c
}

func normalizePrefix(p string) string {
	p = strings.TrimLeft(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}

// resolveRegion applies the us-east-1 fallback for AWS S3 when neither the
// config nor the SDK chain produced a region. Custom endpoints get none.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
