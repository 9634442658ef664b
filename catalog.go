package catalog

import (
	"github.com/ajitpratap0/catalog-sdk-go/pkg/auth"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/client"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/lineage"
)

// Version represents the current version of the SDK
const Version = client.Version

// These exports provide direct access to the core SDK components
var (
	// NewClient creates a catalog client
	NewClient = client.New

	// LoadConfig reads a YAML client configuration
	LoadConfig = client.LoadConfig

	// DefaultConfig returns the default client configuration
	DefaultConfig = client.DefaultConfig
)

// Credentials
type (
	ServiceAccount = auth.ServiceAccount
	UserAccount    = auth.UserAccount
	BearerToken    = auth.BearerToken
	SessionCookie  = auth.SessionCookie
)

// Client options
var (
	WithConfig               = client.WithConfig
	WithLogger               = client.WithLogger
	WithHTTPClient           = client.WithHTTPClient
	WithMetrics              = client.WithMetrics
	WithTracing              = client.WithTracing
	WithDistVersion          = client.WithDistVersion
	WithIncrementalStreaming = client.WithIncrementalStreaming
	WithNestedJSON           = client.WithNestedJSON
	WithTelemetry            = client.WithTelemetry
)

// Lineage directions
const (
	Upstream   = lineage.Upstream
	Downstream = lineage.Downstream
)
