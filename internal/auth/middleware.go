// Package auth extracts the caller identity that the upstream proxy injects
// as request headers. Nothing here is cryptographic: the gateway trusts the
// headers and the policy preamble decides what the caller may do.
package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// Default header names.
const (
	DefaultIdentityHeader  = "X-MCP-Identity"
	DefaultTenantHeader    = "X-MCP-Tenant"
	DefaultRequestIDHeader = "X-MCP-Request-Id"
)

const callerKey = "caller"

// Caller is who a request claims to come from.
type Caller struct {
	Identity  string `json:"identity"`
	Tenant    string `json:"tenant"`
	RequestID string `json:"request_id"`
}

// Config holds the header names to read the caller from.
type Config struct {
	IdentityHeader  string
	TenantHeader    string
	RequestIDHeader string
}

func (c Config) withDefaults() Config {
	if c.IdentityHeader == "" {
		c.IdentityHeader = DefaultIdentityHeader
	}
	if c.TenantHeader == "" {
		c.TenantHeader = DefaultTenantHeader
	}
	if c.RequestIDHeader == "" {
		c.RequestIDHeader = DefaultRequestIDHeader
	}
	return c
}

// Extractor reads callers from request headers.
type Extractor struct {
	config Config
}

func NewExtractor(config Config) *Extractor {
	return &Extractor{config: config.withDefaults()}
}

// Middleware stores the caller in the echo context.
// Missing headers yield empty fields; rejecting them is left to the policy
// preamble so that the refusal is audited.
func (x *Extractor) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller := x.Extract(c.Request().Header.Get)

			c.Set(callerKey, caller)

			return next(c)
		}
	}
}

// Extract builds a Caller using get to look up header values.
func (x *Extractor) Extract(get func(string) string) *Caller {
	return &Caller{
		Identity:  strings.TrimSpace(get(x.config.IdentityHeader)),
		Tenant:    strings.TrimSpace(get(x.config.TenantHeader)),
		RequestID: strings.TrimSpace(get(x.config.RequestIDHeader)),
	}
}

// GetCallerFromContext extracts the caller from the echo context. It returns
// an empty Caller when the middleware did not run.
func GetCallerFromContext(c echo.Context) *Caller {
	if caller, ok := c.Get(callerKey).(*Caller); ok {
		return caller
	}
	return &Caller{}
}
