package nagare

import (
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds every setting after applying options.
// Unexported: callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	notifyURL   string
	logger      *slog.Logger
	version     string
	connectors  []namedConnector
}

type namedConnector struct {
	name      string
	connector Connector
}

// WithPort overrides the TCP port from config (NAGARE_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithNotifyURL overrides the direct Postgres URL used for LISTEN/NOTIFY (NOTIFY_URL env var).
// Set this when queries go through a connection pooler such as PgBouncer:
// LISTEN requires a direct connection. Without it, run event streams are off.
func WithNotifyURL(url string) Option {
	return func(o *resolvedOptions) { o.notifyURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported by /health, MCP and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithConnector registers an additional connector under name. The name must
// not collide with a built-in connector (local_file, sql, sharepoint, email,
// notification, code) or New fails.
func WithConnector(name string, c Connector) Option {
	return func(o *resolvedOptions) {
		o.connectors = append(o.connectors, namedConnector{name: name, connector: c})
	}
}
