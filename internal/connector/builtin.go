package connector

import (
	"context"
	"log/slog"
	"time"
)

// BuiltinConfig configures the connectors registered at boot.
type BuiltinConfig struct {
	DataDir       string
	ScriptsDir    string
	CodeTimeout   time.Duration
	SQLDSN        string
	DocumentsURL  string
	SMTP          SMTPConfig
	NotifyChannel string
}

// Builtins constructs the static connector set: local_file, sql,
// sharepoint, email, notification and code. publisher may be nil.
func Builtins(ctx context.Context, cfg BuiltinConfig, publisher Publisher, logger *slog.Logger) ([]Registration, error) {
	files := NewLocalFile(cfg.DataDir)

	sqlConn, err := OpenSQL(cfg.SQLDSN)
	if err != nil {
		return nil, err
	}
	docs, err := OpenDocumentLibrary(ctx, cfg.DocumentsURL, files)
	if err != nil {
		_ = sqlConn.Close()
		return nil, err
	}

	return []Registration{
		{Name: "local_file", Connector: files},
		{Name: "sql", Connector: sqlConn},
		{Name: "sharepoint", Connector: docs},
		{Name: "email", Connector: NewEmail(cfg.SMTP, nil, logger)},
		{Name: "notification", Connector: NewNotification(publisher, cfg.NotifyChannel, logger)},
		{Name: "code", Connector: NewCode(cfg.ScriptsDir, cfg.CodeTimeout)},
	}, nil
}
