package logging

import "log/slog"

// WithTxn tags records with a transaction identifier.
func WithTxn(logger *slog.Logger, txnID uint64) *slog.Logger {
	return logger.With("txn_id", txnID)
}

// WithTable tags records with a table name.
func WithTable(logger *slog.Logger, table string) *slog.Logger {
	return logger.With("table", table)
}

// WithComponent creates a logger with subsystem context.
func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}
