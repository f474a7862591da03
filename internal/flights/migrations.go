package flights

// migrations is the ordered list of SQL migration statements.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS flights (
		number TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		gate TEXT NOT NULL,
		departs TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}
