package audit

const (
	tableSchema = `
		CREATE TABLE IF NOT EXISTS audit_index (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			dir TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			request_id TEXT NOT NULL,
			identity TEXT NOT NULL,
			tenant TEXT NOT NULL,
			action TEXT NOT NULL,
			allowed INTEGER NOT NULL CHECK(allowed IN (0, 1)),
			reason TEXT NOT NULL,
			status INTEGER NOT NULL,
			bytes INTEGER NOT NULL
		)`

	triggerPreventUpdate = `
		CREATE TRIGGER IF NOT EXISTS audit_index_no_update
		BEFORE UPDATE ON audit_index
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'Updates not allowed on audit_index');
		END`

	triggerPreventDelete = `
		CREATE TRIGGER IF NOT EXISTS audit_index_no_delete
		BEFORE DELETE ON audit_index
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'Deletes not allowed on audit_index');
		END`

	indexTenant = `
		CREATE INDEX IF NOT EXISTS idx_audit_index_tenant ON audit_index(tenant, recorded_at DESC)`
)

func schemaStatements() []string {
	return []string{
		tableSchema,
		triggerPreventUpdate,
		triggerPreventDelete,
		indexTenant,
	}
}
