package audit

const queryInsertRecord = `
	INSERT INTO audit_index (dir, kind, request_id, identity, tenant, action, allowed, reason, status, bytes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
