package db

const (
	insertJob = `
		INSERT INTO jobs (name, status_id, status, file_path, thumbnail_path, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))
	`

	insertPlate = `
		INSERT INTO plates (job_id, plate_index, name, status_id)
		VALUES (?, ?, ?, ?)
	`

	getJobByID = `
		SELECT jobs.id, jobs.name, jobs.status_id, COALESCE(statuses.name, jobs.status), jobs.printer_id,
		       jobs.file_path, jobs.thumbnail_path, jobs.metadata,
		       jobs.created_at, jobs.updated_at, jobs.started_at, jobs.completed_at
		FROM jobs
		LEFT JOIN statuses ON jobs.status_id = statuses.id
		WHERE jobs.id = ?
	`

	getJobForStatusUpdate = `
		SELECT jobs.status_id, jobs.file_path, jobs.thumbnail_path, COALESCE(statuses.is_completed, 0)
		FROM jobs
		LEFT JOIN statuses ON jobs.status_id = statuses.id
		WHERE jobs.id = ?
	`

	updateJobStatus = `
		UPDATE jobs SET status = ?, status_id = ?, file_path = ?, thumbnail_path = ?,
			updated_at = datetime('now'),
			started_at = CASE WHEN ? = 1 AND started_at IS NULL THEN datetime('now') ELSE started_at END,
			completed_at = CASE WHEN ? = 1 THEN datetime('now') ELSE NULL END
		WHERE id = ?
	`

	jobExistsForFile = `SELECT 1 FROM jobs WHERE file_path = ? LIMIT 1`

	getNextQueuedJob = `
		SELECT jobs.id, jobs.file_path, plates.plate_index
		FROM jobs
		JOIN statuses ON jobs.status_id = statuses.id
		JOIN plates ON plates.job_id = jobs.id
		WHERE statuses.name = 'queued'
		AND (jobs.printer_id IS NULL OR jobs.printer_id = ?)
		ORDER BY jobs.created_at ASC, jobs.id ASC, plates.plate_index ASC
		LIMIT 1
	`

	assignJobToPrinter = `
		UPDATE jobs SET printer_id = ?, updated_at = datetime('now') WHERE id = ?
	`

	getActiveJobs = `
		SELECT jobs.id, jobs.file_path, jobs.printer_id
		FROM jobs
		JOIN statuses ON jobs.status_id = statuses.id
		WHERE statuses.is_completed = 0
		ORDER BY jobs.id ASC
	`

	getCompletedJobsOrdered = `
		SELECT jobs.id, jobs.name, jobs.status_id, statuses.name, jobs.printer_id,
		       jobs.file_path, jobs.thumbnail_path, jobs.metadata,
		       jobs.created_at, jobs.updated_at, jobs.started_at, jobs.completed_at
		FROM jobs
		JOIN statuses ON jobs.status_id = statuses.id
		WHERE statuses.is_completed = 1
		ORDER BY jobs.started_at ASC, jobs.id ASC
	`

	getStatusByName = `
		SELECT id, name, is_completed, is_terminal, created_at FROM statuses WHERE name = ?
	`

	insertStatus = `
		INSERT INTO statuses (name, is_completed, is_terminal, created_at)
		VALUES (?, ?, ?, datetime('now'))
	`

	getPrinterByNameHost = `SELECT id FROM printers WHERE name = ? AND host = ? LIMIT 1`

	insertPrinter = `
		INSERT INTO printers (name, host, created_at) VALUES (?, ?, datetime('now'))
	`

	listPrinters = `
		SELECT id, name, host, created_at FROM printers ORDER BY name ASC, host ASC
	`

	getPlatesByJob = `
		SELECT id, job_id, plate_index, name, status_id
		FROM plates WHERE job_id = ? ORDER BY plate_index ASC
	`
)
