package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const importedStatusName = "imported"

// InsertImportedJob atomically inserts one job row plus its plate rows,
// creating the imported status on first use. Nothing persists when any
// insert fails.
func (s *Store) InsertImportedJob(ctx context.Context, name, filePath, thumbnailPath, metadata string, plates []PlateDefinition) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	status, err := ensureStatus(ctx, tx, importedStatusName, false, false)
	if err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx, insertJob,
		name, status.ID, status.Name, filePath, thumbnailPath, metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}
	jobID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get job id: %w", err)
	}

	for _, plate := range plates {
		if _, err := tx.ExecContext(ctx, insertPlate, jobID, plate.PlateIndex, plate.Name, status.ID); err != nil {
			return 0, fmt.Errorf("failed to insert plate %d: %w", plate.PlateIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit job insert: %w", err)
	}
	return jobID, nil
}

// UpdateJobStatus transitions a job to statusName, relocating its assets
// between jobsDir and completedDir when the is_completed flag flips.
// started_at is stamped once on the first transition to a running state;
// completed_at is set while the status is completed and cleared otherwise.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID int64, statusName, jobsDir, completedDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		currentStatusID sql.NullInt64
		filePath        sql.NullString
		thumbnailPath   sql.NullString
		isCompleted     int
	)
	err = tx.QueryRowContext(ctx, getJobForStatusUpdate, jobID).
		Scan(&currentStatusID, &filePath, &thumbnailPath, &isCompleted)
	if err == sql.ErrNoRows {
		return fmt.Errorf("job %d not found", jobID)
	}
	if err != nil {
		return fmt.Errorf("failed to read job %d: %w", jobID, err)
	}
	currentIsCompleted := isCompleted != 0

	newIsCompleted, newIsTerminal := classifyStatus(statusName)
	status, err := ensureStatus(ctx, tx, statusName, newIsCompleted, newIsTerminal)
	if err != nil {
		return err
	}

	updatedFilePath := filePath.String
	updatedThumbnailPath := thumbnailPath.String
	if status.IsCompleted != currentIsCompleted {
		targetDir := jobsDir
		if status.IsCompleted {
			targetDir = completedDir
		}
		updatedFilePath, err = moveAsset(filePath.String, targetDir)
		if err != nil {
			return err
		}
		updatedThumbnailPath, err = moveAsset(thumbnailPath.String, targetDir)
		if err != nil {
			return err
		}
	}

	isRunning := 0
	if isRunningStatus(statusName) {
		isRunning = 1
	}
	completedFlag := 0
	if status.IsCompleted {
		completedFlag = 1
	}

	_, err = tx.ExecContext(ctx, updateJobStatus,
		status.Name, status.ID, updatedFilePath, updatedThumbnailPath,
		isRunning, completedFlag, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status update: %w", err)
	}
	return nil
}

// EnsurePrinters resolves each configured printer to a row id, inserting
// missing (name, host) pairs. The result is keyed by the definition key.
func (s *Store) EnsurePrinters(ctx context.Context, printers []PrinterDefinition) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make(map[string]int64, len(printers))
	for _, printer := range printers {
		if printer.Name == "" && printer.Host == "" {
			continue
		}

		var id int64
		err := tx.QueryRowContext(ctx, getPrinterByNameHost, printer.Name, printer.Host).Scan(&id)
		if err == sql.ErrNoRows {
			result, insertErr := tx.ExecContext(ctx, insertPrinter, printer.Name, printer.Host)
			if insertErr != nil {
				return nil, fmt.Errorf("failed to insert printer %s: %w", printer.Key(), insertErr)
			}
			id, insertErr = result.LastInsertId()
			if insertErr != nil {
				return nil, fmt.Errorf("failed to get printer id: %w", insertErr)
			}
		} else if err != nil {
			return nil, fmt.Errorf("failed to lookup printer %s: %w", printer.Key(), err)
		}

		ids[printer.Key()] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit printers: %w", err)
	}
	return ids, nil
}

// GetNextQueuedJob returns the oldest queued job eligible for printerID
// (unassigned jobs included) together with its first plate index, or nil
// when the queue is empty.
func (s *Store) GetNextQueuedJob(ctx context.Context, printerID int64) (*QueuedJob, error) {
	job := &QueuedJob{}
	var filePath sql.NullString
	err := s.db.QueryRowContext(ctx, getNextQueuedJob, printerID).
		Scan(&job.ID, &filePath, &job.PlateIndex)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queued jobs: %w", err)
	}
	job.FilePath = filePath.String
	return job, nil
}

func (s *Store) AssignJobToPrinter(ctx context.Context, jobID, printerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, assignJobToPrinter, printerID, jobID); err != nil {
		return fmt.Errorf("failed to assign job %d to printer %d: %w", jobID, printerID, err)
	}
	return nil
}

// FindActiveJobByFileName scans non-completed jobs for one whose artifact
// basename matches fileName case-insensitively. When both printerID and the
// row's printer are set they must agree. Returns 0 when nothing matches.
func (s *Store) FindActiveJobByFileName(ctx context.Context, fileName string, printerID int64) (int64, error) {
	rows, err := s.db.QueryContext(ctx, getActiveJobs)
	if err != nil {
		return 0, fmt.Errorf("failed to read active jobs: %w", err)
	}
	defer rows.Close()

	target := strings.ToLower(fileName)
	for rows.Next() {
		var (
			id           int64
			filePath     sql.NullString
			rowPrinterID sql.NullInt64
		)
		if err := rows.Scan(&id, &filePath, &rowPrinterID); err != nil {
			return 0, fmt.Errorf("failed to scan active job: %w", err)
		}
		if strings.ToLower(filepath.Base(filePath.String)) != target {
			continue
		}
		if printerID != 0 && rowPrinterID.Int64 != 0 && rowPrinterID.Int64 != printerID {
			continue
		}
		return id, nil
	}
	return 0, rows.Err()
}

// GetCompletedJobsOrdered returns every job whose status is completed,
// ordered by started_at then id.
func (s *Store) GetCompletedJobsOrdered(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, getCompletedJobsOrdered)
	if err != nil {
		return nil, fmt.Errorf("failed to read completed jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, getJobByID, id)
	job, err := scanJobRow(row)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %d: %w", id, err)
	}
	return job, nil
}

// JobExistsForFile reports whether any job already references path.
func (s *Store) JobExistsForFile(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, jobExistsForFile, path).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to probe job file: %w", err)
	}
	return true, nil
}

func (s *Store) ListPrinters(ctx context.Context) ([]*Printer, error) {
	rows, err := s.db.QueryContext(ctx, listPrinters)
	if err != nil {
		return nil, fmt.Errorf("failed to list printers: %w", err)
	}
	defer rows.Close()

	var printers []*Printer
	for rows.Next() {
		p := &Printer{}
		var createdAt sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.Host, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan printer: %w", err)
		}
		p.CreatedAt = createdAt.String
		printers = append(printers, p)
	}
	return printers, rows.Err()
}

func (s *Store) GetPlatesByJob(ctx context.Context, jobID int64) ([]*Plate, error) {
	rows, err := s.db.QueryContext(ctx, getPlatesByJob, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plates: %w", err)
	}
	defer rows.Close()

	var plates []*Plate
	for rows.Next() {
		p := &Plate{}
		var name sql.NullString
		var statusID sql.NullInt64
		if err := rows.Scan(&p.ID, &p.JobID, &p.PlateIndex, &name, &statusID); err != nil {
			return nil, fmt.Errorf("failed to scan plate: %w", err)
		}
		p.Name = name.String
		p.StatusID = statusID.Int64
		plates = append(plates, p)
	}
	return plates, rows.Err()
}

// LookupStatus returns the status row by name, or sql.ErrNoRows.
func (s *Store) LookupStatus(ctx context.Context, name string) (*Status, error) {
	return lookupStatus(ctx, s.db, name)
}

func ensureStatus(ctx context.Context, q dbtx, name string, isCompleted, isTerminal bool) (*Status, error) {
	status, err := lookupStatus(ctx, q, name)
	if err == nil {
		return status, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	if _, err := q.ExecContext(ctx, insertStatus, name, boolToInt(isCompleted), boolToInt(isTerminal)); err != nil {
		return nil, fmt.Errorf("failed to insert status %s: %w", name, err)
	}
	return lookupStatus(ctx, q, name)
}

func lookupStatus(ctx context.Context, q dbtx, name string) (*Status, error) {
	status := &Status{}
	var isCompleted, isTerminal int
	var createdAt sql.NullString
	err := q.QueryRowContext(ctx, getStatusByName, name).
		Scan(&status.ID, &status.Name, &isCompleted, &isTerminal, &createdAt)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read status %s: %w", name, err)
	}
	status.IsCompleted = isCompleted != 0
	status.IsTerminal = isTerminal != 0
	status.CreatedAt = createdAt.String
	return status, nil
}

// classifyStatus derives flags for statuses created on first use:
// completed implies both, failed and cancelled are terminal only.
func classifyStatus(name string) (isCompleted, isTerminal bool) {
	switch {
	case strings.EqualFold(name, "completed"):
		return true, true
	case strings.EqualFold(name, "failed"), strings.EqualFold(name, "cancelled"):
		return false, true
	default:
		return false, false
	}
}

func isRunningStatus(name string) bool {
	return strings.EqualFold(name, "running") || strings.EqualFold(name, "printing")
}

// moveAsset relocates one file into targetDir preserving its name,
// overwriting any collision. An empty path is passed through; a missing
// source fails the whole status update so a completed job never loses its
// artifact silently.
func moveAsset(currentPath, targetDir string) (string, error) {
	if currentPath == "" {
		return "", nil
	}

	destination := filepath.Join(targetDir, filepath.Base(currentPath))
	if currentPath == destination {
		return destination, nil
	}

	if _, err := os.Stat(currentPath); err != nil {
		return "", fmt.Errorf("missing job asset %s: %w", currentPath, err)
	}

	if err := os.Rename(currentPath, destination); err != nil {
		if copyErr := copyFile(currentPath, destination); copyErr != nil {
			return "", fmt.Errorf("failed to move job asset to %s: %w", destination, err)
		}
		os.Remove(currentPath)
	}
	return destination, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func scanJob(rows *sql.Rows) (*Job, error) {
	job := &Job{}
	var (
		name, statusName, filePath, thumbnailPath, metadata sql.NullString
		createdAt, updatedAt, startedAt, completedAt        sql.NullString
		statusID, printerID                                 sql.NullInt64
	)
	if err := rows.Scan(&job.ID, &name, &statusID, &statusName, &printerID,
		&filePath, &thumbnailPath, &metadata,
		&createdAt, &updatedAt, &startedAt, &completedAt); err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	fillJob(job, name, statusID, statusName, printerID, filePath, thumbnailPath, metadata,
		createdAt, updatedAt, startedAt, completedAt)
	return job, nil
}

func scanJobRow(row *sql.Row) (*Job, error) {
	job := &Job{}
	var (
		name, statusName, filePath, thumbnailPath, metadata sql.NullString
		createdAt, updatedAt, startedAt, completedAt        sql.NullString
		statusID, printerID                                 sql.NullInt64
	)
	if err := row.Scan(&job.ID, &name, &statusID, &statusName, &printerID,
		&filePath, &thumbnailPath, &metadata,
		&createdAt, &updatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	fillJob(job, name, statusID, statusName, printerID, filePath, thumbnailPath, metadata,
		createdAt, updatedAt, startedAt, completedAt)
	return job, nil
}

func fillJob(job *Job, name sql.NullString, statusID sql.NullInt64, statusName sql.NullString,
	printerID sql.NullInt64, filePath, thumbnailPath, metadata,
	createdAt, updatedAt, startedAt, completedAt sql.NullString) {
	job.Name = name.String
	job.StatusID = statusID.Int64
	job.StatusName = statusName.String
	job.PrinterID = printerID.Int64
	job.FilePath = filePath.String
	job.ThumbnailPath = thumbnailPath.String
	job.Metadata = metadata.String
	job.CreatedAt = createdAt.String
	job.UpdatedAt = updatedAt.String
	job.StartedAt = startedAt.String
	job.CompletedAt = completedAt.String
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
