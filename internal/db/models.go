package db

// Status is one named lifecycle state. IsCompleted marks states whose jobs
// have produced their artifact; IsTerminal marks states with no further
// transitions.
type Status struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	IsCompleted bool   `json:"is_completed"`
	IsTerminal  bool   `json:"is_terminal"`
	CreatedAt   string `json:"created_at"`
}

// Job is one print job row. Timestamps are stored as SQLite datetime text;
// empty string means NULL. PrinterID zero means the job is not yet assigned
// and is eligible for any printer.
type Job struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	StatusID      int64  `json:"status_id"`
	StatusName    string `json:"status"`
	PrinterID     int64  `json:"printer_id"`
	FilePath      string `json:"file_path"`
	ThumbnailPath string `json:"thumbnail_path"`
	Metadata      string `json:"metadata"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	StartedAt     string `json:"started_at,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

type Plate struct {
	ID         int64  `json:"id"`
	JobID      int64  `json:"job_id"`
	PlateIndex int    `json:"plate_index"`
	Name       string `json:"name"`
	StatusID   int64  `json:"status_id"`
}

// PlateDefinition is the importer-facing shape of a plate before it has a
// database identity.
type PlateDefinition struct {
	PlateIndex int    `json:"plate_index"`
	Name       string `json:"name"`
}

type Printer struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Host      string `json:"host"`
	CreatedAt string `json:"created_at"`
}

// PrinterDefinition is a configured printer not yet resolved to a row id.
type PrinterDefinition struct {
	Name string
	Host string
}

// Key mirrors the coordinator's session identity: name when set, host
// otherwise.
func (p PrinterDefinition) Key() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Host
}

// QueuedJob is the dispatch view of the next eligible job: its row id, the
// artifact to upload, and the plate to start.
type QueuedJob struct {
	ID         int64
	FilePath   string
	PlateIndex int
}
