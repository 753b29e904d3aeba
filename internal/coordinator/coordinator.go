package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hummel22/bambuQueue/internal/config"
	"github.com/hummel22/bambuQueue/internal/db"
	"github.com/hummel22/bambuQueue/internal/logging"
	"github.com/hummel22/bambuQueue/internal/telemetry"
)

// Uploader pushes a local artifact onto the printer's storage.
type Uploader interface {
	Upload(host, accessCode, localPath, remoteName string) error
}

// Messenger is one printer's message-bus connection, owned by its session.
type Messenger interface {
	Subscribe(host, accessCode, topic string, handler func(topic, payload string)) error
	Publish(host, accessCode, topic, payload string) error
	Stop()
}

// EventSink receives job lifecycle notifications. Implementations must not
// block.
type EventSink interface {
	JobDispatched(jobID, printerID int64, file string)
	JobCompleted(jobID, printerID int64, file string)
}

// session is the in-memory per-printer state. isPrinting is the only
// mutable field; the mutex serializes telemetry handling against dispatch
// for this printer. The database remains authoritative when the two
// disagree.
type session struct {
	definition config.Printer
	printerID  int64
	isPrinting bool
	mqtt       Messenger
	mu         sync.Mutex
}

// Coordinator maintains one session per configured printer: a telemetry
// subscription, a dispatch path, and status reconciliation from reports.
type Coordinator struct {
	cfg          *config.Config
	store        *db.Store
	uploader     Uploader
	newMessenger func() Messenger
	events       EventSink
	sessions     map[string]*session
	log          *logrus.Entry
}

func New(cfg *config.Config, store *db.Store, uploader Uploader, newMessenger func() Messenger, events EventSink) *Coordinator {
	return &Coordinator{
		cfg:          cfg,
		store:        store,
		uploader:     uploader,
		newMessenger: newMessenger,
		events:       events,
		sessions:     make(map[string]*session),
		log:          logging.Component("coordinator"),
	}
}

// Start resolves printer ids, subscribes each usable printer's report
// topic, and attempts an initial dispatch per session. Printers missing
// host, access code or serial are skipped with a warning.
func (c *Coordinator) Start(ctx context.Context) error {
	if len(c.cfg.Printers) == 0 {
		return nil
	}

	definitions := make([]db.PrinterDefinition, 0, len(c.cfg.Printers))
	for _, printer := range c.cfg.Printers {
		definitions = append(definitions, db.PrinterDefinition{Name: printer.Name, Host: printer.Host})
	}
	printerIDs, err := c.store.EnsurePrinters(ctx, definitions)
	if err != nil {
		return fmt.Errorf("failed to ensure printers: %w", err)
	}

	for _, printer := range c.cfg.Printers {
		if printer.Host == "" || printer.AccessCode == "" || printer.Serial == "" {
			c.log.WithField("printer", printer.Key()).
				Warn("skipping printer with missing host, access code, or serial")
			continue
		}

		key := printer.Key()
		sess := &session{
			definition: printer,
			printerID:  printerIDs[key],
			mqtt:       c.newMessenger(),
		}
		c.sessions[key] = sess

		reportTopic := fmt.Sprintf("device/%s/report", printer.Serial)
		err := sess.mqtt.Subscribe(printer.Host, printer.AccessCode, reportTopic,
			func(topic, payload string) {
				c.handleReport(sess, payload)
			})
		if err != nil {
			c.log.WithError(err).WithField("topic", reportTopic).
				Warn("failed to subscribe to printer reports")
		}

		c.DispatchNext(key)
	}

	return nil
}

// Stop tears down every session's subscription. In-flight uploads and
// publishes drain rather than abort.
func (c *Coordinator) Stop() {
	for _, sess := range c.sessions {
		sess.mqtt.Stop()
	}
}

// DispatchNext attempts a dispatch for the named session. It reports false
// when the key names no session, the queue cannot be read, or an upload or
// publish failed; an empty queue or a busy printer is a successful no-op.
func (c *Coordinator) DispatchNext(key string) bool {
	sess, ok := c.sessions[key]
	if !ok {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return c.dispatchLocked(sess)
}

// SessionKeys lists the sessions in no particular order.
func (c *Coordinator) SessionKeys() []string {
	keys := make([]string, 0, len(c.sessions))
	for key := range c.sessions {
		keys = append(keys, key)
	}
	return keys
}

func (c *Coordinator) dispatchLocked(sess *session) bool {
	if sess.isPrinting {
		return true
	}

	ctx := context.Background()
	job, err := c.store.GetNextQueuedJob(ctx, sess.printerID)
	if err != nil {
		c.log.WithError(err).Warn("failed to read queued jobs")
		return false
	}
	if job == nil {
		return true
	}

	remoteName := filepath.Base(job.FilePath)
	if err := c.uploader.Upload(sess.definition.Host, sess.definition.AccessCode, job.FilePath, remoteName); err != nil {
		telemetry.DispatchFailures.Inc()
		c.log.WithError(err).WithField("job", job.ID).Warn("artifact upload failed")
		return false
	}

	payload := buildProjectFilePayload(remoteName, job.PlateIndex)
	commandTopic := fmt.Sprintf("device/%s/request", sess.definition.Serial)
	if err := sess.mqtt.Publish(sess.definition.Host, sess.definition.AccessCode, commandTopic, payload); err != nil {
		telemetry.DispatchFailures.Inc()
		c.log.WithError(err).WithField("job", job.ID).Warn("start command publish failed")
		return false
	}

	if err := c.store.AssignJobToPrinter(ctx, job.ID, sess.printerID); err != nil {
		c.log.WithError(err).WithField("job", job.ID).Warn("failed to assign job to printer")
	}
	if err := c.store.UpdateJobStatus(ctx, job.ID, "printing", c.cfg.Paths.JobsDir, c.cfg.Paths.CompletedDir); err != nil {
		c.log.WithError(err).WithField("job", job.ID).Warn("failed to mark job printing")
	}
	sess.isPrinting = true
	telemetry.Dispatches.Inc()
	if c.events != nil {
		c.events.JobDispatched(job.ID, sess.printerID, remoteName)
	}

	c.log.WithFields(logrus.Fields{
		"job":     job.ID,
		"printer": sess.definition.Key(),
	}).Info("dispatched job")
	return true
}

// handleReport reconciles job state from one telemetry payload. Reports
// that cannot be matched to a known job are dropped; they may belong to
// prints started outside this daemon.
func (c *Coordinator) handleReport(sess *session, payload string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	gcodeState, okState := extractJSONString(payload, "gcode_state")
	gcodeFile, okFile := extractJSONString(payload, "gcode_file")
	if !okState || !okFile {
		return
	}
	percent, okPercent := extractJSONInt(payload, "mc_percent")
	if !okPercent {
		percent = 100
	}

	ctx := context.Background()
	jobID, err := c.store.FindActiveJobByFileName(ctx, filepath.Base(gcodeFile), sess.printerID)
	if err != nil || jobID == 0 {
		return
	}
	telemetry.ReportsHandled.Inc()

	if isPrintingState(gcodeState) {
		if err := c.store.UpdateJobStatus(ctx, jobID, "printing", c.cfg.Paths.JobsDir, c.cfg.Paths.CompletedDir); err == nil {
			sess.isPrinting = true
		}
		return
	}

	// A transient idle report during a mid-print pause carries a low
	// percentage; only treat the state as final at 99% or above.
	if isCompletedState(gcodeState) && percent >= 99 {
		if err := c.store.UpdateJobStatus(ctx, jobID, "completed", c.cfg.Paths.JobsDir, c.cfg.Paths.CompletedDir); err != nil {
			c.log.WithError(err).WithField("job", jobID).Warn("failed to mark job completed")
			return
		}
		sess.isPrinting = false
		telemetry.CompletedJobs.Inc()
		if c.events != nil {
			c.events.JobCompleted(jobID, sess.printerID, filepath.Base(gcodeFile))
		}
		c.dispatchLocked(sess)
	}
}
