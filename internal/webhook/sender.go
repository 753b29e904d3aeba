package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hummel22/bambuQueue/internal/config"
	"github.com/hummel22/bambuQueue/internal/logging"
)

type Event string

const (
	EventJobImported   Event = "job_imported"
	EventJobDispatched Event = "job_dispatched"
	EventJobCompleted  Event = "job_completed"
	EventJobFailed     Event = "job_failed"
)

type Payload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type JobEventData struct {
	JobID     int64  `json:"job_id"`
	PrinterID int64  `json:"printer_id,omitempty"`
	Name      string `json:"name,omitempty"`
	File      string `json:"file,omitempty"`
	Status    string `json:"status"`
}

type SenderConfig struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type task struct {
	target  config.WebhookTarget
	payload *Payload
	attempt int
}

// Sender delivers job lifecycle events to the configured webhook targets
// through a bounded queue and a small worker pool. A full queue drops the
// event rather than blocking the caller.
type Sender struct {
	targets    []config.WebhookTarget
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration
	workers    int
	queue      chan *task
	stopCh     chan struct{}
	wg         sync.WaitGroup
	log        *logrus.Entry
}

func NewSender(targets []config.WebhookTarget, cfg SenderConfig) *Sender {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	return &Sender{
		targets:    targets,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		workers:    cfg.WorkerCount,
		queue:      make(chan *task, cfg.QueueSize),
		stopCh:     make(chan struct{}),
		log:        logging.Component("webhook"),
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

func (s *Sender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sender) JobImported(jobID int64, name, file string) {
	s.enqueue(EventJobImported, &JobEventData{JobID: jobID, Name: name, File: file, Status: "imported"})
}

func (s *Sender) JobDispatched(jobID, printerID int64, file string) {
	s.enqueue(EventJobDispatched, &JobEventData{JobID: jobID, PrinterID: printerID, File: file, Status: "printing"})
}

func (s *Sender) JobCompleted(jobID, printerID int64, file string) {
	s.enqueue(EventJobCompleted, &JobEventData{JobID: jobID, PrinterID: printerID, File: file, Status: "completed"})
}

func (s *Sender) JobFailed(jobID, printerID int64, errMsg string) {
	s.enqueue(EventJobFailed, &JobEventData{JobID: jobID, PrinterID: printerID, Status: "failed", File: errMsg})
}

// enqueue fans the event out to every target subscribed to it. A target
// with no event list receives everything.
func (s *Sender) enqueue(event Event, data interface{}) {
	for _, target := range s.targets {
		if !targetWantsEvent(target, event) {
			continue
		}
		t := &task{
			target: target,
			payload: &Payload{
				Event:     string(event),
				Timestamp: time.Now(),
				Data:      data,
			},
		}
		select {
		case s.queue <- t:
		default:
			s.log.WithField("event", event).Warn("webhook queue full, dropping event")
		}
	}
}

func targetWantsEvent(target config.WebhookTarget, event Event) bool {
	if len(target.Events) == 0 {
		return true
	}
	for _, name := range target.Events {
		if name == string(event) {
			return true
		}
	}
	return false
}

func (s *Sender) worker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.queue:
			if err := s.sendWithRetry(t); err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{
					"url":      t.target.URL,
					"event":    t.payload.Event,
					"attempts": t.attempt,
				}).Warn("failed to deliver webhook")
			}
		}
	}
}

func (s *Sender) sendWithRetry(t *task) error {
	var lastErr error
	for t.attempt < s.retryCount {
		t.attempt++

		err := s.sendRequest(t.target, t.payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if isClientError(err) {
			return err
		}

		if t.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(t.attempt-1))
			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *Sender) sendRequest(target config.WebhookTarget, payload *Payload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	if target.Secret != "" {
		payload.Signature = signPayload(dataBytes, target.Secret)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", payload.Event)
	if payload.Signature != "" {
		req.Header.Set("X-Webhook-Signature", payload.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("http error: %d", resp.StatusCode)
	}
	return nil
}

func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "http error: 4")
}
