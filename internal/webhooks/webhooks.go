// Package webhooks implements outbound event delivery: registration with an
// SSRF blocklist, event+glob matching, HMAC signing, and a durable,
// backoff-retried delivery queue. The shape follows the teacher's outbox
// reporter — an in-memory queue backed by a durable table, a single
// background worker draining it — generalized from one control-plane
// endpoint to N registered webhook URLs.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/portdaddy/daemon/internal/apierr"
	"github.com/portdaddy/daemon/internal/callbackretry"
	"github.com/portdaddy/daemon/internal/idgen"
)

const (
	maxWebhooks      = 100
	maxQueueDepth    = 10000
	maxAttempts      = 5
	deliveryTimeout  = 10 * time.Second
	responseCapBytes = 1000
	retentionDays    = 7

	// perWebhookRate caps how fast the worker will hit any single target,
	// so one misbehaving receiver can't be hammered by a burst of triggers.
	perWebhookRate  = 5 // requests/sec
	perWebhookBurst = 5
)

var (
	retryInitial = 1 * time.Second
	retryMax     = 8 * time.Second
)

// Webhook is one registered delivery target.
type Webhook struct {
	ID            string   `json:"id"`
	URL           string   `json:"url"`
	Secret        string   `json:"-"`
	Events        []string `json:"events"`
	FilterPattern string   `json:"filterPattern,omitempty"`
	Active        bool     `json:"active"`
	SuccessCount  int      `json:"successCount"`
	FailureCount  int      `json:"failureCount"`
	Metadata      string   `json:"metadata,omitempty"`
	CreatedAt     int64    `json:"createdAt"`
}

// Delivery is one durable attempt record.
type Delivery struct {
	ID             string `json:"id"`
	WebhookID      string `json:"webhookId"`
	Event          string `json:"event"`
	Payload        string `json:"payload"`
	Status         string `json:"status"`
	Attempts       int    `json:"attempts"`
	LastAttemptAt  *int64 `json:"lastAttemptAt,omitempty"`
	ResponseStatus *int   `json:"responseStatus,omitempty"`
	ResponseBody   string `json:"responseBody,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
}

// RegisterOptions carries register()'s optional inputs.
type RegisterOptions struct {
	Secret        string
	Events        []string
	FilterPattern string
	Metadata      string
}

// Dispatcher owns the webhooks/deliveries tables, the in-memory FIFO queue,
// and the background delivery worker.
type Dispatcher struct {
	db     *sql.DB
	client *http.Client

	mu       sync.Mutex
	queue    chan string // delivery IDs
	overflow int
	limiters map[string]*rate.Limiter

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDispatcher builds a Dispatcher over db and starts its worker goroutine.
func NewDispatcher(db *sql.DB) *Dispatcher {
	d := &Dispatcher{
		db:       db,
		client:   &http.Client{Timeout: deliveryTimeout},
		queue:    make(chan string, maxQueueDepth),
		limiters: map[string]*rate.Limiter{},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go d.worker()
	return d
}

// Shutdown stops the delivery worker after draining in-flight work on a
// best-effort basis, per spec §5's shutdown policy.
func (d *Dispatcher) Shutdown() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.doneCh
}

func now() int64 { return time.Now().UnixMilli() }

// Register validates and stores a new webhook.
func (d *Dispatcher) Register(rawURL string, opts RegisterOptions) (*Webhook, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Hostname() == "" {
		return nil, apierr.New(apierr.InvalidArgument, "webhook url must be http(s)", nil)
	}
	if isBlockedHost(parsed.Hostname()) {
		return nil, apierr.New(apierr.Forbidden, "webhook url targets a blocked host", nil)
	}

	if opts.FilterPattern != "" && !validFilterPattern(opts.FilterPattern) {
		return nil, apierr.New(apierr.InvalidArgument, "invalid filter pattern", nil)
	}

	var count int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM webhooks").Scan(&count); err != nil {
		return nil, fmt.Errorf("count webhooks: %w", err)
	}
	if count >= maxWebhooks {
		return nil, apierr.New(apierr.ResourceLimit, "webhook limit reached", nil)
	}

	events := opts.Events
	if len(events) == 0 {
		events = []string{"*"}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("marshal events: %w", err)
	}

	w := &Webhook{
		ID: idgen.Webhook(), URL: rawURL, Secret: opts.Secret, Events: events,
		FilterPattern: opts.FilterPattern, Active: true, Metadata: opts.Metadata, CreatedAt: now(),
	}

	_, err = d.db.Exec(`INSERT INTO webhooks (id, url, secret, events, filter_pattern, active, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)`, w.ID, w.URL, w.Secret, string(eventsJSON), w.FilterPattern, w.Metadata, w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("register webhook: %w", err)
	}
	return w, nil
}

func validFilterPattern(p string) bool {
	if len(p) == 0 || len(p) > 100 {
		return false
	}
	for _, r := range p {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ':', r == '_', r == '*', r == '-':
		default:
			return false
		}
	}
	return true
}

// Get fetches one webhook by id.
func (d *Dispatcher) Get(id string) (*Webhook, error) {
	row := d.db.QueryRow(`SELECT id, url, secret, events, filter_pattern, active, success_count, failure_count,
		metadata, created_at FROM webhooks WHERE id = ?`, id)
	w, err := scanWebhook(row)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.NotFound, "webhook not found: "+id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return &w, nil
}

// List returns every registered webhook.
func (d *Dispatcher) List() ([]Webhook, error) {
	rows, err := d.db.Query(`SELECT id, url, secret, events, filter_pattern, active, success_count, failure_count,
		metadata, created_at FROM webhooks ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var out []Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SetActive toggles a webhook's active flag.
func (d *Dispatcher) SetActive(id string, active bool) error {
	res, err := d.db.Exec("UPDATE webhooks SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.New(apierr.NotFound, "webhook not found: "+id, nil)
	}
	return nil
}

// Delete removes a webhook (cascading its deliveries).
func (d *Dispatcher) Delete(id string) error {
	res, err := d.db.Exec("DELETE FROM webhooks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierr.New(apierr.NotFound, "webhook not found: "+id, nil)
	}
	return nil
}

// Deliveries lists delivery rows for a webhook, newest first.
func (d *Dispatcher) Deliveries(webhookID string, limit int) ([]Delivery, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := d.db.Query(`SELECT id, webhook_id, event, payload, status, attempts, last_attempt_at,
		response_status, response_body, created_at FROM deliveries WHERE webhook_id = ?
		ORDER BY created_at DESC LIMIT ?`, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		del, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, del)
	}
	return out, rows.Err()
}

// Trigger implements the event-emission side of spec §4.7: select active
// webhooks matching event (or "*") and whose filter pattern glob-matches
// targetID, then enqueue one delivery per match. Rejected triggers (queue at
// capacity) never fail the caller — they're absorbed with a logged overflow
// indicator.
func (d *Dispatcher) Trigger(event, targetID string, data interface{}) error {
	rows, err := d.db.Query(`SELECT id, url, secret, events, filter_pattern, active, success_count,
		failure_count, metadata, created_at FROM webhooks WHERE active = 1`)
	if err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	var matched []Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			rows.Close()
			return err
		}
		if eventMatches(w.Events, event) && (w.FilterPattern == "" || globMatch(w.FilterPattern, targetID)) {
			matched = append(matched, w)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]interface{}{"event": event, "timestamp": now(), "data": data})
	if err != nil {
		return fmt.Errorf("marshal delivery payload: %w", err)
	}

	for _, w := range matched {
		id := idgen.Delivery()
		_, err := d.db.Exec(`INSERT INTO deliveries (id, webhook_id, event, payload, status, attempts, created_at)
			VALUES (?, ?, ?, ?, 'pending', 0, ?)`, id, w.ID, event, string(payload), now())
		if err != nil {
			slog.Error("webhooks: enqueue delivery failed", "webhook", w.ID, "error", err)
			continue
		}
		d.enqueue(id)
	}
	return nil
}

func eventMatches(events []string, event string) bool {
	for _, e := range events {
		if e == "*" || e == event {
			return true
		}
	}
	return false
}

func (d *Dispatcher) enqueue(deliveryID string) {
	select {
	case d.queue <- deliveryID:
	default:
		d.mu.Lock()
		d.overflow++
		d.mu.Unlock()
		slog.Warn("webhooks: delivery queue full, dropping enqueue", "delivery", deliveryID)
	}
}

// OverflowCount reports how many enqueue attempts were dropped because the
// queue was at capacity.
func (d *Dispatcher) OverflowCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.overflow
}

// StartupRequeue re-enqueues pending/retrying deliveries under the attempt
// cap, so a restarted daemon resumes in-flight deliveries.
func (d *Dispatcher) StartupRequeue() error {
	rows, err := d.db.Query(`SELECT id FROM deliveries WHERE status IN ('pending', 'retrying') AND attempts < ?`,
		maxAttempts)
	if err != nil {
		return fmt.Errorf("startup requeue: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range ids {
		d.enqueue(id)
	}
	return nil
}

// SweepOld deletes deliveries older than the retention window.
func (d *Dispatcher) SweepOld() (int, error) {
	cutoff := now() - int64(retentionDays)*24*60*60*1000
	res, err := d.db.Exec("DELETE FROM deliveries WHERE created_at <= ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep deliveries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (d *Dispatcher) limiterFor(webhookID string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[webhookID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(perWebhookRate), perWebhookBurst)
		d.limiters[webhookID] = l
	}
	return l
}

func (d *Dispatcher) worker() {
	defer close(d.doneCh)
	for {
		select {
		case id := <-d.queue:
			d.deliverOne(id)
		case <-d.stopCh:
			d.drainBestEffort()
			return
		}
	}
}

func (d *Dispatcher) drainBestEffort() {
	for {
		select {
		case id := <-d.queue:
			d.deliverOne(id)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliverOne(deliveryID string) {
	var del Delivery
	var lastAttempt sql.NullInt64
	var responseStatus sql.NullInt64
	err := d.db.QueryRow(`SELECT id, webhook_id, event, payload, status, attempts, last_attempt_at,
		response_status, response_body, created_at FROM deliveries WHERE id = ?`, deliveryID).
		Scan(&del.ID, &del.WebhookID, &del.Event, &del.Payload, &del.Status, &del.Attempts, &lastAttempt,
			&responseStatus, &del.ResponseBody, &del.CreatedAt)
	if err != nil {
		slog.Error("webhooks: load delivery failed", "delivery", deliveryID, "error", err)
		return
	}

	w, err := d.Get(del.WebhookID)
	if err != nil {
		return
	}

	d.limiterFor(w.ID).Wait(context.Background())

	del.Attempts++

	req, err := http.NewRequest(http.MethodPost, w.URL, bytes.NewReader([]byte(del.Payload)))
	if err != nil {
		d.markFailed(&del, 0, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PortDaddy-Event", del.Event)
	req.Header.Set("X-PortDaddy-Delivery", del.ID)
	req.Header.Set("X-PortDaddy-Timestamp", fmt.Sprintf("%d", now()))
	if w.Secret != "" {
		req.Header.Set("X-PortDaddy-Signature", "sha256="+signBody(w.Secret, []byte(del.Payload)))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.scheduleOutcome(&del, w, 0, truncate(err.Error()))
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseCapBytes))
	d.scheduleOutcome(&del, w, resp.StatusCode, string(body))
}

func (d *Dispatcher) scheduleOutcome(del *Delivery, w *Webhook, status int, body string) {
	if status >= 200 && status < 300 {
		d.markDelivered(del, status, body)
		d.bumpCounter(w.ID, true)
		return
	}

	if del.Attempts < maxAttempts {
		d.markRetrying(del, status, body)
		delay := callbackretry.Backoff(del.Attempts, retryInitial, retryMax)
		time.AfterFunc(delay, func() { d.enqueue(del.ID) })
		return
	}

	d.markFailed(del, status, body)
	d.bumpCounter(w.ID, false)
}

func (d *Dispatcher) markDelivered(del *Delivery, status int, body string) {
	d.updateDeliveryRow(del, "delivered", status, body)
}

func (d *Dispatcher) markRetrying(del *Delivery, status int, body string) {
	d.updateDeliveryRow(del, "retrying", status, body)
}

func (d *Dispatcher) markFailed(del *Delivery, status int, body string) {
	d.updateDeliveryRow(del, "failed", status, body)
}

func (d *Dispatcher) updateDeliveryRow(del *Delivery, status string, respStatus int, respBody string) {
	ts := now()
	_, err := d.db.Exec(`UPDATE deliveries SET status = ?, attempts = ?, last_attempt_at = ?,
		response_status = ?, response_body = ? WHERE id = ?`,
		status, del.Attempts, ts, nullableInt(respStatus), truncate(respBody), del.ID)
	if err != nil {
		slog.Error("webhooks: update delivery failed", "delivery", del.ID, "error", err)
	}
}

func (d *Dispatcher) bumpCounter(webhookID string, success bool) {
	col := "failure_count"
	if success {
		col = "success_count"
	}
	_, err := d.db.Exec(fmt.Sprintf("UPDATE webhooks SET %s = %s + 1 WHERE id = ?", col, col), webhookID)
	if err != nil {
		slog.Error("webhooks: bump counter failed", "webhook", webhookID, "error", err)
	}
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(s string) string {
	if len(s) > responseCapBytes {
		return s[:responseCapBytes]
	}
	return s
}

func nullableInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWebhook(row scanner) (Webhook, error) {
	var w Webhook
	var eventsJSON string
	var active int
	if err := row.Scan(&w.ID, &w.URL, &w.Secret, &eventsJSON, &w.FilterPattern, &active, &w.SuccessCount,
		&w.FailureCount, &w.Metadata, &w.CreatedAt); err != nil {
		return Webhook{}, err
	}
	w.Active = active != 0
	_ = json.Unmarshal([]byte(eventsJSON), &w.Events)
	return w, nil
}

func scanDelivery(row scanner) (Delivery, error) {
	var del Delivery
	var lastAttempt sql.NullInt64
	var responseStatus sql.NullInt64
	if err := row.Scan(&del.ID, &del.WebhookID, &del.Event, &del.Payload, &del.Status, &del.Attempts,
		&lastAttempt, &responseStatus, &del.ResponseBody, &del.CreatedAt); err != nil {
		return Delivery{}, err
	}
	if lastAttempt.Valid {
		v := lastAttempt.Int64
		del.LastAttemptAt = &v
	}
	if responseStatus.Valid {
		v := int(responseStatus.Int64)
		del.ResponseStatus = &v
	}
	return del, nil
}
