// Package pubsub implements the channel broker: a durable message log per
// channel plus an in-memory subscriber registry for real-time fan-out.
package pubsub

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/portdaddy/daemon/internal/apierr"
)

const (
	maxChannelsWithSubscribers = 1000
	maxSubscribersPerChannel   = 100

	// WildcardChannel receives a copy of every published message, with its
	// source channel attached.
	WildcardChannel = "*"
)

// Message is one durable, ordered channel entry.
type Message struct {
	ID        int64       `json:"id"`
	Channel   string      `json:"channel,omitempty"`
	Payload   interface{} `json:"payload"`
	Sender    string      `json:"sender,omitempty"`
	CreatedAt int64       `json:"createdAt"`
	ExpiresAt *int64      `json:"expiresAt,omitempty"`
}

// ChannelSummary is one row of listChannels().
type ChannelSummary struct {
	Channel     string `json:"channel"`
	Count       int    `json:"count"`
	LastMessage int64  `json:"lastMessageAt"`
}

// Subscription is the handle returned by Subscribe; call Unsubscribe to stop
// receiving messages.
type Subscription struct {
	broker  *Broker
	channel string
	id      int
}

// Unsubscribe removes this callback from its channel.
func (s *Subscription) Unsubscribe() {
	s.broker.unsubscribe(s.channel, s.id)
}

type subscriber struct {
	id int
	cb func(Message)
}

// Broker owns the durable channel log and the in-memory subscriber registry.
type Broker struct {
	db *sql.DB

	mu          sync.Mutex
	subscribers map[string][]subscriber
	nextSubID   int
}

// NewBroker builds a Broker over db.
func NewBroker(db *sql.DB) *Broker {
	return &Broker{db: db, subscribers: map[string][]subscriber{}}
}

func now() int64 { return time.Now().UnixMilli() }

// Publish implements publish(channel, payload, opts): insert then fan out.
func (b *Broker) Publish(channel string, payload interface{}, sender string, expiresAfter time.Duration) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apierr.New(apierr.InvalidArgument, "payload not JSON-serializable", nil)
	}

	var expiresAt *int64
	if expiresAfter > 0 {
		v := now() + expiresAfter.Milliseconds()
		expiresAt = &v
	}

	res, err := b.db.Exec(`INSERT INTO channel_messages (channel, payload, sender, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`, channel, string(raw), sender, now(), nullableInt64(expiresAt))
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}

	msg := &Message{ID: id, Channel: channel, Payload: payload, Sender: sender, CreatedAt: now(), ExpiresAt: expiresAt}
	b.fanOut(channel, *msg)
	return msg, nil
}

func (b *Broker) fanOut(channel string, msg Message) {
	b.mu.Lock()
	direct := append([]subscriber(nil), b.subscribers[channel]...)
	wildcard := append([]subscriber(nil), b.subscribers[WildcardChannel]...)
	b.mu.Unlock()

	deliver := func(subs []subscriber, m Message) {
		for _, sub := range subs {
			func(cb func(Message)) {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("pubsub subscriber callback panicked", "channel", channel, "recover", r)
					}
				}()
				cb(m)
			}(sub.cb)
		}
	}

	deliver(direct, msg)

	wildcardMsg := msg
	wildcardMsg.Channel = channel
	deliver(wildcard, wildcardMsg)
}

// GetMessages implements getMessages(channel, opts).
func (b *Broker) GetMessages(channel string, limit int, after int64) ([]Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	var rows *sql.Rows
	var err error
	if after > 0 {
		rows, err = b.db.Query(`SELECT id, payload, sender, created_at, expires_at FROM channel_messages
			WHERE channel = ? AND id > ? ORDER BY id ASC LIMIT ?`, channel, after, limit)
	} else {
		rows, err = b.db.Query(`SELECT id, payload, sender, created_at, expires_at FROM channel_messages
			WHERE channel = ? ORDER BY id DESC LIMIT ?`, channel, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows, channel)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if after == 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// Poll implements poll(channel, afterId): the earliest message after afterId,
// or a nil Message when none exists yet. The long-poll HTTP handler repeats
// this with a sleep between calls until a timeout.
func (b *Broker) Poll(channel string, afterID int64) (*Message, error) {
	row := b.db.QueryRow(`SELECT id, payload, sender, created_at, expires_at FROM channel_messages
		WHERE channel = ? AND id > ? ORDER BY id ASC LIMIT 1`, channel, afterID)
	m, err := scanMessage(row, channel)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	return &m, nil
}

// Subscribe registers cb for messages on channel (or WildcardChannel). It
// enforces the global channel and per-channel subscriber caps.
func (b *Broker) Subscribe(channel string, cb func(Message)) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[channel]; !exists && len(b.subscribers) >= maxChannelsWithSubscribers {
		return nil, apierr.New(apierr.SubscribeRejected, "too many subscribed channels", nil)
	}
	if len(b.subscribers[channel]) >= maxSubscribersPerChannel {
		return nil, apierr.New(apierr.SubscribeRejected, "too many subscribers on channel", nil)
	}

	b.nextSubID++
	id := b.nextSubID
	b.subscribers[channel] = append(b.subscribers[channel], subscriber{id: id, cb: cb})

	return &Subscription{broker: b, channel: channel, id: id}, nil
}

func (b *Broker) unsubscribe(channel string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[channel]
	for i, s := range subs {
		if s.id == id {
			b.subscribers[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[channel]) == 0 {
		delete(b.subscribers, channel)
	}
}

// Clear implements clear(channel): truncate channel.
func (b *Broker) Clear(channel string) error {
	_, err := b.db.Exec("DELETE FROM channel_messages WHERE channel = ?", channel)
	if err != nil {
		return fmt.Errorf("clear channel: %w", err)
	}
	return nil
}

// ListChannels implements listChannels().
func (b *Broker) ListChannels() ([]ChannelSummary, error) {
	rows, err := b.db.Query(`SELECT channel, COUNT(*), MAX(created_at) FROM channel_messages GROUP BY channel`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []ChannelSummary
	for rows.Next() {
		var c ChannelSummary
		if err := rows.Scan(&c.Channel, &c.Count, &c.LastMessage); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].LastMessage > out[j].LastMessage })
	return out, nil
}

// ExpireBefore deletes channel messages whose expiry has passed. Used by the
// janitor's channel-message sweep.
func (b *Broker) ExpireBefore(ts int64) (int, error) {
	res, err := b.db.Exec("DELETE FROM channel_messages WHERE expires_at IS NOT NULL AND expires_at <= ?", ts)
	if err != nil {
		return 0, fmt.Errorf("expire channel messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner, channel string) (Message, error) {
	var m Message
	var payload string
	var expiresAt sql.NullInt64
	if err := row.Scan(&m.ID, &payload, &m.Sender, &m.CreatedAt, &expiresAt); err != nil {
		return Message{}, err
	}
	m.Channel = channel
	if expiresAt.Valid {
		v := expiresAt.Int64
		m.ExpiresAt = &v
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(payload), &parsed); err == nil {
		m.Payload = parsed
	} else {
		m.Payload = payload
	}
	return m, nil
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
