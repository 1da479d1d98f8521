// Package webhook delivers signed event envelopes to configured
// channel endpoints, with bounded retries and an async FIFO queue.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"auditflow/internal/domain"
	"auditflow/internal/signature"
)

const (
	// EnvelopeVersion is stamped into every outbound envelope.
	EnvelopeVersion = "2.0.0"

	defaultTimeout = 10 * time.Second
	maxRetries     = 3
	maxQueued      = 256
	drainPacing    = 100 * time.Millisecond
)

// ErrUnknownChannel is returned when no endpoint is configured for the
// requested channel.
var ErrUnknownChannel = errors.New("webhook: unknown channel")

// ErrQueueFull is returned when the async queue is at capacity.
var ErrQueueFull = errors.New("webhook: queue full")

// Stats counts delivery outcomes since startup.
type Stats struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Retried int `json:"retried"`
	Queued  int `json:"queued"`
}

type queued struct {
	channel  string
	event    string
	data     map[string]any
	priority string
}

// Sender posts envelopes to named channels. Now and Sleep are seams
// for tests; production senders keep the defaults.
type Sender struct {
	endpoints map[string]string
	codec     *signature.Codec
	client    *http.Client
	source    string

	Now   func() time.Time
	Sleep func(time.Duration)

	mu       sync.Mutex
	queue    []queued
	draining bool
	stats    Stats
}

// New builds a Sender over a channel->URL map. The map is copied.
func New(endpoints map[string]string, codec *signature.Codec, source string) *Sender {
	eps := make(map[string]string, len(endpoints))
	for k, v := range endpoints {
		if strings.TrimSpace(v) == "" {
			continue
		}
		eps[k] = v
	}
	return &Sender{
		endpoints: eps,
		codec:     codec,
		client:    &http.Client{Timeout: defaultTimeout},
		source:    source,
		Now:       time.Now,
		Sleep:     time.Sleep,
	}
}

// SetClient replaces the HTTP client, for tests.
func (s *Sender) SetClient(c *http.Client) { s.client = c }

// endpointFor resolves a channel URL, falling back to the generic
// channel when the named one is not configured.
func (s *Sender) endpointFor(channel string) (string, bool) {
	if url, ok := s.endpoints[channel]; ok {
		return url, true
	}
	url, ok := s.endpoints[ChannelGeneric]
	return url, ok
}

// Channels returns the configured channel names.
func (s *Sender) Channels() []string {
	out := make([]string, 0, len(s.endpoints))
	for name := range s.endpoints {
		out = append(out, name)
	}
	return out
}

// Stats returns a snapshot of delivery counters.
func (s *Sender) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Queued = len(s.queue)
	return st
}

// Envelope builds the wire envelope for one event. The signature is
// computed over the marshaled body at delivery time and travels in a
// header only, so receivers can verify the raw body as received.
func (s *Sender) Envelope(event string, data map[string]any, priority, requestID string, retryCount int) domain.Envelope {
	if priority == "" {
		priority = domain.PriorityMedium
	}
	return domain.Envelope{
		Event:     event,
		Timestamp: s.Now().UTC().Format(time.RFC3339),
		Source:    s.source,
		Version:   EnvelopeVersion,
		Data:      data,
		Metadata: domain.EnvelopeMetadata{
			RequestID:  requestID,
			Priority:   priority,
			RetryCount: retryCount,
		},
	}
}

// Send delivers one event to a channel synchronously, retrying
// transient failures with exponential backoff.
func (s *Sender) Send(ctx context.Context, channel, event string, data map[string]any, priority string) error {
	url, ok := s.endpointFor(channel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	requestID := uuid.NewString()
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			s.Sleep(time.Duration(1<<(attempt-1)) * time.Second)
			s.mu.Lock()
			s.stats.Retried++
			s.mu.Unlock()
		}
		retryable, err := s.post(ctx, url, s.Envelope(event, data, priority, requestID, attempt))
		if err == nil {
			s.mu.Lock()
			s.stats.Sent++
			s.mu.Unlock()
			return nil
		}
		lastErr = err
		if !retryable {
			break
		}
		log.Warn().Str("channel", channel).Str("event", event).Int("attempt", attempt).Err(err).Msg("webhook delivery retrying")
	}
	s.mu.Lock()
	s.stats.Failed++
	s.mu.Unlock()
	return fmt.Errorf("webhook: deliver %s to %s: %w", event, channel, lastErr)
}

// Queue enqueues an event for asynchronous delivery. Delivery order is
// FIFO; a single drain goroutine paces deliveries.
func (s *Sender) Queue(channel, event string, data map[string]any, priority string) error {
	if _, ok := s.endpointFor(channel); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	s.mu.Lock()
	if len(s.queue) >= maxQueued {
		s.mu.Unlock()
		return ErrQueueFull
	}
	s.queue = append(s.queue, queued{channel: channel, event: event, data: data, priority: priority})
	start := !s.draining
	if start {
		s.draining = true
	}
	s.mu.Unlock()
	if start {
		go s.drain()
	}
	return nil
}

func (s *Sender) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		item := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.Send(context.Background(), item.channel, item.event, item.data, item.priority); err != nil {
			log.Error().Str("channel", item.channel).Str("event", item.event).Err(err).Msg("queued webhook delivery failed")
		}
		s.Sleep(drainPacing)
	}
}

// post returns (retryable, err). A 2xx response is success. Network
// errors and 408/429/5xx gateway statuses are retryable.
func (s *Sender) post(ctx context.Context, url string, env domain.Envelope) (bool, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auditflow-Event", env.Event)
	req.Header.Set("X-Auditflow-Delivery", env.Metadata.RequestID)
	if s.codec.Enabled() {
		req.Header.Set("X-Auditflow-Signature", s.codec.Sign(body))
	}
	res, err := s.client.Do(req)
	if err != nil {
		return true, err
	}
	defer res.Body.Close()
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return false, nil
	}
	resBody, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return retryableStatus(res.StatusCode), fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(resBody)))
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Test pings every configured endpoint with a ping envelope and
// reports per-channel reachability.
func (s *Sender) Test(ctx context.Context) map[string]string {
	results := make(map[string]string, len(s.endpoints))
	for channel, url := range s.endpoints {
		env := s.Envelope("ping", map[string]any{"channel": channel}, domain.PriorityLow, uuid.NewString(), 0)
		if _, err := s.post(ctx, url, env); err != nil {
			results[channel] = err.Error()
			continue
		}
		results[channel] = "ok"
	}
	return results
}
