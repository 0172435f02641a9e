// Package dispatch delivers settlement decisions to the escrow ledger.
// Decisions are enqueued on a Redis list outbox and drained by a worker
// that POSTs HMAC-signed notifications; without Redis, delivery runs
// inline on a background goroutine.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"wagerlane/pkg/anchor/rfc3161"
	"wagerlane/pkg/domain"
	"wagerlane/pkg/ledgerhook"
	"wagerlane/pkg/proofhash"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const DefaultQueueKey = "settlement:decision:outbox"

// Envelope is the wire payload POSTed to the ledger webhook.
type Envelope struct {
	EventID      string                    `json:"event_id"`
	EventType    string                    `json:"event_type"`
	Challenge    domain.Challenge          `json:"challenge"`
	Decision     domain.SettlementDecision `json:"decision"`
	DecisionHash string                    `json:"decision_hash"`
	Anchor       *rfc3161.Receipt          `json:"anchor,omitempty"`
	EnqueuedAt   time.Time                 `json:"enqueued_at"`
}

type Stats struct {
	Enqueued      uint64
	Delivered     uint64
	Failed        uint64
	Retries       uint64
	LastDelivered time.Time
}

type Config struct {
	WebhookURL    string
	WebhookSecret string
	QueueKey      string
	MaxAttempts   int
	Backoff       time.Duration
}

type Dispatcher struct {
	cfg        Config
	rdb        *redis.Client
	httpClient *http.Client
	log        logrus.FieldLogger
	anchorer   *rfc3161.Anchorer

	statsMu sync.RWMutex
	stats   Stats

	inlineWG sync.WaitGroup
}

type Option func(*Dispatcher)

// WithRedis makes the dispatcher durable: Dispatch enqueues and Run drains.
func WithRedis(rdb *redis.Client) Option {
	return func(d *Dispatcher) { d.rdb = rdb }
}

func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

// WithAnchorer timestamps each decision hash at a TSA before delivery.
func WithAnchorer(a *rfc3161.Anchorer) Option {
	return func(d *Dispatcher) { d.anchorer = a }
}

func New(cfg Config, log logrus.FieldLogger, opts ...Option) *Dispatcher {
	if cfg.QueueKey == "" {
		cfg.QueueKey = DefaultQueueKey
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	d := &Dispatcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func eventTypeFor(dec domain.SettlementDecision) string {
	switch {
	case dec.Kind == domain.KindResolution:
		return "settlement.resolved"
	case dec.Outcome == domain.OutcomeAutoReleased:
		return "settlement.auto_released"
	default:
		return "settlement.dispute_opened"
	}
}

// Dispatch never blocks the settlement path. With Redis the envelope is
// pushed to the outbox; otherwise delivery happens on its own goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, c domain.Challenge, dec domain.SettlementDecision) {
	hash, _, err := proofhash.SumObject(dec)
	if err != nil {
		d.log.WithError(err).Error("hash decision")
		return
	}
	env := Envelope{
		EventID:      "evt_" + uuid.NewString(),
		EventType:    eventTypeFor(dec),
		Challenge:    c,
		Decision:     dec,
		DecisionHash: hash,
		EnqueuedAt:   time.Now().UTC(),
	}
	b, err := json.Marshal(env)
	if err != nil {
		d.log.WithError(err).Error("encode decision envelope")
		return
	}
	d.bumpStats(func(s *Stats) { s.Enqueued++ })

	if d.rdb != nil {
		err := d.rdb.LPush(ctx, d.cfg.QueueKey, b).Err()
		if err == nil {
			return
		}
		d.log.WithError(err).Warn("outbox push failed, delivering inline")
	}
	d.inlineWG.Add(1)
	go func() {
		defer d.inlineWG.Done()
		d.deliver(context.Background(), env)
	}()
}

// Run drains the Redis outbox until the context ends. No-op without Redis.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.rdb == nil {
		<-ctx.Done()
		return
	}
	for {
		res, err := d.rdb.BRPop(ctx, 5*time.Second, d.cfg.QueueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, redis.Nil) {
				d.log.WithError(err).Warn("outbox pop failed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(d.cfg.Backoff):
				}
			}
			continue
		}
		// BRPop returns [key, value].
		if len(res) != 2 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
			d.log.WithError(err).Error("decode outbox envelope")
			continue
		}
		d.deliver(ctx, env)
	}
}

// Wait blocks until in-flight inline deliveries finish. For shutdown.
func (d *Dispatcher) Wait() { d.inlineWG.Wait() }

func (d *Dispatcher) deliver(ctx context.Context, env Envelope) {
	if d.cfg.WebhookURL == "" {
		return
	}
	if d.anchorer != nil && env.Anchor == nil {
		receipt, err := d.anchorer.AnchorHashHex(ctx, env.DecisionHash)
		if err != nil {
			d.log.WithError(err).WithField("challenge_id", env.Decision.ChallengeID).Warn("decision anchoring failed")
		} else {
			env.Anchor = &receipt
		}
	}
	body, err := json.Marshal(env)
	if err != nil {
		d.log.WithError(err).Error("encode delivery body")
		return
	}

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			d.bumpStats(func(s *Stats) { s.Retries++ })
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.cfg.Backoff * time.Duration(attempt-1)):
			}
		}
		if err := d.post(ctx, env, body); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"challenge_id": env.Decision.ChallengeID,
				"event_id":     env.EventID,
				"attempt":      attempt,
			}).Warn("ledger delivery failed")
			continue
		}
		d.bumpStats(func(s *Stats) {
			s.Delivered++
			s.LastDelivered = time.Now()
		})
		d.log.WithFields(logrus.Fields{
			"challenge_id": env.Decision.ChallengeID,
			"event_type":   env.EventType,
		}).Info("decision delivered to ledger")
		return
	}
	d.bumpStats(func(s *Stats) { s.Failed++ })
	d.log.WithFields(logrus.Fields{
		"challenge_id": env.Decision.ChallengeID,
		"event_id":     env.EventID,
	}).Error("ledger delivery exhausted retries")
}

func (d *Dispatcher) post(ctx context.Context, env Envelope, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := ledgerhook.SignRequest(req, d.cfg.WebhookSecret, env.EventID, env.EventType, body); err != nil {
		return err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.New("ledger_http_status_" + resp.Status)
	}
	return nil
}

func (d *Dispatcher) bumpStats(fn func(*Stats)) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	fn(&d.stats)
}

// GetStats returns a snapshot of delivery counters.
func (d *Dispatcher) GetStats() Stats {
	d.statsMu.RLock()
	defer d.statsMu.RUnlock()
	return d.stats
}
