// queue.go
//
// Redis-backed async mail queue. QueuedMailer implements Mailer and enqueues
// jobs instead of sending synchronously; StartWorker drains the queue in a
// background goroutine and hands each job to the inner Mailer (SMTPMailer).
// Recovery codes are AES-GCM encrypted while they sit in Redis.
package mail

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis list used as the outbound mail queue.
const QueueKey = "pomodoro:mail:queue"

// DefaultMaxQueueSize caps the queue so a dead SMTP relay cannot grow it without bound.
const DefaultMaxQueueSize int64 = 1000

// ErrQueueFull is returned by enqueue when the queue has reached its size cap.
var ErrQueueFull = errors.New("mail queue full")

const jobRecoveryCode = "recovery_code"

// EmailJob is the serialized payload pushed onto the queue.
type EmailJob struct {
	Type      string `json:"type"`
	ToEmail   string `json:"to_email"`
	Secret    []byte `json:"secret"`     // AES-GCM sealed code, nonce prefixed
	ExpiresIn int64  `json:"expires_in"` // nanoseconds
}

// QueuedMailer enqueues jobs to Redis so request handlers do not wait on SMTP.
type QueuedMailer struct {
	inner        Mailer
	rdb          *redis.Client
	encKey       []byte
	maxQueueSize int64         // 0 = unlimited
	sendTimeout  time.Duration // per-job bound on the inner send; 0 = worker lifetime only
}

// NewQueuedMailer wraps inner with a Redis-backed queue.
// encKey must be 16, 24 or 32 bytes (AES-128/192/256). Each dequeued job gets
// sendTimeout to reach the inner mailer before the worker moves on.
func NewQueuedMailer(inner Mailer, rdb *redis.Client, encKey []byte, maxSize int64, sendTimeout time.Duration) (*QueuedMailer, error) {
	if _, err := aes.NewCipher(encKey); err != nil {
		return nil, fmt.Errorf("mail queue key: %w", err)
	}
	return &QueuedMailer{inner: inner, rdb: rdb, encKey: encKey, maxQueueSize: maxSize, sendTimeout: sendTimeout}, nil
}

// enqueueScript pushes ARGV[2] onto KEYS[1] unless the list already holds ARGV[1] items.
// Returns 1 if enqueued, 0 if full. ARGV[1] = 0 disables the cap.
var enqueueScript = redis.NewScript(`
local max = tonumber(ARGV[1])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
    return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// SendRecoveryCode enqueues a recovery code email.
func (q *QueuedMailer) SendRecoveryCode(ctx context.Context, toEmail string, code int, expiresIn time.Duration) error {
	sealed, err := encryptToken(q.encKey, []byte(strconv.Itoa(code)))
	if err != nil {
		return err
	}
	return q.enqueue(ctx, EmailJob{
		Type:      jobRecoveryCode,
		ToEmail:   toEmail,
		Secret:    sealed,
		ExpiresIn: int64(expiresIn),
	})
}

func (q *QueuedMailer) enqueue(ctx context.Context, job EmailJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling email job: %w", err)
	}
	ok, err := enqueueScript.Run(ctx, q.rdb, []string{QueueKey}, q.maxQueueSize, data).Int64()
	if err != nil {
		return fmt.Errorf("enqueuing email job: %w", err)
	}
	if ok == 0 {
		return ErrQueueFull
	}
	return nil
}

// StartWorker drains the queue until ctx is cancelled. Call in a goroutine.
func (q *QueuedMailer) StartWorker(ctx context.Context) {
	for {
		// 2s block keeps the loop responsive to ctx without spinning.
		res, err := q.rdb.BLPop(ctx, 2*time.Second, QueueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, redis.Nil) {
				slog.Error("mail worker: queue pop failed", "err", err)
				time.Sleep(time.Second)
			}
			continue
		}
		var job EmailJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			slog.Error("mail worker: bad job payload", "err", err)
			continue
		}
		q.dispatch(ctx, job)
	}
}

// dispatch hands job to the inner Mailer. Failures are logged and dropped;
// the user can request a new code.
func (q *QueuedMailer) dispatch(ctx context.Context, job EmailJob) {
	switch job.Type {
	case jobRecoveryCode:
		raw, err := decryptToken(q.encKey, job.Secret)
		if err != nil {
			slog.Error("mail worker: cannot decrypt job", "type", job.Type, "err", err)
			return
		}
		code, err := strconv.Atoi(string(raw))
		if err != nil {
			slog.Error("mail worker: bad recovery code payload", "err", err)
			return
		}
		if q.sendTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, q.sendTimeout)
			defer cancel()
		}
		if err := q.inner.SendRecoveryCode(ctx, job.ToEmail, code, time.Duration(job.ExpiresIn)); err != nil {
			slog.Error("mail worker: send failed", "type", job.Type, "err", err)
		}
	default:
		slog.Error("mail worker: unknown job type", "type", job.Type)
	}
}

// encryptToken seals plaintext with AES-GCM; output is nonce || ciphertext.
func encryptToken(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decryptToken reverses encryptToken.
func decryptToken(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	ns := gcm.NonceSize()
	if len(sealed) < ns {
		return nil, errors.New("ciphertext too short")
	}
	plain, err := gcm.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("opening ciphertext: %w", err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
