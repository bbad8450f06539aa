// Package classifier maps document text to a single category name.
//
// The Client owns everything provider-independent: it splits long text into
// chunks, asks a Backend for a category per chunk, and majority-votes the
// answers. Outbound calls are rate limited, retried on transient failures and
// bounded by a per-call timeout.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/pbaille/deskorg/internal/config"
	"github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrEmptyText is returned when there is nothing to classify
var ErrEmptyText = errors.New("empty text")

// Classifier returns a category name for a document's text
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// CategoryAware classifiers are told which categories already exist so the
// model can reuse them
type CategoryAware interface {
	SetKnownCategories(categories []string)
}

// Backend categorizes a single chunk
type Backend interface {
	Categorize(ctx context.Context, chunk string, known []string) (string, error)
}

// Client implements Classifier on top of a Backend
type Client struct {
	backend Backend
	cfg     config.ClassifierConfig
	limiter *rate.Limiter
	log     *logrus.Entry

	mu    sync.RWMutex
	known []string
}

// NewClient wraps backend with chunking, voting, rate limiting and retries
func NewClient(backend Backend, cfg config.ClassifierConfig, log *logrus.Entry) *Client {
	perSec := rate.Limit(float64(cfg.RateLimit) / 60)
	if cfg.RateLimit <= 0 {
		perSec = rate.Inf
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		backend: backend,
		cfg:     cfg,
		limiter: rate.NewLimiter(perSec, burst),
		log:     log,
	}
}

// New builds the Client for the configured provider
func New(cfg config.ClassifierConfig, log *logrus.Entry) (*Client, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Provider {
	case "anthropic":
		backend, err = NewAnthropic(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "openai":
		backend, err = NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "voyage":
		backend, err = NewVoyage(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Categories, cfg.MinSimilarity)
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s classifier: %w", cfg.Provider, err)
	}
	return NewClient(backend, cfg, log), nil
}

// SetKnownCategories replaces the category hint list
func (c *Client) SetKnownCategories(categories []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known = append([]string(nil), categories...)
}

func (c *Client) knownCategories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.known
}

// Classify returns the majority category over the text's chunks. Chunks that
// fail are skipped; the call fails only when no chunk produced a category.
func (c *Client) Classify(ctx context.Context, text string) (string, error) {
	chunks := Chunk(text, c.cfg.MaxChunkChars, c.cfg.MaxChunks)
	if len(chunks) == 0 {
		return "", ErrEmptyText
	}

	known := c.knownCategories()
	var (
		votes   []string
		lastErr error
	)
	for i, chunk := range chunks {
		category, err := c.categorize(ctx, chunk, known)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			c.log.WithError(err).WithField("chunk", i).Debug("chunk classification failed")
			lastErr = err
			continue
		}
		votes = append(votes, category)
	}
	if len(votes) == 0 {
		return "", lastErr
	}
	return Vote(votes), nil
}

// categorize makes one rate-limited, retried, time-bounded backend call
func (c *Client) categorize(ctx context.Context, chunk string, known []string) (string, error) {
	var category string
	backoff := retry.WithMaxRetries(uint64(c.cfg.Retries), retry.NewExponential(c.retryBase()))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		callCtx := ctx
		if c.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}

		got, err := c.backend.Categorize(callCtx, chunk, known)
		if err != nil {
			if transient(err) && ctx.Err() == nil {
				c.log.WithError(err).Debug("transient classifier error, will retry")
				return retry.RetryableError(err)
			}
			return err
		}
		category = strings.TrimSpace(got)
		if category == "" {
			return errors.New("backend returned an empty category")
		}
		return nil
	})
	return category, err
}

func (c *Client) retryBase() time.Duration {
	if c.cfg.RetryBackoff > 0 {
		return c.cfg.RetryBackoff
	}
	return time.Second
}

// statusCoder is implemented by errors carrying an HTTP status
type statusCoder interface {
	HTTPStatus() int
}

// transient reports whether err is worth retrying: rate limiting, server
// errors and network failures
func transient(err error) bool {
	var sc statusCoder
	if errors.As(err, &sc) {
		return retryableStatus(sc.HTTPStatus())
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Chunk splits text into at most maxChunks pieces of at most size runes,
// preferring to break at whitespace
func Chunk(text string, size, maxChunks int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if size <= 0 {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 && (maxChunks <= 0 || len(chunks) < maxChunks) {
		if len(runes) <= size {
			chunks = append(chunks, string(runes))
			break
		}
		cut := size
		for i := size; i > size/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
		piece := strings.TrimSpace(string(runes[:cut]))
		if piece != "" {
			chunks = append(chunks, piece)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes[cut:]), unicode.IsSpace))
	}
	return chunks
}

// Vote returns the most frequent category; ties go to the earliest answer
func Vote(categories []string) string {
	counts := make(map[string]int, len(categories))
	best, bestCount := "", 0
	for _, c := range categories {
		counts[c]++
	}
	for _, c := range categories {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return best
}

var (
	_ Classifier    = (*Client)(nil)
	_ CategoryAware = (*Client)(nil)
)
