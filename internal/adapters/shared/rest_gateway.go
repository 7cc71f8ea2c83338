package shared

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/coachpo/venuelink/errs"
)

const (
	headerKey       = "X-AGGR-KEY"
	headerTimestamp = "X-AGGR-TIMESTAMP"
	headerSignature = "X-AGGR-SIGNATURE"

	defaultRestTimeout = 10 * time.Second
	errorBodyLimit     = 4 << 10
)

// RestGatewayOptions configure a RestGateway.
type RestGatewayOptions struct {
	Exchange      string
	BaseURL       string
	Signer        *Signer
	HTTPClient    *http.Client
	RateLimit     float64
	Timeout       time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
}

// RestGateway performs signed POST requests of the form {base}/{action}.
// It never retries; every failure comes back as an *errs.E.
type RestGateway struct {
	exchange string
	base     string
	signer   *Signer
	client   *http.Client
	limiter  *rate.Limiter
	clock    func() time.Time
	logger   *zap.Logger
	metrics  *restMetrics
}

type restEnvelope struct {
	OK         string          `json:"ok"`
	Error      string          `json:"error"`
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
}

// NewRestGateway validates options and returns a gateway.
func NewRestGateway(opts RestGatewayOptions) (*RestGateway, error) {
	if opts.Signer == nil {
		return nil, errs.New(opts.Exchange, errs.CodeInvalid,
			errs.WithMessage("rest gateway requires a signer"),
			errs.WithCanonicalCode(errs.CanonicalMissingCredentials))
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errs.New(opts.Exchange, errs.CodeInvalid, errs.WithMessage("rest base url required"))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRestTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &RestGateway{
		exchange: opts.Exchange,
		base:     base,
		signer:   opts.Signer,
		client:   client,
		limiter:  limiter,
		clock:    opts.Clock,
		logger:   opts.Logger.With(zap.String("exchange", opts.Exchange)),
		metrics:  newRestMetrics(opts.MeterProvider, opts.Exchange),
	}, nil
}

// Do signs and posts body to action and decodes the response data into out (when non-nil).
func (g *RestGateway) Do(ctx context.Context, action string, body any, out any) (err error) {
	started := time.Now()
	defer func() { g.metrics.observe(ctx, action, started, err) }()

	if body == nil {
		body = struct{}{}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return errs.New(g.exchange, errs.CodeInvalid, errs.WithMessage("encode "+action), errs.WithCause(err))
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return errs.New(g.exchange, errs.CodeRateLimited, errs.WithMessage("rate limiter wait"), errs.WithCause(err))
	}

	timestamp := strconv.FormatInt(g.clock().Unix(), 10)
	signature := g.signer.Sign(EncodingBase64, action, timestamp, string(payload))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.base+"/"+action, bytes.NewReader(payload))
	if err != nil {
		return errs.New(g.exchange, errs.CodeInvalid, errs.WithMessage("create request"), errs.WithCause(err))
	}
	req.Header.Set(headerKey, g.signer.Key())
	req.Header.Set(headerTimestamp, timestamp)
	req.Header.Set(headerSignature, signature)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("rest request failed", zap.String("action", action), zap.Error(err))
		return errs.New(g.exchange, errs.CodeNetwork, errs.WithMessage("request "+action), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		msg := strings.TrimSpace(string(raw))
		g.logger.Warn("rest request rejected",
			zap.String("action", action), zap.Int("status", resp.StatusCode))
		return errs.New(g.exchange, statusCode(resp.StatusCode),
			errs.WithMessage(fmt.Sprintf("%s status %d", action, resp.StatusCode)),
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawMessage(msg))
	}

	var envelope restEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return errs.New(g.exchange, errs.CodeUnrecognized, errs.WithMessage("decode "+action), errs.WithCause(err))
	}
	if envelope.Error != "" {
		return errs.New(g.exchange, errs.CodeExchange,
			errs.WithMessage(action+" rejected"),
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawCode(strconv.Itoa(envelope.StatusCode)),
			errs.WithRawMessage(envelope.Error))
	}
	if out == nil || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return errs.New(g.exchange, errs.CodeUnrecognized, errs.WithMessage("decode "+action+" data"), errs.WithCause(err))
	}
	return nil
}

func statusCode(status int) errs.Code {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errs.CodeAuth
	case http.StatusTooManyRequests:
		return errs.CodeRateLimited
	default:
		return errs.CodeExchange
	}
}
