package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"navsync/internal/domain"
)

const maxResponseBytes = 16 * 1024 * 1024

type HTTPOptions struct {
	Timeout  time.Duration
	Attempts uint
	Delay    time.Duration
	Client   *http.Client
}

func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		Timeout:  10 * time.Second,
		Attempts: 3,
		Delay:    200 * time.Millisecond,
	}
}

// HTTPSource reads the listing from GET <base> and children from
// GET <base>/<id>/children.
type HTTPSource struct {
	base    *url.URL
	client  *http.Client
	options HTTPOptions
	logger  zerolog.Logger
}

func NewHTTPSource(base string, options HTTPOptions, logger zerolog.Logger) (*HTTPSource, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse source url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("source url %q must be http or https", base)
	}
	if options.Attempts == 0 {
		options.Attempts = 1
	}
	client := options.Client
	if client == nil {
		client = &http.Client{Timeout: options.Timeout}
	}
	return &HTTPSource{
		base:    parsed,
		client:  client,
		options: options,
		logger:  logger.With().Str("component", "http-source").Logger(),
	}, nil
}

func (source *HTTPSource) TopLevel(ctx context.Context) ([]domain.NodeRecord, error) {
	return source.fetch(ctx, source.base.String())
}

func (source *HTTPSource) Children(ctx context.Context, id domain.NodeID) ([]domain.NodeRecord, error) {
	return source.fetch(ctx, source.base.JoinPath(id.String(), "children").String())
}

func (source *HTTPSource) fetch(ctx context.Context, target string) ([]domain.NodeRecord, error) {
	return retry.DoWithData(
		func() ([]domain.NodeRecord, error) {
			return source.get(ctx, target)
		},
		retry.Context(ctx),
		retry.Attempts(source.options.Attempts),
		retry.Delay(source.options.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool {
			return retry.IsRecoverable(err) && Retryable(err)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			source.logger.Debug().Err(err).Uint("attempt", attempt+1).Str("url", target).Msg("retrying read")
		}),
	)
}

func (source *HTTPSource) get(ctx context.Context, target string) ([]domain.NodeRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := source.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, URL: target}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	records, err := decodeRecords(data, source.logger)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	return records, nil
}
