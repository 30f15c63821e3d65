package sensors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arloliu/go-instr/device"
)

// DefaultFetchTimeout bounds one HTTP round trip to a remote source.
const DefaultFetchTimeout = 10 * time.Second

// Fetcher obtains one batch of readings from a remote source.
type Fetcher interface {
	Fetch(ctx context.Context) ([]device.Reading, error)
}

// Remote is a polling driver around a Fetcher. A failed fetch is one
// skipped cycle: the error is reported wrapped in
// device.ErrDataUnavailable and the schedule keeps running.
type Remote struct {
	*device.Poller

	fetcher Fetcher
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRemote creates a remote sensor driver around fetcher and starts
// its polling schedule. In one-shot mode (non-positive interval) the
// source is fetched once when opened.
func NewRemote(fetcher Fetcher, em *device.Emitter, interval time.Duration, opts ...device.PollerOption) (*Remote, error) {
	if fetcher == nil {
		return nil, errors.New("sensors: fetcher must not be nil")
	}

	d := &Remote{fetcher: fetcher}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	opts = append(opts, device.WithPollerCloser(func() error {
		d.cancel()
		return nil
	}))
	d.Poller = device.NewPoller(em, interval, d.requestReadings, opts...)

	if err := d.StartPolling(); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.PollOnce(); err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

func (d *Remote) requestReadings() {
	readings, err := d.fetcher.Fetch(d.ctx)
	if err != nil {
		d.SendError(fmt.Errorf("%w: %w", device.ErrDataUnavailable, err))
		return
	}

	d.SendReadings(readings)
}

// HTTPFetcher fetches a document over HTTP GET and converts it to
// readings with a parse function.
type HTTPFetcher struct {
	url    string
	client *http.Client
	parse  func(body []byte) ([]device.Reading, error)
}

// NewHTTPFetcher creates a fetcher issuing GET requests against url and
// handing each response body to parse.
func NewHTTPFetcher(url string, parse func(body []byte) ([]device.Reading, error)) *HTTPFetcher {
	return &HTTPFetcher{
		url:    url,
		client: &http.Client{Timeout: DefaultFetchTimeout},
		parse:  parse,
	}
}

// Fetch performs one GET round trip and parses the response body.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]device.Reading, error) {
	body, err := httpGet(ctx, f.client, f.url)
	if err != nil {
		return nil, err
	}

	return f.parse(body)
}

// httpGet performs one GET request and returns the response body.
// Transport failures and non-200 statuses are reported as network
// errors.
func httpGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("network error: unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}

	return body, nil
}
