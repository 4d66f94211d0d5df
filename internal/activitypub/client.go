// Package activitypub is the signed HTTP client used to talk to remote
// ActivityPub servers.
package activitypub

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/carlmjohnson/requests"
	"github.com/davecheney/solo/internal/httpsig"
	"github.com/go-json-experiment/json"
	"golang.org/x/time/rate"
)

// Accept is sent with every fetch.
const Accept = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

var (
	// ErrObjectNotFound is returned when the remote server answers 404.
	ErrObjectNotFound = errors.New("activitypub: object not found")
	// ErrObjectGone is returned when the remote server answers 410.
	ErrObjectGone = errors.New("activitypub: object is gone")
	// ErrObjectUnavailable is returned when the remote server refuses to share the object.
	ErrObjectUnavailable = errors.New("activitypub: object unavailable")
	// ErrNotAnObject is returned when the response is not an ActivityStreams object.
	ErrNotAnObject = errors.New("activitypub: not an object")
)

// Client fetches and posts ActivityPub documents, signing each request as
// the local actor. Requests to a single host are rate limited.
type Client struct {
	keyID      string
	privateKey crypto.PrivateKey
	transport  http.RoundTripper

	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewClient returns a client signing as keyID. rps and burst bound the
// request rate to any one host.
func NewClient(keyID string, privateKey crypto.PrivateKey, rps float64, burst int) *Client {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Client{
		keyID:      keyID,
		privateKey: privateKey,
		transport:  http.DefaultTransport,
		limit:      limit,
		burst:      burst,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// HTTPClient returns an unsigned *http.Client sharing the rate limits of c.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{
		Transport: requests.RoundTripFunc(func(req *http.Request) (*http.Response, error) {
			if err := c.wait(req.Context(), req.URL.Host); err != nil {
				return nil, err
			}
			return c.transport.RoundTrip(req)
		}),
	}
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.limit, c.burst)
		c.limiters[host] = l
	}
	return l
}

func (c *Client) wait(ctx context.Context, host string) error {
	return c.limiter(host).Wait(ctx)
}

// signer returns a transport that signs every request with body.
func (c *Client) signer(body []byte, status *int) requests.RoundTripFunc {
	return func(req *http.Request) (*http.Response, error) {
		if err := c.wait(req.Context(), req.URL.Host); err != nil {
			return nil, err
		}
		if err := httpsig.Sign(req, c.keyID, c.privateKey, body); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
		resp, err := c.transport.RoundTrip(req)
		if err == nil && status != nil {
			*status = resp.StatusCode
		}
		return resp, err
	}
}

// Fetch dereferences uri and decodes the document into obj.
func (c *Client) Fetch(ctx context.Context, uri string, obj *map[string]any) error {
	if _, err := url.Parse(uri); err != nil {
		return fmt.Errorf("Fetch: %w", err)
	}
	var doc map[string]any
	err := requests.URL(uri).
		Accept(Accept).
		Transport(c.signer(nil, nil)).
		CheckStatus(http.StatusOK).
		CheckContentType(
			"application/ld+json",
			"application/activity+json",
			"application/json",
		).
		ToJSON(&doc).
		Fetch(ctx)
	if err != nil {
		return classify(uri, err)
	}
	if _, ok := doc["type"].(string); !ok {
		return fmt.Errorf("%s: %w", uri, ErrNotAnObject)
	}
	*obj = doc
	return nil
}

// FetchCollection returns up to limit items of the collection at uri,
// following first and next links. limit <= 0 means no limit.
func (c *Client) FetchCollection(ctx context.Context, uri string, limit int) ([]any, error) {
	var items []any
	seen := make(map[string]bool)
	next := uri
	for next != "" && !seen[next] {
		seen[next] = true
		var page map[string]any
		if err := c.Fetch(ctx, next, &page); err != nil {
			return nil, err
		}
		next = ""
		switch page["type"] {
		case "Collection", "OrderedCollection":
			switch first := page["first"].(type) {
			case string:
				next = first
			case map[string]any:
				items = append(items, pageItems(first)...)
				next, _ = first["next"].(string)
			default:
				items = append(items, pageItems(page)...)
			}
		case "CollectionPage", "OrderedCollectionPage":
			items = append(items, pageItems(page)...)
			next, _ = page["next"].(string)
		default:
			return nil, fmt.Errorf("%s: unexpected collection type %v: %w", uri, page["type"], ErrNotAnObject)
		}
		if limit > 0 && len(items) >= limit {
			return items[:limit], nil
		}
	}
	return items, nil
}

func pageItems(page map[string]any) []any {
	if items, ok := page["orderedItems"].([]any); ok {
		return items
	}
	items, _ := page["items"].([]any)
	return items
}

// Post delivers body to inbox. The status code of the response is returned
// even when the delivery fails.
func (c *Client) Post(ctx context.Context, inbox string, body []byte) (int, error) {
	var status int
	err := requests.URL(inbox).
		Method(http.MethodPost).
		BodyBytes(body).
		ContentType(Accept).
		Transport(c.signer(body, &status)).
		CheckStatus(http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent).
		Fetch(ctx)
	return status, err
}

// Marshal encodes an ActivityPub document for delivery.
func Marshal(doc map[string]any) ([]byte, error) {
	return json.Marshal(doc)
}

func classify(uri string, err error) error {
	switch {
	case requests.HasStatusErr(err, http.StatusNotFound):
		return fmt.Errorf("%s: %w", uri, ErrObjectNotFound)
	case requests.HasStatusErr(err, http.StatusGone):
		return fmt.Errorf("%s: %w", uri, ErrObjectGone)
	case requests.HasStatusErr(err, http.StatusUnauthorized, http.StatusForbidden):
		return fmt.Errorf("%s: %w", uri, ErrObjectUnavailable)
	default:
		return err
	}
}

var clientErrors = func() []int {
	codes := make([]int, 0, 100)
	for code := 400; code < 500; code++ {
		codes = append(codes, code)
	}
	return codes
}()

// IsClientError reports whether err carries any 4xx status.
func IsClientError(err error) bool {
	return requests.HasStatusErr(err, clientErrors...)
}
