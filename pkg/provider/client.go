package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/reviewpulse/platform/pkg/common/config"
	"github.com/reviewpulse/platform/pkg/common/httpclient"
	"github.com/reviewpulse/platform/pkg/common/logger"
	"github.com/reviewpulse/platform/pkg/common/retry"
)

const maxErrorBody = 4 * 1024

// Client walks the provider's paged review listing for one location.
type Client struct {
	http     *http.Client
	baseURL  string
	policy   retry.Policy
	pageSize int
	pageCap  int
}

func NewClient(cfg *config.Config, policy retry.Policy) *Client {
	pageCap := cfg.MaxPagesPerFetch
	if pageCap <= 0 {
		pageCap = 20
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Client{
		http:     httpclient.New(cfg.ProviderTimeout),
		baseURL:  cfg.ProviderBaseURL,
		policy:   policy,
		pageSize: pageSize,
		pageCap:  pageCap,
	}
}

// FetchResult is the outcome of one full paged fetch. StatusCounts is
// populated on every path, including failures, so the sync run always
// gets a histogram.
type FetchResult struct {
	Records        []ReviewRecord
	NotFound       bool
	Pages          int
	PagesExhausted bool
	StatusCounts   map[int]int
}

// FetchReviews pulls every page of reviews for the location resource.
// Each page is retried with backoff for 429/5xx only; other non-2xx
// statuses fail immediately. A 404 is reported as NotFound, not as an
// error. Repeated page tokens and the hard page cap both terminate the
// walk with PagesExhausted set.
func (c *Client) FetchReviews(ctx context.Context, locationName, token string) (FetchResult, error) {
	result := FetchResult{StatusCounts: map[int]int{}}
	seen := map[string]bool{"": true}
	pageToken := ""

	for {
		if result.Pages >= c.pageCap {
			result.PagesExhausted = true
			break
		}

		var page reviewPage
		err := c.policy.Do(ctx, fetchRetryable, func() error {
			p, fetchErr := c.getPage(ctx, locationName, token, pageToken, result.StatusCounts)
			if fetchErr != nil {
				return fetchErr
			}
			page = p
			return nil
		})
		if errors.Is(err, errNotFound) {
			result.NotFound = true
			return result, nil
		}
		if err != nil {
			var fe *FetchError
			if errors.As(err, &fe) {
				fe.Pages = result.Pages
			}
			return result, err
		}

		result.Pages++
		for _, raw := range page.Records {
			var rec ReviewRecord
			if unmarshalErr := json.Unmarshal(raw, &rec); unmarshalErr != nil {
				logger.Log.WithError(unmarshalErr).WithField("location", locationName).
					Warn("dropping undecodable review record")
				continue
			}
			rec.Raw = raw
			result.Records = append(result.Records, rec)
		}

		next := page.NextPageToken
		if next == "" {
			break
		}
		if seen[next] {
			result.PagesExhausted = true
			break
		}
		seen[next] = true
		pageToken = next
	}

	return result, nil
}

func (c *Client) getPage(ctx context.Context, locationName, token, pageToken string, counts map[int]int) (reviewPage, error) {
	endpoint := fmt.Sprintf("%s/%s/reviews", c.baseURL, locationName)
	query := url.Values{}
	query.Set("pageSize", strconv.Itoa(c.pageSize))
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return reviewPage{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return reviewPage{}, fmt.Errorf("requesting review page: %w", err)
	}
	defer resp.Body.Close()

	counts[resp.StatusCode]++

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return reviewPage{}, errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return reviewPage{}, &FetchError{Status: resp.StatusCode, Body: providerMessage(body)}
	}

	var page reviewPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return reviewPage{}, fmt.Errorf("decoding review page: %w", err)
	}
	return page, nil
}

// providerMessage extracts the provider's error message when the body
// follows its {error:{message}} shape, otherwise returns the raw body.
func providerMessage(body []byte) string {
	var parsed apiError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return string(body)
}

// fetchRetryable allows another attempt for rate limiting, server-side
// failures and transport errors; everything else is terminal.
func fetchRetryable(err error) bool {
	if errors.Is(err, errNotFound) {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Status == http.StatusTooManyRequests || fe.Status >= 500
	}
	return true
}
