// Package outlook reads mail and calendar data from Microsoft Graph.
package outlook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/Martian-dev/mailsync/internal/domain"
	"github.com/Martian-dev/mailsync/internal/sync"
)

// Options configures the Graph delta fetcher.
type Options struct {
	BaseURL           string
	MaxPages          int
	PageSize          int
	MessageLookback   time.Duration
	CalendarLookback  time.Duration
	CalendarLookahead time.Duration

	// HTTPClient is the transport under the token-injecting client. Nil uses
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Fetcher pages through Graph delta queries for the inbox and calendar view.
type Fetcher struct {
	opts Options
	now  func() time.Time
}

// NewFetcher creates a Graph fetcher.
func NewFetcher(opts Options) *Fetcher {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://graph.microsoft.com/v1.0"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	return &Fetcher{opts: opts, now: time.Now}
}

type deltaResponse struct {
	Value     []json.RawMessage `json:"value"`
	NextLink  string            `json:"@odata.nextLink"`
	DeltaLink string            `json:"@odata.deltaLink"`
}

type deltaItem struct {
	ID      string          `json:"id"`
	Removed json.RawMessage `json:"@removed"`
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Graph error codes meaning the delta token can no longer be used.
var invalidTokenCodes = map[string]bool{
	"syncStateNotFound": true,
	"syncStateInvalid":  true,
	"resyncRequired":    true,
	"invalidDeltaToken": true,
}

// FetchPage resumes from cursor (a full delta or next link) or starts a
// windowed delta query, following next links up to the page cap.
func (f *Fetcher) FetchPage(ctx context.Context, accessToken, account string, resource domain.ResourceType, cursor string) (sync.Page, error) {
	link := cursor
	if link == "" {
		var err error
		link, err = f.initialURL(account, resource)
		if err != nil {
			return sync.Page{}, err
		}
	}

	client := f.client(ctx, accessToken)
	var page sync.Page
	for i := 0; i < f.opts.MaxPages; i++ {
		resp, err := f.get(ctx, client, link)
		if err != nil {
			return sync.Page{}, err
		}

		for _, raw := range resp.Value {
			var item deltaItem
			if err := json.Unmarshal(raw, &item); err != nil {
				return sync.Page{}, fmt.Errorf("decode %s item: %w", resource, err)
			}
			page.Records = append(page.Records, domain.RawRecord{
				Provider:   domain.ProviderOutlook,
				Resource:   resource,
				ProviderID: item.ID,
				Removed:    len(item.Removed) > 0,
				Payload:    raw,
			})
		}

		if resp.DeltaLink != "" {
			page.NextCursor = resp.DeltaLink
			return page, nil
		}
		if resp.NextLink == "" {
			return page, nil
		}
		link = resp.NextLink
	}

	page.Continuation = link
	return page, nil
}

func (f *Fetcher) initialURL(account string, resource domain.ResourceType) (string, error) {
	user := url.PathEscape(account)
	now := f.now().UTC()

	switch resource {
	case domain.ResourceMessages:
		since := now.Add(-f.opts.MessageLookback).Format(time.RFC3339)
		q := url.Values{}
		q.Set("$filter", "receivedDateTime ge "+since)
		return fmt.Sprintf("%s/users/%s/mailFolders/inbox/messages/delta?%s", f.opts.BaseURL, user, q.Encode()), nil
	case domain.ResourceCalendar:
		q := url.Values{}
		q.Set("startDateTime", now.Add(-f.opts.CalendarLookback).Format(time.RFC3339))
		q.Set("endDateTime", now.Add(f.opts.CalendarLookahead).Format(time.RFC3339))
		return fmt.Sprintf("%s/users/%s/calendarView/delta?%s", f.opts.BaseURL, user, q.Encode()), nil
	default:
		return "", fmt.Errorf("unsupported resource %q", resource)
	}
}

func (f *Fetcher) client(ctx context.Context, accessToken string) *http.Client {
	if f.opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.opts.HTTPClient)
	}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
}

func (f *Fetcher) get(ctx context.Context, client *http.Client, link string) (*deltaResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", fmt.Sprintf("odata.maxpagesize=%d", f.opts.PageSize))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read graph response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp.StatusCode, body)
	}

	var out deltaResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode graph response: %w", err)
	}
	return &out, nil
}

// classify maps a Graph error response onto the sync error taxonomy.
func classify(status int, body []byte) error {
	var ge graphError
	_ = json.Unmarshal(body, &ge)
	code := ge.Error.Code

	switch {
	case status == http.StatusGone || invalidTokenCodes[code]:
		return fmt.Errorf("graph %d %s: %w", status, code, domain.ErrCursorInvalid)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("graph %d %s: %w", status, code, domain.ErrUnauthorized)
	default:
		msg := ge.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return fmt.Errorf("graph %d %s: %s", status, code, msg)
	}
}
