// Package gmail reads mail from the Gmail API and meetings from Google Calendar.
package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Martian-dev/mailsync/internal/domain"
	"github.com/Martian-dev/mailsync/internal/sync"
)

// Options configures the Google fetcher.
type Options struct {
	// Endpoint overrides the API base URL, e.g. for tests.
	Endpoint          string
	MaxPages          int
	PageSize          int
	MessageLookback   time.Duration
	CalendarLookback  time.Duration
	CalendarLookahead time.Duration
	HTTPClient        *http.Client
}

// Fetcher pages through Gmail messages/history and Google Calendar events.
type Fetcher struct {
	opts Options
	now  func() time.Time
}

// NewFetcher creates a Google fetcher.
func NewFetcher(opts Options) *Fetcher {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	return &Fetcher{opts: opts, now: time.Now}
}

// cursor is the persisted resumption state. Messages use the history id once
// the initial listing finished, or After/PageToken while it is still paging.
// Calendar uses the sync token, or the window plus PageToken while paging.
type cursor struct {
	HistoryID uint64 `json:"h,omitempty"`
	After     int64  `json:"a,omitempty"`
	Before    int64  `json:"b,omitempty"`
	PageToken string `json:"p,omitempty"`
	SyncToken string `json:"s,omitempty"`
}

func decodeCursor(s string) (cursor, error) {
	var c cursor
	if s == "" {
		return c, nil
	}
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return c, fmt.Errorf("decode cursor: %w", domain.ErrCursorInvalid)
	}
	return c, nil
}

func (c cursor) encode() string {
	b, _ := json.Marshal(c)
	return string(b)
}

func clientOptions(ctx context.Context, opts Options, accessToken string) []option.ClientOption {
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
	clientOpts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	return clientOpts
}

// FetchPage implements sync.Fetcher.
func (f *Fetcher) FetchPage(ctx context.Context, accessToken, account string, resource domain.ResourceType, raw string) (sync.Page, error) {
	cur, err := decodeCursor(raw)
	if err != nil {
		return sync.Page{}, err
	}

	switch resource {
	case domain.ResourceMessages:
		svc, err := gmail.NewService(ctx, clientOptions(ctx, f.opts, accessToken)...)
		if err != nil {
			return sync.Page{}, fmt.Errorf("failed to create Gmail service: %w", err)
		}
		return f.fetchMessages(ctx, svc, account, cur)
	case domain.ResourceCalendar:
		svc, err := calendar.NewService(ctx, clientOptions(ctx, f.opts, accessToken)...)
		if err != nil {
			return sync.Page{}, fmt.Errorf("failed to create Calendar service: %w", err)
		}
		return f.fetchEvents(ctx, svc, cur)
	default:
		return sync.Page{}, fmt.Errorf("unsupported resource %q", resource)
	}
}

func (f *Fetcher) fetchMessages(ctx context.Context, svc *gmail.Service, user string, cur cursor) (sync.Page, error) {
	if cur.HistoryID != 0 && cur.After == 0 {
		return f.fetchHistory(ctx, svc, user, cur)
	}

	if cur.After == 0 {
		// Capture the history id before listing so nothing arriving during the
		// listing is missed by the next incremental run.
		profile, err := svc.Users.GetProfile(user).Context(ctx).Do()
		if err != nil {
			return sync.Page{}, classify("get profile", err)
		}
		cur = cursor{
			HistoryID: profile.HistoryId,
			After:     f.now().Add(-f.opts.MessageLookback).Unix(),
		}
	}

	var page sync.Page
	pageToken := cur.PageToken
	for i := 0; i < f.opts.MaxPages; i++ {
		call := svc.Users.Messages.List(user).
			Q("after:" + strconv.FormatInt(cur.After, 10)).
			IncludeSpamTrash(false).
			MaxResults(int64(f.opts.PageSize)).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return sync.Page{}, classify("list messages", err)
		}

		for _, m := range resp.Messages {
			rec, ok, err := getMessage(ctx, svc, user, m.Id)
			if err != nil {
				return sync.Page{}, err
			}
			if ok {
				page.Records = append(page.Records, rec)
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			if cur.HistoryID != 0 {
				page.NextCursor = cursor{HistoryID: cur.HistoryID}.encode()
			}
			return page, nil
		}
	}

	cur.PageToken = pageToken
	page.Continuation = cur.encode()
	return page, nil
}

func (f *Fetcher) fetchHistory(ctx context.Context, svc *gmail.Service, user string, cur cursor) (sync.Page, error) {
	var page sync.Page
	seen := map[string]bool{}
	latest := cur.HistoryID
	pageToken := cur.PageToken

	for i := 0; i < f.opts.MaxPages; i++ {
		call := svc.Users.History.List(user).
			StartHistoryId(cur.HistoryID).
			HistoryTypes("messageAdded").
			MaxResults(int64(f.opts.PageSize)).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
				return sync.Page{}, fmt.Errorf("history %d expired: %w", cur.HistoryID, domain.ErrCursorInvalid)
			}
			return sync.Page{}, classify("list history", err)
		}
		if resp.HistoryId > latest {
			latest = resp.HistoryId
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil || seen[added.Message.Id] {
					continue
				}
				seen[added.Message.Id] = true
				rec, ok, err := getMessage(ctx, svc, user, added.Message.Id)
				if err != nil {
					return sync.Page{}, err
				}
				if ok {
					page.Records = append(page.Records, rec)
				}
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			page.NextCursor = cursor{HistoryID: latest}.encode()
			return page, nil
		}
	}

	page.Continuation = cursor{HistoryID: cur.HistoryID, PageToken: pageToken}.encode()
	return page, nil
}

// excludedLabels keeps history replay in line with the initial listing, which
// skips spam and trash and never sees unsent drafts.
var excludedLabels = map[string]bool{"SPAM": true, "TRASH": true, "DRAFT": true}

func ingestible(msg *gmail.Message) bool {
	for _, l := range msg.LabelIds {
		if excludedLabels[l] {
			return false
		}
	}
	return true
}

// getMessage loads the full message. A message deleted since it was listed,
// or one carrying an excluded label, is reported as not found rather than
// failing the page.
func getMessage(ctx context.Context, svc *gmail.Service, user, id string) (domain.RawRecord, bool, error) {
	msg, err := svc.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return domain.RawRecord{}, false, nil
		}
		return domain.RawRecord{}, false, classify("get message "+id, err)
	}
	if !ingestible(msg) {
		return domain.RawRecord{}, false, nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return domain.RawRecord{}, false, fmt.Errorf("encode message %s: %w", id, err)
	}
	return domain.RawRecord{
		Provider:   domain.ProviderGmail,
		Resource:   domain.ResourceMessages,
		ProviderID: id,
		Payload:    payload,
	}, true, nil
}

func (f *Fetcher) fetchEvents(ctx context.Context, svc *calendar.Service, cur cursor) (sync.Page, error) {
	if cur.SyncToken == "" && cur.After == 0 {
		now := f.now()
		cur.After = now.Add(-f.opts.CalendarLookback).Unix()
		cur.Before = now.Add(f.opts.CalendarLookahead).Unix()
	}

	var page sync.Page
	pageToken := cur.PageToken
	for i := 0; i < f.opts.MaxPages; i++ {
		// Incremental requests must repeat every parameter of the initial
		// query except the time window.
		call := svc.Events.List("primary").
			SingleEvents(true).
			MaxResults(int64(f.opts.PageSize)).
			Context(ctx)
		if cur.SyncToken != "" {
			call = call.SyncToken(cur.SyncToken)
		} else {
			call = call.
				TimeMin(time.Unix(cur.After, 0).UTC().Format(time.RFC3339)).
				TimeMax(time.Unix(cur.Before, 0).UTC().Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) && gerr.Code == http.StatusGone {
				return sync.Page{}, fmt.Errorf("calendar sync token expired: %w", domain.ErrCursorInvalid)
			}
			return sync.Page{}, classify("list events", err)
		}

		for _, ev := range resp.Items {
			payload, err := json.Marshal(ev)
			if err != nil {
				return sync.Page{}, fmt.Errorf("encode event %s: %w", ev.Id, err)
			}
			page.Records = append(page.Records, domain.RawRecord{
				Provider:   domain.ProviderGmail,
				Resource:   domain.ResourceCalendar,
				ProviderID: ev.Id,
				Removed:    ev.Status == "cancelled" && ev.Start == nil,
				Payload:    payload,
			})
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			if resp.NextSyncToken != "" {
				page.NextCursor = cursor{SyncToken: resp.NextSyncToken}.encode()
			}
			return page, nil
		}
	}

	cur.PageToken = pageToken
	page.Continuation = cur.encode()
	return page, nil
}

// Profile returns the mailbox address of the authorized account.
func Profile(ctx context.Context, opts Options, accessToken string) (string, error) {
	svc, err := gmail.NewService(ctx, clientOptions(ctx, opts, accessToken)...)
	if err != nil {
		return "", fmt.Errorf("failed to create Gmail service: %w", err)
	}
	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", classify("get profile", err)
	}
	return profile.EmailAddress, nil
}

// classify maps Google API errors onto the sync error taxonomy.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden) {
		return fmt.Errorf("%s: %v: %w", op, err, domain.ErrUnauthorized)
	}
	return fmt.Errorf("%s: %w", op, err)
}
