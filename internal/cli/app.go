package cli

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Martian-dev/mailsync/internal/attachments"
	"github.com/Martian-dev/mailsync/internal/auth"
	"github.com/Martian-dev/mailsync/internal/config"
	"github.com/Martian-dev/mailsync/internal/domain"
	"github.com/Martian-dev/mailsync/internal/enrich"
	"github.com/Martian-dev/mailsync/internal/eventstore"
	"github.com/Martian-dev/mailsync/internal/jobs"
	"github.com/Martian-dev/mailsync/internal/providers/gmail"
	"github.com/Martian-dev/mailsync/internal/providers/outlook"
	"github.com/Martian-dev/mailsync/internal/sync"
)

// app is the wired sync pipeline shared by serve and sync.
type app struct {
	tokens  *auth.TokenClient
	runner  *sync.Runner
	manager *sync.Manager
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func outlookOptions(c config.Config) outlook.Options {
	return outlook.Options{
		BaseURL:           c.GraphBaseURL,
		MaxPages:          c.FetchMaxPages,
		PageSize:          c.FetchPageSize,
		MessageLookback:   days(c.MessageLookbackDays),
		CalendarLookback:  days(c.CalendarLookbackDays),
		CalendarLookahead: days(c.CalendarLookaheadDays),
	}
}

func gmailOptions(c config.Config) gmail.Options {
	return gmail.Options{
		Endpoint:          c.GoogleAPIEndpoint,
		MaxPages:          c.FetchMaxPages,
		PageSize:          c.FetchPageSize,
		MessageLookback:   days(c.MessageLookbackDays),
		CalendarLookback:  days(c.CalendarLookbackDays),
		CalendarLookahead: days(c.CalendarLookaheadDays),
	}
}

func newApp(c config.Config, store *eventstore.Store, log *slog.Logger) *app {
	tokens := auth.NewTokenClient(c.TokenServiceURL, c.TokenServiceKey)

	runner := &sync.Runner{
		Connections: store,
		Cursors:     sync.NewCursorStore(store, log),
		Writer: &sync.Writer{
			Events:        store,
			Precheck:      c.DedupPrecheck,
			LogDuplicates: c.LogDuplicates,
			Source:        "sync",
			Logger:        log,
		},
		Ledger: &sync.Ledger{Runs: store},
		Tokens: tokens,
		Fetchers: map[domain.ProviderName]sync.Fetcher{
			domain.ProviderOutlook: outlook.NewFetcher(outlookOptions(c)),
			domain.ProviderGmail:   gmail.NewFetcher(gmailOptions(c)),
		},
		Logger: log,
	}

	manager := sync.NewManager(runner, store, store, sync.ManagerConfig{
		Interval: c.SyncInterval,
		WorkerID: c.WorkerID,
		LeaseTTL: c.LeaseTTL,
	}, log)

	return &app{tokens: tokens, runner: runner, manager: manager}
}

// newRegistry registers the side-pipeline handlers for every job kind.
func newRegistry(c config.Config, store *eventstore.Store, tokens attachments.TokenProvider, log *slog.Logger) (*jobs.Registry, error) {
	blobs, err := attachments.NewBlobStore(filepath.Join(c.DataDir, "attachments"))
	if err != nil {
		return nil, err
	}
	pipeline := attachments.NewPipeline(store, tokens, map[domain.ProviderName]attachments.Source{
		domain.ProviderOutlook: &outlook.SDK{BaseURL: c.GraphBaseURL},
		domain.ProviderGmail:   &gmail.Attachments{Options: gmailOptions(c)},
	}, blobs, log)

	registry := jobs.NewRegistry()
	registry.Register(domain.JobRules, enrich.NewRuleTagger(store, log).Handle)
	registry.Register(domain.JobClassify, enrich.NewClassifier(store, log).Handle)
	registry.Register(domain.JobAttachments, pipeline.Handle)
	return registry, nil
}
