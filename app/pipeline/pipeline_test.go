package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/settings"
	"github.com/lysyi3m/rss-relay/app/store"
	"github.com/lysyi3m/rss-relay/app/telegram"
)

const (
	feedA = "https://feeds.example.com/a.rss"
	feedB = "https://feeds.example.com/b.rss"
)

func rssDoc(items ...feed.Item) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>Test</title>`)
	for _, item := range items {
		fmt.Fprintf(&b, "<item><title><![CDATA[%s]]></title><link>%s</link><description><![CDATA[%s]]></description><guid>%s</guid></item>",
			item.Title, item.Link, item.Description, item.GUID)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

var (
	saleItem  = feed.Item{Title: "[出] E5 dedicated", Link: "https://lowendtalk.com/discussion/1", Description: "<p>cheap</p>", GUID: "1"}
	otherItem = feed.Item{Title: "Help with nginx", Link: "https://lowendtalk.com/discussion/2", Description: "question", GUID: "2"}
	thirdItem = feed.Item{Title: "[出] VPS", Link: "https://lowendtalk.com/discussion/3", Description: "offer", GUID: "3"}
)

type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string]string
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, url)
	doc, ok := f.docs[url]
	if !ok {
		return nil, fmt.Errorf("%w: HTTP 503", feed.ErrSourceUnavailable)
	}
	return []byte(doc), nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []feed.Item
	fail    bool
	panicOn string
	onSend  func()
}

func (n *fakeNotifier) Format(item feed.Item) string {
	if n.panicOn != "" && item.Title == n.panicOn {
		panic("formatter exploded")
	}
	return item.Link
}

func (n *fakeNotifier) Send(ctx context.Context, text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.onSend != nil {
		n.onSend()
	}
	if n.fail {
		return false
	}
	n.sent = append(n.sent, feed.Item{Link: text})
	return true
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakeClassifier struct {
	allow bool
	calls int
}

func (c *fakeClassifier) Classify(ctx context.Context, item feed.Item, ai settings.AI) bool {
	c.calls++
	return c.allow
}

type brokenStore struct {
	*store.Memory
}

func (b brokenStore) Seen(ctx context.Context, id string) (bool, error) {
	return false, errors.New("disk I/O error")
}

// panickingParser panics on documents containing marker and parses the rest.
type panickingParser struct {
	marker string
	parser Parser
}

func (p panickingParser) Run(data []byte) []feed.Item {
	if strings.Contains(string(data), p.marker) {
		panic("malformed document")
	}
	return p.parser.Run(data)
}

func newPipeline(fetcher Fetcher, notifier Notifier, st Store, classifier Classifier) *Pipeline {
	return New(Deps{
		Fetcher:    fetcher,
		Parser:     feed.NewParser(),
		Classifier: classifier,
		Notifier:   notifier,
		Store:      st,
	})
}

func TestRunOnce_EndToEnd(t *testing.T) {
	var (
		mu    sync.Mutex
		texts []string
	)
	tg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		assert.NoError(t, jsonDecode(r, &body))

		mu.Lock()
		texts = append(texts, body.Text)
		mu.Unlock()

		w.Write([]byte(`{"ok":true}`))
	}))
	defer tg.Close()

	notifier := telegram.NewNotifier(telegram.Options{APIURL: tg.URL, Token: "t", ChatID: "@chan"})
	fetcher := &fakeFetcher{docs: map[string]string{feedA: rssDoc(saleItem, otherItem)}}
	mem := store.NewMemory()

	p := newPipeline(fetcher, notifier, mem, nil)
	s := settings.Settings{EnableKeyword: true, Keywords: "出", Feeds: []string{feedA}}

	summary, err := p.RunOnce(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Sources)
	assert.Equal(t, 2, summary.Items)
	assert.Equal(t, 1, summary.Count(OutcomeSent))
	assert.Equal(t, 1, summary.Count(OutcomeKeywordRejected))

	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], `\[出\] E5 dedicated`)

	seen, err := mem.Seen(context.Background(), saleItem.Link)
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = mem.Seen(context.Background(), otherItem.Link)
	require.NoError(t, err)
	assert.False(t, seen, "rejected items must leave no dedup record")
}

func TestRunOnce_SecondRunSendsNothingNew(t *testing.T) {
	fetcher := &fakeFetcher{docs: map[string]string{feedA: rssDoc(saleItem, otherItem)}}
	notifier := &fakeNotifier{}
	p := newPipeline(fetcher, notifier, store.NewMemory(), nil)
	s := settings.Settings{Feeds: []string{feedA}}

	_, err := p.RunOnce(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 2, notifier.count())

	summary, err := p.RunOnce(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 2, notifier.count(), "second run must not resend")
	assert.Equal(t, 2, summary.Count(OutcomeDeduped))
}

func TestRunOnce_SendFailureLeavesItemUnmarked(t *testing.T) {
	fetcher := &fakeFetcher{docs: map[string]string{feedA: rssDoc(saleItem)}}
	notifier := &fakeNotifier{fail: true}
	mem := store.NewMemory()
	p := newPipeline(fetcher, notifier, mem, nil)
	s := settings.Settings{Feeds: []string{feedA}}

	summary, err := p.RunOnce(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Count(OutcomeSendFailed))

	seen, err := mem.Seen(context.Background(), saleItem.Link)
	require.NoError(t, err)
	assert.False(t, seen)

	notifier.fail = false
	summary, err = p.RunOnce(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Count(OutcomeSent), "failed item must be retried next run")
}

func TestRunOnce_OverlappingRun(t *testing.T) {
	fetcher := &fakeFetcher{docs: map[string]string{feedA: rssDoc(saleItem)}}
	notifier := &fakeNotifier{}
	mem := store.NewMemory()

	ok, err := mem.Acquire(context.Background(), store.RunLeaseKey, "other-run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	p := newPipeline(fetcher, notifier, mem, nil)
	_, err = p.RunOnce(context.Background(), settings.Settings{Feeds: []string{feedA}})

	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Empty(t, fetcher.calls, "no work may be done without the lease")
	assert.Zero(t, notifier.count())
}

func TestRunOnce_ReleasesLease(t *testing.T) {
	fetcher := &fakeFetcher{docs: map[string]string{feedA: rssDoc(saleItem)}}
	mem := store.NewMemory()
	p := newPipeline(fetcher, &fakeNotifier{}, mem, nil)

	_, err := p.RunOnce(context.Background(), settings.Settings{Feeds: []string{feedA}})
	require.NoError(t, err)

	ok, err := mem.Acquire(context.Background(), store.RunLeaseKey, "next", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "lease must be released when the run ends")
}

func TestRunOnce_CancelledBetweenItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &fakeFetcher{docs: map[string]string{
		feedA: rssDoc(saleItem, otherItem, thirdItem),
		feedB: rssDoc(feed.Item{Title: "b", Link: "https://b.example.com/1"}),
	}}
	notifier := &fakeNotifier{onSend: cancel}
	mem := store.NewMemory()
	p := newPipeline(fetcher, notifier, mem, nil)

	summary, err := p.RunOnce(ctx, settings.Settings{Feeds: []string{feedA, feedB}})

	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 1, notifier.count(), "the in-flight item completes, the rest are skipped")
	assert.Equal(t, 1, summary.Count(OutcomeSent))
	assert.Equal(t, []string{feedA}, fetcher.calls)

	seen, err := mem.Seen(context.Background(), saleItem.Link)
	require.NoError(t, err)
	assert.True(t, seen, "the completed send must still be recorded")

	ok, err := mem.Acquire(context.Background(), store.RunLeaseKey, "next", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "cancelled run must release the lease")
}

func TestRunOnce_FailingSourceDoesNotStopOthers(t *testing.T) {
	fetcher := &fakeFetcher{docs: map[string]string{feedB: rssDoc(otherItem)}}
	notifier := &fakeNotifier{}
	p := newPipeline(fetcher, notifier, store.NewMemory(), nil)

	summary, err := p.RunOnce(context.Background(), settings.Settings{Feeds: []string{feedA, feedB}})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Sources)
	assert.Equal(t, 1, summary.SourcesFailed)
	assert.Equal(t, 1, notifier.count())
	assert.Equal(t, []string{feedA, feedB}, fetcher.calls)
}

func TestRunOnce_Classifier(t *testing.T) {
	fetcher := &fakeFetcher{docs: map[string]string{feedA: rssDoc(saleItem)}}

	t.Run("rejects when enabled", func(t *testing.T) {
		classifier := &fakeClassifier{allow: false}
		notifier := &fakeNotifier{}
		p := newPipeline(fetcher, notifier, store.NewMemory(), classifier)

		summary, err := p.RunOnce(context.Background(), settings.Settings{EnableAI: true, Feeds: []string{feedA}})
		require.NoError(t, err)

		assert.Equal(t, 1, classifier.calls)
		assert.Equal(t, 1, summary.Count(OutcomeClassifierRejected))
		assert.Zero(t, notifier.count())
	})

	t.Run("skipped when disabled", func(t *testing.T) {
		classifier := &fakeClassifier{allow: false}
		notifier := &fakeNotifier{}
		p := newPipeline(fetcher, notifier, store.NewMemory(), classifier)

		_, err := p.RunOnce(context.Background(), settings.Settings{Feeds: []string{feedA}})
		require.NoError(t, err)

		assert.Zero(t, classifier.calls)
		assert.Equal(t, 1, notifier.count())
	})

	t.Run("not called for keyword rejects", func(t *testing.T) {
		classifier := &fakeClassifier{allow: true}
		p := newPipeline(fetcher, &fakeNotifier{}, store.NewMemory(), classifier)

		s := settings.Settings{EnableKeyword: true, Keywords: "nvme", EnableAI: true, Feeds: []string{feedA}}
		summary, err := p.RunOnce(context.Background(), s)
		require.NoError(t, err)

		assert.Zero(t, classifier.calls)
		assert.Equal(t, 1, summary.Count(OutcomeKeywordRejected))
	})
}

func TestRunOnce_PanicIsContained(t *testing.T) {
	fetcher := &fakeFetcher{docs: map[string]string{feedA: rssDoc(saleItem, otherItem)}}
	notifier := &fakeNotifier{panicOn: saleItem.Title}
	p := newPipeline(fetcher, notifier, store.NewMemory(), nil)

	summary, err := p.RunOnce(context.Background(), settings.Settings{Feeds: []string{feedA}})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Count(OutcomeErrored))
	assert.Equal(t, 1, summary.Count(OutcomeSent))
}

func TestRunOnce_ParserPanicFailsOnlyThatSource(t *testing.T) {
	fetcher := &fakeFetcher{docs: map[string]string{
		feedA: rssDoc(saleItem),
		feedB: rssDoc(otherItem),
	}}
	notifier := &fakeNotifier{}
	p := New(Deps{
		Fetcher:  fetcher,
		Parser:   panickingParser{marker: saleItem.Title, parser: feed.NewParser()},
		Notifier: notifier,
		Store:    store.NewMemory(),
	})

	var (
		summary Summary
		err     error
	)
	require.NotPanics(t, func() {
		summary, err = p.RunOnce(context.Background(), settings.Settings{Feeds: []string{feedA, feedB}})
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Sources)
	assert.Equal(t, 1, summary.SourcesFailed)
	assert.Equal(t, 1, summary.Count(OutcomeSent))
	assert.Equal(t, 1, notifier.count())
}

func TestRunOnce_UnidentifiableItem(t *testing.T) {
	fetcher := &fakeFetcher{docs: map[string]string{feedA: rssDoc(feed.Item{Description: "orphan"})}}
	notifier := &fakeNotifier{}
	p := newPipeline(fetcher, notifier, store.NewMemory(), nil)

	summary, err := p.RunOnce(context.Background(), settings.Settings{Feeds: []string{feedA}})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Count(OutcomeUnidentifiable))
	assert.Zero(t, notifier.count())
}

func TestRunOnce_StoreErrorSkipsItem(t *testing.T) {
	fetcher := &fakeFetcher{docs: map[string]string{feedA: rssDoc(saleItem)}}
	notifier := &fakeNotifier{}
	p := newPipeline(fetcher, notifier, brokenStore{store.NewMemory()}, nil)

	summary, err := p.RunOnce(context.Background(), settings.Settings{Feeds: []string{feedA}})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Count(OutcomeStoreError))
	assert.Zero(t, notifier.count())
}

func TestRunOnce_NotConfigured(t *testing.T) {
	_, err := New(Deps{}).RunOnce(context.Background(), settings.Settings{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func jsonDecode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
