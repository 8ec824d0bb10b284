package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmail/backend/internal/domain"
	"vmail/backend/internal/resolver"
	"vmail/backend/internal/storage"
	"vmail/backend/internal/storage/memory"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

// captureNotifier 记录发布的通知
type captureNotifier struct {
	mu     sync.Mutex
	events []domain.NewMailEvent
	err    error
}

func (n *captureNotifier) Publish(_ context.Context, event domain.NewMailEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

// failingContent 对指定用户的写入返回错误
type failingContent struct {
	*memory.ContentStore
	failUser string
}

func (f *failingContent) Put(ctx context.Context, path string, content *domain.EmailContent) error {
	if strings.HasPrefix(path, "emails/"+f.failUser+"/") {
		return errors.New("disk full")
	}
	return f.ContentStore.Put(ctx, path, content)
}

// brokenResolver 对指定地址返回错误
type brokenResolver struct {
	resolver.AddressResolver
	broken string
}

func (b *brokenResolver) Resolve(ctx context.Context, address string) (string, bool, error) {
	if address == b.broken {
		return "", false, errors.New("directory timeout")
	}
	return b.AddressResolver.Resolve(ctx, address)
}

type fixture struct {
	meta     *memory.Store
	content  *memory.ContentStore
	notifier *captureNotifier
	ingester *Ingester
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		meta:     memory.NewStore(),
		content:  memory.NewContentStore(),
		notifier: &captureNotifier{},
	}
	dir := memory.NewDirectory(map[string]string{
		"bob@vmail.io":   "bob",
		"carol@vmail.io": "carol",
	})
	f.ingester = NewIngester(f.meta, f.content, f.content, resolver.New(dir, nil), f.notifier, nil, nil)
	f.ingester.now = func() time.Time { return fixedNow }
	return f
}

func TestIngest(t *testing.T) {
	t.Run("每个收件人一份副本", func(t *testing.T) {
		f := newFixture(t)
		report, err := f.ingester.Ingest(context.Background(), crlf(multipartMessage))
		require.NoError(t, err)
		require.Len(t, report.Recipients, 2)
		assert.Equal(t, 2, report.Stored())
		assert.Equal(t, 2, f.meta.Len())
		assert.Equal(t, 2, f.content.Len())

		for _, rr := range report.Recipients {
			rec, err := f.meta.Get(context.Background(), rr.EmailID)
			require.NoError(t, err)
			assert.Equal(t, rr.UserID, rec.OwnerID)
			assert.Equal(t, domain.FolderInbox, rec.Folder)
			assert.False(t, rec.Read)
			assert.False(t, rec.Starred)
			assert.True(t, rec.HasAttachments)
			assert.Equal(t, []string{rr.Address}, rec.To)
			assert.Equal(t, []string{"dave@example.com"}, rec.Cc)
			assert.Equal(t, "m1@example.com", rec.TransportMessageID)
			assert.Equal(t, domain.ContentPath(rr.UserID, rr.EmailID), rec.ContentRef)
			assert.Equal(t, fixedNow, rec.Timestamp)
			assert.True(t, strings.HasPrefix(rr.EmailID, rr.UserID+"-"))

			content, err := f.content.Get(context.Background(), rec.ContentRef)
			require.NoError(t, err)
			assert.Equal(t, "你好", content.Subject)
			require.Len(t, content.Attachments, 1)
		}

		require.Len(t, f.notifier.events, 2)
		assert.Equal(t, "你好", f.notifier.events[0].Subject)
	})

	t.Run("未解析的地址被跳过", func(t *testing.T) {
		f := newFixture(t)
		raw := crlf("From: a@x\nTo: bob@vmail.io, ghost@vmail.io\nSubject: s\n\nbody")
		report, err := f.ingester.Ingest(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, []string{"ghost@vmail.io"}, report.Unresolved)
		assert.Equal(t, 1, f.meta.Len())
	})

	t.Run("无人可解析时丢弃", func(t *testing.T) {
		f := newFixture(t)
		raw := crlf("From: a@x\nTo: ghost@vmail.io\nSubject: s\n\nbody")
		report, err := f.ingester.Ingest(context.Background(), raw)
		require.NoError(t, err)
		assert.True(t, report.Dropped())
		assert.Zero(t, f.meta.Len())
		assert.Zero(t, f.content.Len())
		assert.Empty(t, f.notifier.events)
	})

	t.Run("重复地址只投递一次", func(t *testing.T) {
		f := newFixture(t)
		raw := crlf("From: a@x\nTo: bob@vmail.io, BOB@vmail.io\nSubject: s\n\nbody")
		_, err := f.ingester.Ingest(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, 1, f.meta.Len())
	})

	t.Run("预览截取前100个字符", func(t *testing.T) {
		f := newFixture(t)
		body := strings.Repeat("邮", 150)
		report, err := f.ingester.Ingest(context.Background(), crlf("From: a@x\nTo: bob@vmail.io\nSubject: s\nContent-Type: text/plain; charset=utf-8\n\n"+body))
		require.NoError(t, err)
		rec, err := f.meta.Get(context.Background(), report.Recipients[0].EmailID)
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("邮", 100), rec.Preview)
		assert.False(t, rec.HasAttachments)
	})

	t.Run("通知失败不影响投递", func(t *testing.T) {
		f := newFixture(t)
		f.notifier.err = errors.New("hub down")
		report, err := f.ingester.Ingest(context.Background(), crlf("From: a@x\nTo: bob@vmail.io\nSubject: s\n\nbody"))
		require.NoError(t, err)
		assert.Equal(t, 1, report.Stored())
	})
}

func TestIngestFailures(t *testing.T) {
	raw := crlf("From: a@x\nTo: bob@vmail.io, carol@vmail.io\nSubject: s\n\nbody")

	t.Run("部分收件人失败", func(t *testing.T) {
		f := newFixture(t)
		f.ingester.content = &failingContent{ContentStore: f.content, failUser: "carol"}

		report, err := f.ingester.Ingest(context.Background(), raw)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrPartialIngestion)
		assert.Equal(t, domain.ErrPartialIngestion, domain.KindOf(err))

		var partial *PartialIngestionError
		require.ErrorAs(t, err, &partial)
		assert.Equal(t, 1, partial.Report.Stored())
		assert.Equal(t, 1, partial.Report.Failed())
		assert.Equal(t, report, partial.Report)

		// bob 的副本仍然完整
		assert.Equal(t, 1, f.meta.Len())
		assert.Len(t, f.notifier.events, 1)
		assert.Equal(t, "bob", f.notifier.events[0].UserID)
	})

	t.Run("全部收件人失败", func(t *testing.T) {
		f := newFixture(t)
		f.ingester.content = &failingContent{ContentStore: f.content, failUser: "bob"}
		f.ingester.resolver = &brokenResolver{AddressResolver: f.ingester.resolver, broken: "carol@vmail.io"}

		_, err := f.ingester.Ingest(context.Background(), raw)
		require.Error(t, err)
		assert.Equal(t, domain.ErrStoreUnavailable, domain.KindOf(err))
		var partial *PartialIngestionError
		require.ErrorAs(t, err, &partial)
		assert.Equal(t, 2, partial.Report.Failed())
		assert.Zero(t, f.meta.Len())
	})

	t.Run("解析错误只影响该收件人", func(t *testing.T) {
		f := newFixture(t)
		f.ingester.resolver = &brokenResolver{AddressResolver: f.ingester.resolver, broken: "carol@vmail.io"}

		_, err := f.ingester.Ingest(context.Background(), raw)
		assert.Equal(t, domain.ErrPartialIngestion, domain.KindOf(err))
		assert.Equal(t, 1, f.meta.Len())
	})
}

func TestIngestObject(t *testing.T) {
	t.Run("从原始邮件存储读取", func(t *testing.T) {
		f := newFixture(t)
		key := "raw/2024/05/06/abc.eml"
		require.NoError(t, f.content.PutRaw(context.Background(), key, crlf("From: a@x\nTo: bob@vmail.io\nSubject: s\n\nbody")))

		report, err := f.ingester.IngestObject(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Stored())
	})

	t.Run("对象不存在", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ingester.IngestObject(context.Background(), "raw/missing.eml")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
