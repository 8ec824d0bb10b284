package smtp

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmail/backend/internal/config"
	"vmail/backend/internal/domain"
	"vmail/backend/internal/ingest"
	"vmail/backend/internal/resolver"
	"vmail/backend/internal/storage/memory"
)

// stubIngester 返回预设结果并记录收到的邮件
type stubIngester struct {
	mu  sync.Mutex
	raw [][]byte
	err error
}

func (s *stubIngester) Ingest(_ context.Context, raw []byte) (*ingest.IngestReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append(s.raw, raw)
	return &ingest.IngestReport{}, s.err
}

const inbound = "From: alice@example.com\r\nTo: bob@vmail.io\r\nSubject: hi\r\n\r\nhello\r\n"

func smtpConfig() config.SMTPConfig {
	return config.SMTPConfig{
		Domain:         "mx.vmail.io",
		AcceptDomains:  []string{"vmail.io"},
		MaxMessageSize: 1 << 20,
		MaxRecipients:  2,
	}
}

func TestRawKey(t *testing.T) {
	key := RawKey("", time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC))
	assert.True(t, strings.HasPrefix(key, "raw/2024/03/09/"))
	assert.True(t, strings.HasSuffix(key, ".eml"))
	assert.True(t, strings.HasPrefix(RawKey("inbound/", time.Now()), "inbound/"))
}

func TestSessionRcpt(t *testing.T) {
	be := NewBackend(smtpConfig(), "", memory.NewContentStore(), &stubIngester{}, nil, nil)
	s := &session{backend: be}

	t.Run("接受本地域名", func(t *testing.T) {
		assert.NoError(t, s.Rcpt("<Bob@VMail.io>", nil))
	})

	t.Run("拒绝中继", func(t *testing.T) {
		err := s.Rcpt("victim@elsewhere.com", nil)
		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 550, smtpErr.Code)
	})

	t.Run("非法地址", func(t *testing.T) {
		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, s.Rcpt("no-at-sign", nil), &smtpErr)
		assert.Equal(t, 501, smtpErr.Code)
	})

	t.Run("收件人上限", func(t *testing.T) {
		require.NoError(t, s.Rcpt("carol@vmail.io", nil))
		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, s.Rcpt("dave@vmail.io", nil), &smtpErr)
		assert.Equal(t, 452, smtpErr.Code)
	})

	t.Run("重置", func(t *testing.T) {
		s.Reset()
		assert.Empty(t, s.recipients)
		assert.Empty(t, s.from)
	})
}

func TestDeliver(t *testing.T) {
	t.Run("保存原始邮件后处理", func(t *testing.T) {
		raw := memory.NewContentStore()
		ing := &stubIngester{}
		be := NewBackend(smtpConfig(), "raw", raw, ing, nil, nil)
		fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		be.now = func() time.Time { return fixed }

		s := &session{backend: be}
		require.NoError(t, s.Data(strings.NewReader(inbound)))
		require.Len(t, ing.raw, 1)
		assert.Equal(t, inbound, string(ing.raw[0]))
	})

	t.Run("超过大小上限", func(t *testing.T) {
		cfg := smtpConfig()
		cfg.MaxMessageSize = 10
		be := NewBackend(cfg, "", memory.NewContentStore(), &stubIngester{}, nil, nil)
		s := &session{backend: be}
		assert.ErrorIs(t, s.Data(strings.NewReader(inbound)), gosmtp.ErrDataTooLarge)
	})

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"部分失败仍然接受", domain.NewOpError("ingest", "", domain.ErrPartialIngestion, nil), 0},
		{"无法解析时永久拒绝", domain.NewOpError("ingest", "", domain.ErrInvalidRequest, nil), 554},
		{"存储不可用时临时拒绝", domain.NewOpError("ingest", "", domain.ErrStoreUnavailable, nil), 451},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			be := NewBackend(smtpConfig(), "", memory.NewContentStore(), &stubIngester{err: tc.err}, nil, nil)
			err := be.deliver(context.Background(), []byte(inbound))
			if tc.code == 0 {
				assert.NoError(t, err)
				return
			}
			var smtpErr *gosmtp.SMTPError
			require.ErrorAs(t, err, &smtpErr)
			assert.Equal(t, tc.code, smtpErr.Code)
		})
	}
}

func TestServerEndToEnd(t *testing.T) {
	meta, content := memory.NewStore(), memory.NewContentStore()
	dir := memory.NewDirectory(map[string]string{"bob@vmail.io": "bob"})
	ing := ingest.NewIngester(meta, content, content, resolver.New(dir, nil), nil, nil, nil)

	cfg := smtpConfig()
	srv := NewServer(cfg, NewBackend(cfg, "raw", content, ing, nil, nil))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(l)
	defer srv.Close()

	c, err := gosmtp.Dial(l.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.SendMail("alice@example.com", []string{"bob@vmail.io"}, strings.NewReader(inbound)))

	records, err := meta.QueryByOwnerFolder(context.Background(), "bob", domain.FolderInbox, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "hi", records[0].Subject)
}

func TestIPLimiter(t *testing.T) {
	t.Run("超过速率后拒绝", func(t *testing.T) {
		l := NewIPLimiter(2)
		assert.True(t, l.Allow("1.2.3.4"))
		assert.True(t, l.Allow("1.2.3.4"))
		assert.False(t, l.Allow("1.2.3.4"))
		assert.True(t, l.Allow("5.6.7.8"))
	})

	t.Run("不限制", func(t *testing.T) {
		l := NewIPLimiter(0)
		for i := 0; i < 100; i++ {
			assert.True(t, l.Allow("1.2.3.4"))
		}
	})

	t.Run("清理空闲IP", func(t *testing.T) {
		l := NewIPLimiter(5)
		l.Allow("1.2.3.4")
		assert.Equal(t, 1, l.Len())
		assert.Equal(t, 0, l.Cleanup(time.Hour))
		assert.Equal(t, 1, l.Cleanup(-time.Second))
		assert.Zero(t, l.Len())
	})
}
