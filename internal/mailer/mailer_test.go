package mailer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmail/backend/internal/config"
)

const rawMessage = "From: alice@example.com\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: Hi\r\n" +
	"Message-Id: <abc@vmail>\r\n" +
	"\r\n" +
	"Hello\r\n"

type mockSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (m *mockSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.input = in
	if m.err != nil {
		return nil, m.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESTransport(t *testing.T) {
	t.Run("原始邮件投递", func(t *testing.T) {
		client := &mockSES{}
		tr := NewSES(client, "tracking")

		id, err := tr.Send(context.Background(), "alice@example.com", []string{"bob@example.com", "carol@example.com"}, []byte(rawMessage))
		require.NoError(t, err)
		assert.Equal(t, "ses-1", id)
		assert.Equal(t, "alice@example.com", aws.ToString(client.input.FromEmailAddress))
		assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, client.input.Destination.ToAddresses)
		assert.Equal(t, []byte(rawMessage), client.input.Content.Raw.Data)
		assert.Equal(t, "tracking", aws.ToString(client.input.ConfigurationSetName))
	})

	t.Run("投递失败", func(t *testing.T) {
		tr := NewSES(&mockSES{err: errors.New("throttled")}, "")
		_, err := tr.Send(context.Background(), "a@x", []string{"b@x"}, []byte(rawMessage))
		assert.Error(t, err)
	})
}

func TestLogTransport(t *testing.T) {
	id, err := NewLogTransport(nil).Send(context.Background(), "a@x", []string{"b@x"}, []byte(rawMessage))
	require.NoError(t, err)
	assert.Equal(t, "abc@vmail", id)
}

// captureBackend 记录收到的邮件
type captureBackend struct {
	mu   sync.Mutex
	from string
	to   []string
	data []byte
}

func (b *captureBackend) NewSession(*gosmtp.Conn) (gosmtp.Session, error) {
	return &captureSession{b: b}, nil
}

type captureSession struct {
	b *captureBackend
}

func (s *captureSession) Mail(from string, _ *gosmtp.MailOptions) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.from = from
	return nil
}

func (s *captureSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.to = append(s.b.to, to)
	return nil
}

func (s *captureSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.data = data
	return nil
}

func (s *captureSession) Reset()        {}
func (s *captureSession) Logout() error { return nil }

func startRelay(t *testing.T) (*captureBackend, string) {
	return startRelayWithTLS(t, nil)
}

func startRelayWithTLS(t *testing.T, tlsConfig *tls.Config) (*captureBackend, string) {
	t.Helper()
	be := &captureBackend{}
	srv := gosmtp.NewServer(be)
	srv.Domain = "localhost"
	srv.TLSConfig = tlsConfig

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })
	return be, l.Addr().String()
}

func TestSMTPTransport(t *testing.T) {
	t.Run("投递到中继", func(t *testing.T) {
		be, addr := startRelay(t)
		tr := NewSMTP(config.MailerConfig{SMTPAddr: addr, HeloName: "vmail.test"}, nil)

		id, err := tr.Send(context.Background(), "alice@example.com", []string{"bob@example.com", "hidden@example.com"}, []byte(rawMessage))
		require.NoError(t, err)
		assert.Equal(t, "abc@vmail", id)

		be.mu.Lock()
		defer be.mu.Unlock()
		assert.Equal(t, "alice@example.com", be.from)
		assert.Equal(t, []string{"bob@example.com", "hidden@example.com"}, be.to)
		assert.Contains(t, string(be.data), "Subject: Hi")
	})

	t.Run("没有收件人", func(t *testing.T) {
		tr := NewSMTP(config.MailerConfig{SMTPAddr: "127.0.0.1:1"}, nil)
		_, err := tr.Send(context.Background(), "a@x", nil, []byte(rawMessage))
		assert.Error(t, err)
	})

	t.Run("中继不可达", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := l.Addr().String()
		l.Close()

		tr := NewSMTP(config.MailerConfig{SMTPAddr: addr}, nil)
		_, err = tr.Send(context.Background(), "a@x", []string{"b@x"}, []byte(rawMessage))
		assert.Error(t, err)
	})
}

// relayCertificate 复用 httptest 的自签名证书，返回服务端配置与信任该证书的根池
func relayCertificate(t *testing.T) (*tls.Config, *x509.CertPool) {
	t.Helper()
	ts := httptest.NewTLSServer(http.NotFoundHandler())
	t.Cleanup(ts.Close)

	roots := x509.NewCertPool()
	roots.AddCert(ts.Certificate())
	return &tls.Config{Certificates: ts.TLS.Certificates}, roots
}

func TestSMTPTransportStartTLS(t *testing.T) {
	t.Run("升级到 TLS 后投递", func(t *testing.T) {
		serverTLS, roots := relayCertificate(t)
		be, addr := startRelayWithTLS(t, serverTLS)

		tr := NewSMTP(config.MailerConfig{SMTPAddr: addr, SMTPStartTLS: true}, nil)
		tr.tlsConfig = &tls.Config{RootCAs: roots}

		id, err := tr.Send(context.Background(), "alice@example.com", []string{"bob@example.com"}, []byte(rawMessage))
		require.NoError(t, err)
		assert.Equal(t, "abc@vmail", id)

		be.mu.Lock()
		defer be.mu.Unlock()
		assert.Equal(t, []string{"bob@example.com"}, be.to)
		assert.Contains(t, string(be.data), "Subject: Hi")
	})

	t.Run("中继不支持 STARTTLS", func(t *testing.T) {
		be, addr := startRelay(t)
		tr := NewSMTP(config.MailerConfig{SMTPAddr: addr, SMTPStartTLS: true}, nil)

		_, err := tr.Send(context.Background(), "alice@example.com", []string{"bob@example.com"}, []byte(rawMessage))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "starttls")

		be.mu.Lock()
		defer be.mu.Unlock()
		assert.Empty(t, be.data)
	})

	t.Run("证书不受信任", func(t *testing.T) {
		serverTLS, _ := relayCertificate(t)
		be, addr := startRelayWithTLS(t, serverTLS)

		tr := NewSMTP(config.MailerConfig{SMTPAddr: addr, SMTPStartTLS: true}, nil)
		_, err := tr.Send(context.Background(), "alice@example.com", []string{"bob@example.com"}, []byte(rawMessage))
		require.Error(t, err)

		be.mu.Lock()
		defer be.mu.Unlock()
		assert.Empty(t, be.data)
	})
}

func TestNew(t *testing.T) {
	cfg := &config.Config{Mailer: config.MailerConfig{Type: "log"}}
	tr, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &LogTransport{}, tr)

	cfg.Mailer.Type = "pigeon"
	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err)
}
