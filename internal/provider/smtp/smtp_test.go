package smtp

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/ses-forwarder-lite/internal/provider"
)

// delivery is one message accepted by the test relay.
type delivery struct {
	from string
	to   []string
	data string
	tls  bool
}

// testBackend is a go-smtp backend that records every delivery.
type testBackend struct {
	mu         sync.Mutex
	deliveries []delivery
	username   string
	password   string
}

func (b *testBackend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	return &testSession{backend: b, conn: c}, nil
}

func (b *testBackend) Deliveries() []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]delivery(nil), b.deliveries...)
}

type testSession struct {
	backend       *testBackend
	conn          *gosmtp.Conn
	authenticated bool
	current       delivery
}

func (s *testSession) AuthMechanisms() []string {
	if s.backend.username == "" {
		return nil
	}
	return []string{sasl.Plain}
}

func (s *testSession) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.backend.username || password != s.backend.password {
			return errors.New("invalid credentials")
		}
		s.authenticated = true
		return nil
	}), nil
}

func (s *testSession) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.backend.username != "" && !s.authenticated {
		return gosmtp.ErrAuthRequired
	}
	s.current.from = from
	_, s.current.tls = s.conn.TLSConnectionState()
	return nil
}

func (s *testSession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if strings.HasPrefix(to, "blocked@") {
		return &gosmtp.SMTPError{Code: 550, EnhancedCode: gosmtp.EnhancedCode{5, 1, 1}, Message: "mailbox unavailable"}
	}
	s.current.to = append(s.current.to, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.current.data = string(b)
	s.backend.mu.Lock()
	s.backend.deliveries = append(s.backend.deliveries, s.current)
	s.backend.mu.Unlock()
	return nil
}

func (s *testSession) Reset() {
	s.current = delivery{}
}

func (s *testSession) Logout() error {
	return nil
}

func startRelay(t *testing.T, backend *testBackend) string {
	t.Helper()
	return startRelayWithTLS(t, backend, nil)
}

// startRelayWithTLS starts a relay that advertises STARTTLS when tlsConfig
// is set.
func startRelayWithTLS(t *testing.T, backend *testBackend, tlsConfig *tls.Config) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := gosmtp.NewServer(backend)
	server.Domain = "localhost"
	server.AllowInsecureAuth = true
	server.TLSConfig = tlsConfig

	go func() {
		_ = server.Serve(l)
	}()
	t.Cleanup(func() {
		_ = server.Close()
	})

	return l.Addr().String()
}

const testRaw = "From: alice@example.com\r\nSubject: Hi\r\n\r\nHello\r\n"

// selfSignedTLS returns a server config for 127.0.0.1 and a client config
// that trusts it.
func selfSignedTLS(t *testing.T) (server, client *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "relay.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	server = &tls.Config{Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}}}
	client = &tls.Config{RootCAs: pool, ServerName: "127.0.0.1"}
	return server, client
}

func TestSend(t *testing.T) {
	t.Parallel()

	backend := &testBackend{}
	addr := startRelay(t, backend)

	p := New(SMTPProviderConfig{Addr: addr, Sender: "relay@example.com"})
	_, err := p.Send(context.Background(), "dest@example.net", []byte(testRaw))
	require.NoError(t, err)

	deliveries := backend.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "relay@example.com", deliveries[0].from)
	assert.Equal(t, []string{"dest@example.net"}, deliveries[0].to)
	assert.Equal(t, testRaw, deliveries[0].data)
	assert.False(t, deliveries[0].tls, "relay without STARTTLS must be used in plaintext")
}

func TestSend_StartTLSWhenOffered(t *testing.T) {
	t.Parallel()

	serverTLS, clientTLS := selfSignedTLS(t)
	backend := &testBackend{username: "relay", password: "secret"}
	addr := startRelayWithTLS(t, backend, serverTLS)

	p := New(SMTPProviderConfig{
		Addr:      addr,
		Username:  "relay",
		Password:  "secret",
		Sender:    "relay@example.com",
		TLSConfig: clientTLS,
	})
	_, err := p.Send(context.Background(), "dest@example.net", []byte(testRaw))
	require.NoError(t, err)

	deliveries := backend.Deliveries()
	require.Len(t, deliveries, 1)
	assert.True(t, deliveries[0].tls, "STARTTLS must be used when the relay offers it")
	assert.Equal(t, testRaw, deliveries[0].data)
}

func TestSend_StartTLSVerifiesRelay(t *testing.T) {
	t.Parallel()

	serverTLS, _ := selfSignedTLS(t)
	backend := &testBackend{}
	addr := startRelayWithTLS(t, backend, serverTLS)

	// The default client config checks the relay against the system roots.
	p := New(SMTPProviderConfig{Addr: addr, Sender: "relay@example.com"})
	_, err := p.Send(context.Background(), "dest@example.net", []byte(testRaw))
	assert.Error(t, err)
	assert.Empty(t, backend.Deliveries())
}

func TestSend_WithAuth(t *testing.T) {
	t.Parallel()

	backend := &testBackend{username: "relay", password: "secret"}
	addr := startRelay(t, backend)

	p := New(SMTPProviderConfig{Addr: addr, Username: "relay", Password: "secret", Sender: "relay@example.com"})
	_, err := p.Send(context.Background(), "dest@example.net", []byte(testRaw))
	require.NoError(t, err)
	assert.Len(t, backend.Deliveries(), 1)
}

func TestSend_RecipientRejected(t *testing.T) {
	t.Parallel()

	backend := &testBackend{}
	addr := startRelay(t, backend)

	p := New(SMTPProviderConfig{Addr: addr, Sender: "relay@example.com"})
	_, err := p.Send(context.Background(), "blocked@example.net", []byte(testRaw))
	require.Error(t, err)

	var smtpErr *gosmtp.SMTPError
	assert.True(t, errors.As(err, &smtpErr), "want wrapped *gosmtp.SMTPError, got %v", err)
	assert.Empty(t, backend.Deliveries())
}

func TestSend_CancelledContext(t *testing.T) {
	t.Parallel()

	called := false
	p := New(SMTPProviderConfig{Addr: "unused:25", Sender: "relay@example.com"})
	p.sendMail = func(addr string, a sasl.Client, from string, to []string, r io.Reader) error {
		called = true
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Send(ctx, "dest@example.net", []byte(testRaw))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestSend_AuthOnlyWithBothCredentials(t *testing.T) {
	t.Parallel()

	var gotAuth sasl.Client
	p := New(SMTPProviderConfig{Addr: "relay:25", Username: "relay", Sender: "relay@example.com"})
	p.sendMail = func(addr string, a sasl.Client, from string, to []string, r io.Reader) error {
		gotAuth = a
		return nil
	}

	_, err := p.Send(context.Background(), "dest@example.net", []byte(testRaw))
	require.NoError(t, err)
	assert.Nil(t, gotAuth)
}

func TestSend_WithLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	p := New(SMTPProviderConfig{Addr: "relay:25", Sender: "relay@example.com"}, WithLogger(logger))
	p.sendMail = func(addr string, a sasl.Client, from string, to []string, r io.Reader) error {
		return nil
	}

	_, err := p.Send(context.Background(), "dest@example.net", []byte(testRaw))
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "SMTP relay accepted message", record["msg"])
	assert.Equal(t, "dest@example.net", record["destination"])
}

func TestName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "smtp", New(SMTPProviderConfig{}).Name())
}

// Verify SMTPProvider implements provider.Provider interface
func TestProviderInterface(t *testing.T) {
	t.Parallel()

	var _ provider.Provider = (*SMTPProvider)(nil)
}
