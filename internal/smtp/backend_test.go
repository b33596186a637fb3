package smtp

import (
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/relay/internal/domain"
)

type fakeDirectory struct {
	mu       sync.Mutex
	live     map[string]bool
	received map[string]int
	// expireOnRecord 模拟 RCPT 与 DATA 之间过期的邮箱
	expireOnRecord map[string]bool
}

func newFakeDirectory(addresses ...string) *fakeDirectory {
	d := &fakeDirectory{
		live:           make(map[string]bool),
		received:       make(map[string]int),
		expireOnRecord: make(map[string]bool),
	}
	for _, addr := range addresses {
		d.live[addr] = true
	}
	return d
}

func (d *fakeDirectory) Exists(address string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live[address]
}

func (d *fakeDirectory) RecordMessage(address string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.expireOnRecord[address] {
		delete(d.live, address)
	}
	if !d.live[address] {
		return false
	}
	d.received[address]++
	return true
}

func (d *fakeDirectory) count(address string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.received[address]
}

type delivery struct {
	address string
	msg     *domain.Message
}

type fakeDeliverer struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (f *fakeDeliverer) Deliver(address string, msg *domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, delivery{address: address, msg: msg})
}

func (f *fakeDeliverer) all() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.deliveries...)
}

func newTestSession(t *testing.T, dir Directory, deliverer Deliverer) *session {
	t.Helper()
	be := NewBackend(dir, deliverer, "example.com", nil, nil, nil)
	s, err := be.NewSession(nil)
	require.NoError(t, err)
	return s.(*session)
}

func requireSMTPCode(t *testing.T, err error, code int, enhanced gosmtp.EnhancedCode) {
	t.Helper()
	var smtpErr *gosmtp.SMTPError
	require.True(t, errors.As(err, &smtpErr), "expected SMTP error, got %v", err)
	assert.Equal(t, code, smtpErr.Code)
	assert.Equal(t, enhanced, smtpErr.EnhancedCode)
}

func TestSession_Rcpt(t *testing.T) {
	dir := newFakeDirectory("test1@example.com")

	tests := []struct {
		name     string
		rcpt     string
		code     int
		enhanced gosmtp.EnhancedCode
	}{
		{"malformed", "not-an-address", 501, gosmtp.EnhancedCode{5, 1, 3}},
		{"foreign domain", "test1@other.test", 550, gosmtp.EnhancedCode{5, 7, 1}},
		{"unknown mailbox", "unknown@example.com", 550, gosmtp.EnhancedCode{5, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, dir, &fakeDeliverer{})
			require.NoError(t, s.Mail("sender@sender.test", nil))
			requireSMTPCode(t, s.Rcpt(tt.rcpt, nil), tt.code, tt.enhanced)
			assert.Equal(t, StageSenderSet, s.stage)
		})
	}

	t.Run("accepted case-insensitively", func(t *testing.T) {
		s := newTestSession(t, dir, &fakeDeliverer{})
		require.NoError(t, s.Mail("sender@sender.test", nil))
		require.NoError(t, s.Rcpt("<Test1@Example.COM>", nil))
		assert.Equal(t, StageRecipientsAccepted, s.stage)
		assert.Equal(t, []string{"test1@example.com"}, s.recipients)
	})

	t.Run("duplicate recipient recorded once", func(t *testing.T) {
		s := newTestSession(t, dir, &fakeDeliverer{})
		require.NoError(t, s.Mail("sender@sender.test", nil))
		require.NoError(t, s.Rcpt("test1@example.com", nil))
		require.NoError(t, s.Rcpt("TEST1@example.com", nil))
		assert.Len(t, s.recipients, 1)
	})
}

func TestSession_BadSequence(t *testing.T) {
	dir := newFakeDirectory("test1@example.com")
	badSeq := gosmtp.EnhancedCode{5, 5, 1}

	s := newTestSession(t, dir, &fakeDeliverer{})
	requireSMTPCode(t, s.Rcpt("test1@example.com", nil), 503, badSeq)
	requireSMTPCode(t, s.Data(strings.NewReader("Subject: x\r\n\r\nbody")), 503, badSeq)

	require.NoError(t, s.Mail("sender@sender.test", nil))
	requireSMTPCode(t, s.Mail("again@sender.test", nil), 503, badSeq)
	requireSMTPCode(t, s.Data(strings.NewReader("Subject: x\r\n\r\nbody")), 503, badSeq)

	s.Reset()
	assert.Equal(t, StageConnected, s.stage)
	assert.Empty(t, s.from)
	assert.Empty(t, s.recipients)

	require.NoError(t, s.Logout())
	assert.Equal(t, StageClosed, s.stage)
	s.Reset()
	assert.Equal(t, StageClosed, s.stage)
	requireSMTPCode(t, s.Mail("sender@sender.test", nil), 503, badSeq)
}

func TestSession_Data(t *testing.T) {
	dir := newFakeDirectory("test1@example.com", "test2@example.com")
	deliverer := &fakeDeliverer{}
	s := newTestSession(t, dir, deliverer)

	require.NoError(t, s.Mail("sender@sender.test", nil))
	require.NoError(t, s.Rcpt("test1@example.com", nil))
	require.NoError(t, s.Rcpt("test2@example.com", nil))
	require.NoError(t, s.Data(strings.NewReader(multipartMessage)))
	assert.Equal(t, StageDataReceived, s.stage)

	got := deliverer.all()
	require.Len(t, got, 2)
	assert.Equal(t, "test1@example.com", got[0].address)
	assert.Equal(t, "test1@example.com", got[0].msg.To)
	assert.Equal(t, "test2@example.com", got[1].address)
	assert.NotEqual(t, got[0].msg.ID, got[1].msg.ID)
	require.Len(t, got[0].msg.Attachments, 1)
	assert.Equal(t, 1, dir.count("test1@example.com"))
	assert.Equal(t, 1, dir.count("test2@example.com"))

	// 下一封邮件可直接开始
	require.NoError(t, s.Mail("sender@sender.test", nil))
	assert.Equal(t, StageSenderSet, s.stage)
	assert.Empty(t, s.recipients)
}

func TestSession_DataSkipsRecipientExpiredAfterRcpt(t *testing.T) {
	dir := newFakeDirectory("test1@example.com", "test2@example.com")
	deliverer := &fakeDeliverer{}
	s := newTestSession(t, dir, deliverer)

	require.NoError(t, s.Mail("sender@sender.test", nil))
	require.NoError(t, s.Rcpt("test1@example.com", nil))
	require.NoError(t, s.Rcpt("test2@example.com", nil))

	dir.mu.Lock()
	dir.expireOnRecord["test1@example.com"] = true
	dir.mu.Unlock()

	require.NoError(t, s.Data(strings.NewReader("Subject: hi\r\n\r\nbody\r\n")))

	got := deliverer.all()
	require.Len(t, got, 1)
	assert.Equal(t, "test2@example.com", got[0].address)
	assert.Equal(t, 0, dir.count("test1@example.com"))
	assert.Equal(t, 1, dir.count("test2@example.com"))
}

func TestSession_DataParseFailure(t *testing.T) {
	dir := newFakeDirectory("test1@example.com")
	deliverer := &fakeDeliverer{}
	s := newTestSession(t, dir, deliverer)

	require.NoError(t, s.Mail("sender@sender.test", nil))
	require.NoError(t, s.Rcpt("test1@example.com", nil))

	err := s.Data(strings.NewReader("this header line has no colon\r\n\r\nbody\r\n"))
	requireSMTPCode(t, err, 554, gosmtp.EnhancedCode{5, 6, 0})
	assert.Empty(t, deliverer.all())
	assert.Equal(t, 0, dir.count("test1@example.com"))
}

func TestBackend_ConnectionLimit(t *testing.T) {
	limiter := NewConnectionLimiter(1, 0)
	be := NewBackend(newFakeDirectory(), &fakeDeliverer{}, "example.com", limiter, nil, nil)

	first, err := be.NewSession(nil)
	require.NoError(t, err)

	_, err = be.NewSession(nil)
	requireSMTPCode(t, err, 421, gosmtp.EnhancedCode{4, 7, 0})

	require.NoError(t, first.Logout())
	require.NoError(t, first.Logout())
	assert.Equal(t, 0, limiter.Current())

	_, err = be.NewSession(nil)
	assert.NoError(t, err)
}

func startTestServer(t *testing.T, dir Directory, deliverer Deliverer) string {
	t.Helper()

	be := NewBackend(dir, deliverer, "example.com", NewConnectionLimiter(10, 0), nil, nil)
	server := NewServer(be, ServerOptions{
		Domain:          "mx.example.com",
		MaxMessageBytes: 1 << 20,
		MaxRecipients:   10,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = server.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = server.Close()
	})
	return ln.Addr().String()
}

func sendMail(t *testing.T, addr, from string, to []string, body string) error {
	t.Helper()

	c, err := gosmtp.Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Hello("client.test"))
	if err := c.Mail(from, nil); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func TestGateway_EndToEnd(t *testing.T) {
	dir := newFakeDirectory("test1@example.com")
	deliverer := &fakeDeliverer{}
	addr := startTestServer(t, dir, deliverer)

	t.Run("delivers one event per message", func(t *testing.T) {
		err := sendMail(t, addr, "alice@sender.test", []string{"test1@example.com"}, multipartMessage)
		require.NoError(t, err)

		got := deliverer.all()
		require.Len(t, got, 1)
		msg := got[0].msg
		assert.Equal(t, "test1@example.com", msg.To)
		assert.Equal(t, "Alice <alice@sender.test>", msg.From)
		require.Len(t, msg.Attachments, 1)
		assert.Equal(t, "notes.txt", msg.Attachments[0].Filename)
		assert.Equal(t, 1, dir.count("test1@example.com"))
	})

	t.Run("unknown mailbox rejected before data", func(t *testing.T) {
		before := len(deliverer.all())
		err := sendMail(t, addr, "alice@sender.test", []string{"unknown@example.com"}, "Subject: x\r\n\r\nbody\r\n")

		var smtpErr *gosmtp.SMTPError
		require.True(t, errors.As(err, &smtpErr))
		assert.Equal(t, 550, smtpErr.Code)
		assert.Len(t, deliverer.all(), before)
	})
}
