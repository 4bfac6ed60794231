package smtpmail

import (
	"bufio"
	"context"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/TradeBox/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type countingConn struct {
	net.Conn
	closes *atomic.Int32
}

func (c countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

// fakeServer: скриптованный SMTP-сервер на другом конце net.Pipe.
// replies переопределяет ответ на команду (по первому слову или "GREETING"/"DATA_END").
type fakeServer struct {
	replies map[string]string
	silent  bool

	mu       sync.Mutex
	commands []string
	data     string
	done     chan struct{}
}

func newFakeServer(replies map[string]string) *fakeServer {
	return &fakeServer{replies: replies, done: make(chan struct{})}
}

func (f *fakeServer) reply(key, def string) string {
	if r, ok := f.replies[key]; ok {
		return r
	}
	return def
}

func (f *fakeServer) serve(conn net.Conn) {
	defer close(f.done)
	defer conn.Close()
	if f.silent {
		_, _ = io.Copy(io.Discard, conn)
		return
	}

	r := bufio.NewReader(conn)
	send := func(s string) bool {
		_, err := conn.Write([]byte(s))
		return err == nil
	}
	if !send(f.reply("GREETING", "220 smtp.example ESMTP ready\r\n")) {
		return
	}

	authStage := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		f.mu.Lock()
		f.commands = append(f.commands, line)
		f.mu.Unlock()

		if authStage > 0 {
			authStage++
			if authStage == 2 {
				if !send(f.reply("AUTH_USER", "334 UGFzc3dvcmQ6\r\n")) {
					return
				}
				continue
			}
			authStage = 0
			if !send(f.reply("AUTH_PASS", "235 2.7.0 Authentication successful\r\n")) {
				return
			}
			continue
		}

		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		verb = strings.SplitN(verb, ":", 2)[0]
		var out string
		switch verb {
		case "EHLO":
			out = f.reply("EHLO", "250-smtp.example greets you\r\n250-AUTH LOGIN PLAIN\r\n250 8BITMIME\r\n")
		case "AUTH":
			authStage = 1
			out = f.reply("AUTH", "334 VXNlcm5hbWU6\r\n")
		case "MAIL":
			out = f.reply("MAIL", "250 2.1.0 Ok\r\n")
		case "RCPT":
			out = f.reply("RCPT", "250 2.1.5 Ok\r\n")
		case "DATA":
			out = f.reply("DATA", "354 End data with <CR><LF>.<CR><LF>\r\n")
			if !strings.HasPrefix(out, "354") {
				break
			}
			if !send(out) {
				return
			}
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			f.mu.Lock()
			f.data = b.String()
			f.mu.Unlock()
			out = f.reply("DATA_END", "250 2.0.0 Ok: queued\r\n")
		case "QUIT":
			send(f.reply("QUIT", "221 2.0.0 Bye\r\n"))
			return
		default:
			out = "502 5.5.2 Command not recognized\r\n"
		}
		if !send(out) {
			return
		}
	}
}

func (f *fakeServer) verbs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.commands))
	for _, c := range f.commands {
		out = append(out, strings.SplitN(strings.SplitN(c, " ", 2)[0], ":", 2)[0])
	}
	return out
}

func testConfig() Config {
	return Config{
		Host:           "smtp.example",
		Username:       "mailer@tradebox.example",
		Password:       "s3cret",
		FromAddress:    "orders@tradebox.example",
		FromName:       "TradeBox Orders",
		CommandTimeout: time.Second,
		SendTimeout:    3 * time.Second,
	}
}

func newTestClient(t *testing.T, srv *fakeServer) (*Client, *atomic.Int32) {
	t.Helper()
	closes := &atomic.Int32{}
	c := New(testConfig()).WithDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		require.Equal(t, "smtp.example:465", addr)
		client, server := net.Pipe()
		go srv.serve(server)
		return countingConn{Conn: client, closes: closes}, nil
	})
	c.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return c, closes
}

func testMail() models.Mail {
	return models.Mail{
		To:      "jane@example.com",
		Subject: "Ваш заказ SHC-00001 принят",
		HTML:    "<p>Hello Jane</p>\n.<p>dot line</p>",
		Text:    "Hello Jane\n.dot line\nDone",
	}
}

func TestSend_HappyPath(t *testing.T) {
	srv := newFakeServer(nil)
	c, closes := newTestClient(t, srv)

	require.NoError(t, c.Send(context.Background(), testMail()))
	<-srv.done

	require.Equal(t, []string{
		"EHLO",
		"AUTH",
		base64.StdEncoding.EncodeToString([]byte("mailer@tradebox.example")),
		base64.StdEncoding.EncodeToString([]byte("s3cret")),
		"MAIL",
		"RCPT",
		"DATA",
		"QUIT",
	}, srv.verbs())
	require.Contains(t, srv.commands, "MAIL FROM:<orders@tradebox.example>")
	require.Contains(t, srv.commands, "RCPT TO:<jane@example.com>")
	require.Equal(t, int32(1), closes.Load())

	// сервер видит данные после снятия dot-stuffing
	data := strings.ReplaceAll(srv.data, "\r\n..", "\r\n.")
	msg, err := mail.ReadMessage(strings.NewReader(data))
	require.NoError(t, err)

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	require.NoError(t, err)
	require.Equal(t, "Ваш заказ SHC-00001 принят", subject)
	require.Equal(t, "1.0", msg.Header.Get("MIME-Version"))
	require.NotEmpty(t, msg.Header.Get("Message-ID"))
	require.True(t, strings.HasSuffix(msg.Header.Get("Message-ID"), "@tradebox.example>"))
	require.Equal(t, "Fri, 01 May 2026 12:00:00 +0000", msg.Header.Get("Date"))

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/alternative", mediaType)

	mr := multipart.NewReader(msg.Body, params["boundary"])
	var parts []string
	var bodies []string
	for {
		p, err := mr.NextRawPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, "quoted-printable", p.Header.Get("Content-Transfer-Encoding"))
		b, err := io.ReadAll(quotedprintable.NewReader(p))
		require.NoError(t, err)
		parts = append(parts, p.Header.Get("Content-Type"))
		bodies = append(bodies, string(b))
	}
	require.Equal(t, []string{"text/plain; charset=UTF-8", "text/html; charset=UTF-8"}, parts)
	require.Equal(t, "Hello Jane\r\n.dot line\r\nDone", bodies[0])
	require.Contains(t, bodies[1], "<p>Hello Jane</p>")
}

func TestSend_RcptRejectedAbortsBeforeData(t *testing.T) {
	srv := newFakeServer(map[string]string{"RCPT": "550 5.1.1 <jane@example.com>: Recipient address rejected\r\n"})
	c, closes := newTestClient(t, srv)

	err := c.Send(context.Background(), testMail())
	var merr *models.MailDeliveryError
	require.True(t, errors.As(err, &merr), "got %v", err)
	require.Equal(t, StepRcptTo, merr.Step)
	require.Equal(t, 550, merr.Code)
	require.Contains(t, merr.Message, "Recipient address rejected")

	<-srv.done
	require.NotContains(t, srv.verbs(), "DATA")
	require.Equal(t, int32(1), closes.Load())
}

func TestSend_AuthFailure(t *testing.T) {
	srv := newFakeServer(map[string]string{"AUTH_PASS": "535 5.7.8 Authentication credentials invalid\r\n"})
	c, closes := newTestClient(t, srv)

	err := c.Send(context.Background(), testMail())
	var merr *models.MailDeliveryError
	require.True(t, errors.As(err, &merr))
	require.Equal(t, StepAuthPassword, merr.Step)
	require.Equal(t, 535, merr.Code)
	<-srv.done
	require.NotContains(t, srv.verbs(), "MAIL")
	require.Equal(t, int32(1), closes.Load())
}

func TestSend_BadGreeting(t *testing.T) {
	srv := newFakeServer(map[string]string{"GREETING": "554 no service\r\n"})
	c, closes := newTestClient(t, srv)

	err := c.Send(context.Background(), testMail())
	var merr *models.MailDeliveryError
	require.True(t, errors.As(err, &merr))
	require.Equal(t, StepGreeting, merr.Step)
	require.Equal(t, 554, merr.Code)
	<-srv.done
	require.Empty(t, srv.verbs())
	require.Equal(t, int32(1), closes.Load())
}

func TestSend_MessageRejectedAfterData(t *testing.T) {
	srv := newFakeServer(map[string]string{"DATA_END": "552 5.3.4 Message too big\r\n"})
	c, closes := newTestClient(t, srv)

	err := c.Send(context.Background(), testMail())
	var merr *models.MailDeliveryError
	require.True(t, errors.As(err, &merr))
	require.Equal(t, StepDataEnd, merr.Step)
	require.Equal(t, 552, merr.Code)
	require.Equal(t, int32(1), closes.Load())
}

func TestSend_QuitFailureIsNotAnError(t *testing.T) {
	srv := newFakeServer(map[string]string{"QUIT": "421 closing\r\n"})
	c, closes := newTestClient(t, srv)

	require.NoError(t, c.Send(context.Background(), testMail()))
	require.Equal(t, int32(1), closes.Load())
}

func TestSend_CommandTimeout(t *testing.T) {
	srv := newFakeServer(nil)
	srv.silent = true
	c, closes := newTestClient(t, srv)
	c.cfg.CommandTimeout = 50 * time.Millisecond

	start := time.Now()
	err := c.Send(context.Background(), testMail())
	var merr *models.MailDeliveryError
	require.True(t, errors.As(err, &merr))
	require.Equal(t, StepGreeting, merr.Step)
	require.Zero(t, merr.Code)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, int32(1), closes.Load())
}

func TestSend_ContextCancelled(t *testing.T) {
	srv := newFakeServer(nil)
	srv.silent = true
	c, closes := newTestClient(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	err := c.Send(ctx, testMail())
	var merr *models.MailDeliveryError
	require.True(t, errors.As(err, &merr))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(1), closes.Load())
}

func TestSend_DialFailure(t *testing.T) {
	c := New(testConfig()).WithDialer(func(context.Context, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	})
	err := c.Send(context.Background(), testMail())
	var merr *models.MailDeliveryError
	require.True(t, errors.As(err, &merr))
	require.Equal(t, StepConnect, merr.Step)
}

func TestConfiguredAndValidation(t *testing.T) {
	c := New(Config{Host: "smtp.example"})
	require.False(t, c.Configured())
	err := c.Send(context.Background(), testMail())
	var cerr *models.ConfigurationError
	require.True(t, errors.As(err, &cerr))

	c = New(testConfig())
	require.True(t, c.Configured())

	m := testMail()
	m.To = "jane@example.com\r\nBcc: evil@example.com"
	err = c.Send(context.Background(), m)
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "to")
}

func TestReadReply_MultiLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("250-first\r\n250-second\r\n250 last\r\n"))
	code, msg, err := readReply(r)
	require.NoError(t, err)
	require.Equal(t, 250, code)
	require.Equal(t, "first\nsecond\nlast", msg)

	_, _, err = readReply(bufio.NewReader(strings.NewReader("25\r\n")))
	require.Error(t, err)

	_, _, err = readReply(bufio.NewReader(strings.NewReader("250-a\r\n451 b\r\n")))
	require.Error(t, err)
}

func TestDotStuff(t *testing.T) {
	require.Equal(t, "a\r\n..b\r\nc\r\n", dotStuff([]byte("a\n.b\r\nc")))
	require.Equal(t, "..\r\n", dotStuff([]byte(".\r\n")))
}

func TestBoundaryIsUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		b := newBoundary()
		require.LessOrEqual(t, len(b), 70)
		seen[b] = struct{}{}
	}
	require.Len(t, seen, 100)
}

func TestSend_RcptForwardedIsAccepted(t *testing.T) {
	srv := newFakeServer(map[string]string{"RCPT": "251 2.1.5 User not local; will forward\r\n"})
	c, closes := newTestClient(t, srv)

	require.NoError(t, c.Send(context.Background(), testMail()))
	<-srv.done
	require.Contains(t, srv.verbs(), "DATA")
	require.Equal(t, int32(1), closes.Load())
}

func TestSend_WrongReplyClassFailsStep(t *testing.T) {
	// 250 вместо 354 на DATA: сервер не ждёт тело письма
	srv := newFakeServer(map[string]string{"DATA": "250 2.0.0 Ok\r\n"})
	c, closes := newTestClient(t, srv)

	err := c.Send(context.Background(), testMail())
	var merr *models.MailDeliveryError
	require.True(t, errors.As(err, &merr), "got %v", err)
	require.Equal(t, StepData, merr.Step)
	require.Equal(t, 250, merr.Code)
	require.Equal(t, int32(1), closes.Load())
}

func TestSend_DefaultDialerConnectFailure(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())

	cfg := testConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	err = New(cfg).Send(context.Background(), testMail())

	var merr *models.MailDeliveryError
	require.True(t, errors.As(err, &merr), "got %v", err)
	require.Equal(t, StepConnect, merr.Step)
}
