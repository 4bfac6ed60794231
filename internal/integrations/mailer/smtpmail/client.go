// Package smtpmail sends transactional mail over implicit TLS (SMTPS, port 465)
// with a minimal SMTP dialogue: EHLO, AUTH LOGIN, MAIL, RCPT, DATA, QUIT.
package smtpmail

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/TradeBox/internal/models"
	"github.com/pkg/errors"
)

const (
	defaultPort           = 465
	defaultCommandTimeout = 15 * time.Second
	defaultSendTimeout    = 60 * time.Second
)

// Шаги диалога: попадают в MailDeliveryError.Step.
const (
	StepConnect      = "connect"
	StepGreeting     = "greeting"
	StepEHLO         = "ehlo"
	StepAuth         = "auth"
	StepAuthUsername = "auth_username"
	StepAuthPassword = "auth_password"
	StepMailFrom     = "mail_from"
	StepRcptTo       = "rcpt_to"
	StepData         = "data"
	StepDataEnd      = "data_end"
	StepQuit         = "quit"
)

// Класс ожидаемого ответа: 2xx завершает команду, 3xx просит продолжения.
// Всё, что >= 400 или другого класса, считается отказом шага.
const (
	replyOK   = 2
	replyMore = 3
)

type Config struct {
	Host           string
	Port           int
	Username       string
	Password       string
	FromAddress    string
	FromName       string
	HeloName       string
	CommandTimeout time.Duration
	SendTimeout    time.Duration
}

type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

type Client struct {
	cfg  Config
	dial DialFunc
	now  func() time.Time
}

func New(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
	}
	if cfg.FromAddress == "" {
		cfg.FromAddress = cfg.Username
	}

	d := &tls.Dialer{
		Config: &tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		},
	}
	return &Client{
		cfg:  cfg,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		},
		now:  time.Now,
	}
}

// WithDialer подменяет транспорт (тесты, прокси).
func (c *Client) WithDialer(dial DialFunc) *Client {
	c.dial = dial
	return c
}

// Configured reports whether host and credentials are set. Callers skip sending otherwise.
func (c *Client) Configured() bool {
	return c.cfg.Host != "" && c.cfg.Username != "" && c.cfg.Password != ""
}

func (c *Client) Send(ctx context.Context, mail models.Mail) error {
	if !c.Configured() {
		return &models.ConfigurationError{Setting: "smtp.host/smtp.username/smtp.password"}
	}
	if err := validateMail(mail); err != nil {
		return err
	}

	msg, err := c.buildMessage(mail)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return &models.MailDeliveryError{Step: StepConnect, Err: errors.Wrapf(err, "dial %s", addr)}
	}
	// единственное место, где соединение закрывается
	defer conn.Close()

	// отмена контекста рвёт текущее чтение/запись через дедлайн
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	s := &session{
		conn:       conn,
		r:          bufio.NewReader(conn),
		cmdTimeout: c.cfg.CommandTimeout,
		ctx:        ctx,
	}

	if err := s.expect(StepGreeting, replyOK); err != nil {
		return err
	}
	if err := s.cmd(StepEHLO, "EHLO "+c.cfg.HeloName, replyOK); err != nil {
		return err
	}
	if err := s.cmd(StepAuth, "AUTH LOGIN", replyMore); err != nil {
		return err
	}
	if err := s.cmd(StepAuthUsername, base64.StdEncoding.EncodeToString([]byte(c.cfg.Username)), replyMore); err != nil {
		return err
	}
	if err := s.cmd(StepAuthPassword, base64.StdEncoding.EncodeToString([]byte(c.cfg.Password)), replyOK); err != nil {
		return err
	}
	if err := s.cmd(StepMailFrom, "MAIL FROM:<"+c.cfg.FromAddress+">", replyOK); err != nil {
		return err
	}
	if err := s.cmd(StepRcptTo, "RCPT TO:<"+mail.To+">", replyOK); err != nil {
		return err
	}
	if err := s.cmd(StepData, "DATA", replyMore); err != nil {
		return err
	}
	if err := s.write(StepDataEnd, dotStuff(msg)+".\r\n"); err != nil {
		return err
	}
	if err := s.expect(StepDataEnd, replyOK); err != nil {
		return err
	}

	// письмо уже принято сервером; сбой QUIT не повод слать его повторно
	if err := s.cmd(StepQuit, "QUIT", replyOK); err != nil {
		slog.Warn("smtp quit failed after message accepted", "to", mail.To, "err", err)
	}
	return nil
}

type session struct {
	conn       net.Conn
	r          *bufio.Reader
	cmdTimeout time.Duration
	ctx        context.Context
}

func (s *session) setDeadline() {
	if s.ctx.Err() != nil {
		_ = s.conn.SetDeadline(time.Now())
		return
	}
	d := time.Now().Add(s.cmdTimeout)
	if dl, ok := s.ctx.Deadline(); ok && dl.Before(d) {
		d = dl
	}
	_ = s.conn.SetDeadline(d)
}

func (s *session) cmd(step, line string, class int) error {
	if err := s.write(step, line+"\r\n"); err != nil {
		return err
	}
	return s.expect(step, class)
}

func (s *session) write(step, data string) error {
	s.setDeadline()
	if _, err := s.conn.Write([]byte(data)); err != nil {
		return &models.MailDeliveryError{Step: step, Err: s.ioErr(err)}
	}
	return nil
}

func (s *session) expect(step string, class int) error {
	s.setDeadline()
	code, msg, err := readReply(s.r)
	if err != nil {
		return &models.MailDeliveryError{Step: step, Err: s.ioErr(err)}
	}
	if code >= 400 || code/100 != class {
		return &models.MailDeliveryError{Step: step, Code: code, Message: msg}
	}
	return nil
}

func (s *session) ioErr(err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, err.Error())
	}
	return err
}

// readReply reads one (possibly multi-line) reply: "250-a", "250-b", "250 c".
func readReply(r *bufio.Reader) (int, string, error) {
	var (
		code  int
		lines []string
	)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, "", errors.Wrap(err, "read reply")
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 3 {
			return 0, "", errors.Errorf("malformed reply %q", line)
		}
		n, err := strconv.Atoi(line[:3])
		if err != nil {
			return 0, "", errors.Errorf("malformed reply %q", line)
		}
		if code != 0 && n != code {
			return 0, "", errors.Errorf("reply code changed mid-reply: %d then %d", code, n)
		}
		code = n

		text := ""
		if len(line) > 4 {
			text = line[4:]
		}
		lines = append(lines, text)

		if len(line) == 3 || line[3] == ' ' {
			return code, strings.Join(lines, "\n"), nil
		}
		if line[3] != '-' {
			return 0, "", errors.Errorf("malformed reply %q", line)
		}
	}
}

// dotStuff нормализует переводы строк в CRLF и удваивает точку в начале строки.
// Результат всегда заканчивается CRLF.
func dotStuff(msg []byte) string {
	text := strings.ReplaceAll(string(msg), "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var b strings.Builder
	b.Grow(len(msg) + len(lines))
	for _, l := range lines {
		if strings.HasPrefix(l, ".") {
			b.WriteByte('.')
		}
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	return b.String()
}

func validateMail(m models.Mail) error {
	fields := make(map[string]string)
	if strings.TrimSpace(m.To) == "" {
		fields["to"] = "required"
	}
	if strings.ContainsAny(m.To, "\r\n<>") {
		fields["to"] = "must be a bare address"
	}
	if strings.ContainsAny(m.Subject, "\r\n") {
		fields["subject"] = "must be a single line"
	}
	if m.HTML == "" && m.Text == "" {
		fields["body"] = "html or text required"
	}
	if len(fields) > 0 {
		return &models.ValidationError{Fields: fields}
	}
	return nil
}

func (c *Client) String() string {
	return fmt.Sprintf("smtps://%s@%s:%d", c.cfg.Username, c.cfg.Host, c.cfg.Port)
}
