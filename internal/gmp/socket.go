package gmp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"io"
	"net"

	"github.com/anstrom/gvmscan/internal/errors"
)

// SocketConfig configures a SocketChannel.
type SocketConfig struct {
	// Network is "unix" for the manager socket or "tcp" for the TLS port.
	Network string
	Address string

	TLS                bool
	InsecureSkipVerify bool

	Username string
	Password string
}

// SocketChannel talks to the manager directly. Every command opens a fresh
// connection, authenticates, sends the command and reads one reply element.
type SocketChannel struct {
	config SocketConfig
	dial   func(ctx context.Context) (net.Conn, error)
}

// NewSocketChannel creates a channel over a unix socket or a TLS connection.
func NewSocketChannel(cfg SocketConfig) *SocketChannel {
	s := &SocketChannel{config: cfg}
	s.dial = s.dialConn
	return s
}

func (s *SocketChannel) dialConn(ctx context.Context) (net.Conn, error) {
	if s.config.TLS {
		host, _, err := net.SplitHostPort(s.config.Address)
		if err != nil {
			return nil, err
		}
		d := &tls.Dialer{Config: &tls.Config{
			ServerName:         host,
			InsecureSkipVerify: s.config.InsecureSkipVerify, //nolint:gosec // self-signed manager certificates
			MinVersion:         tls.VersionTLS12,
		}}
		return d.DialContext(ctx, s.config.Network, s.config.Address)
	}
	var d net.Dialer
	return d.DialContext(ctx, s.config.Network, s.config.Address)
}

// Execute implements Channel.
func (s *SocketChannel) Execute(ctx context.Context, command string) ([]byte, error) {
	name := commandName(command)

	conn, err := s.dial(ctx)
	if err != nil {
		return nil, errors.NewTransportError(name, "connection failed", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	r := newReplyReader(conn)

	if s.config.Username != "" {
		auth, err := authenticate(s.config.Username, s.config.Password)
		if err != nil {
			return nil, err
		}
		resp, err := r.roundTrip(conn, auth)
		if err != nil {
			return nil, errors.NewTransportError(name, "authentication exchange failed", err)
		}
		var ar authenticateResponse
		if err := decode(cmdAuthenticate, resp, &ar); err != nil {
			return nil, err
		}
	}

	resp, err := r.roundTrip(conn, command)
	if err != nil {
		return nil, errors.NewTransportError(name, "command exchange failed", err)
	}
	return resp, nil
}

// replyReader cuts complete top-level elements out of a connection stream.
type replyReader struct {
	buf bytes.Buffer
	dec *xml.Decoder
}

func newReplyReader(conn io.Reader) *replyReader {
	r := &replyReader{}
	r.dec = xml.NewDecoder(io.TeeReader(conn, &r.buf))
	return r
}

func (r *replyReader) roundTrip(w io.Writer, command string) ([]byte, error) {
	if _, err := io.WriteString(w, command); err != nil {
		return nil, err
	}
	return r.next()
}

// next returns the bytes of the next complete top-level element.
func (r *replyReader) next() ([]byte, error) {
	var start int64 = -1
	depth := 0
	for {
		offset := r.dec.InputOffset()
		tok, err := r.dec.RawToken()
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		switch tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				start = offset
			}
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				end := r.dec.InputOffset()
				return append([]byte(nil), r.buf.Bytes()[start:end]...), nil
			}
		}
	}
}
