// Package stomp implements the subset of STOMP 1.2 the Pond backend speaks
// over its websocket endpoint: connect/subscribe/send from the client,
// connected/message/error from the server.
package stomp

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdMessage     = "MESSAGE"
	CmdError       = "ERROR"
	CmdDisconnect  = "DISCONNECT"
)

// Frame is one STOMP frame. Repeated headers are not modeled; the backend
// never sends them and the 1.2 spec says only the first occurrence counts.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

func NewFrame(command string, headers map[string]string, body []byte) *Frame {
	if headers == nil {
		headers = make(map[string]string)
	}
	return &Frame{Command: command, Headers: headers, Body: body}
}

func (f *Frame) Header(key string) string {
	return f.Headers[key]
}

// Marshal encodes the frame NUL-terminated. Header values are escaped per
// STOMP 1.2, except on CONNECT/CONNECTED frames where the spec keeps 1.0
// compatibility and forbids escaping.
func Marshal(f *Frame) []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	escape := f.Command != CmdConnect && f.Command != CmdConnected

	// Deterministic header order keeps frames byte-stable for tests.
	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := f.Headers[k]
		if escape {
			k = escapeHeader(k)
			v = escapeHeader(v)
		}
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(v)
		buf.WriteByte('\n')
	}

	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// Unmarshal decodes one NUL-terminated frame. A bare newline (heartbeat)
// yields a nil frame and no error.
func Unmarshal(data []byte) (*Frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, nil
	}

	head, body, found := bytes.Cut(data, []byte("\n\n"))
	if !found {
		return nil, fmt.Errorf("stomp: frame missing header terminator")
	}

	body = bytes.TrimSuffix(body, []byte{0})

	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	command := lines[0]
	if command == "" {
		return nil, fmt.Errorf("stomp: empty command")
	}

	escaped := command != CmdConnect && command != CmdConnected

	headers := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("stomp: malformed header line %q", line)
		}
		if escaped {
			var err error
			if k, err = unescapeHeader(k); err != nil {
				return nil, err
			}
			if v, err = unescapeHeader(v); err != nil {
				return nil, err
			}
		}
		// First occurrence wins.
		if _, exists := headers[k]; !exists {
			headers[k] = v
		}
	}

	return &Frame{Command: command, Headers: headers, Body: body}, nil
}

func escapeHeader(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "\r", "\\r", "\n", "\\n", ":", "\\c")
	return r.Replace(s)
}

func unescapeHeader(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("stomp: dangling escape in header %q", s)
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			return "", fmt.Errorf("stomp: invalid escape \\%c in header %q", s[i], s)
		}
	}
	return b.String(), nil
}
