package redisserver

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Protocol limits.
const (
	// MaxArrayLen limits the number of elements in a RESP array. MGET, DEL
	// and EXISTS take one element per key.
	MaxArrayLen = 4096

	// MaxBulkLen limits a single bulk string. It sits above the default
	// value ceiling so oversized values reach the executor and get a
	// proper error instead of a dropped connection.
	MaxBulkLen = 4 << 20

	// MaxInlineLen limits inline command line length.
	MaxInlineLen = 64 * 1024
)

var (
	ErrProtocol      = errors.New("resp: protocol error")
	ErrLimitExceeded = errors.New("resp: limit exceeded")
)

// ReadCommand reads one request: a RESP array of bulk strings or an
// inline command. A blank inline line yields (nil, nil).
func ReadCommand(r *bufio.Reader) ([][]byte, error) {
	b, err := r.Peek(1)
	if err != nil {
		return nil, err
	}

	if b[0] == '*' {
		return readArrayCommand(r)
	}

	line, err := readLine(r, MaxInlineLen)
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, len(parts))
	for _, p := range parts {
		out = append(out, []byte(p))
	}
	return out, nil
}

func readArrayCommand(r *bufio.Reader) ([][]byte, error) {
	n, err := readLength(r, '*', "array")
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	if n > MaxArrayLen {
		return nil, fmt.Errorf("%w: array length %d exceeds limit %d", ErrLimitExceeded, n, MaxArrayLen)
	}

	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		if arg == nil {
			arg = []byte{}
		}
		out = append(out, arg)
	}
	return out, nil
}

func readLength(r *bufio.Reader, prefix byte, what string) (int, error) {
	line, err := readLine(r, 64)
	if err != nil {
		return 0, err
	}
	if len(line) < 2 || line[0] != prefix {
		return 0, fmt.Errorf("%w: expected %s", ErrProtocol, what)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s length", ErrProtocol, what)
	}
	return n, nil
}

// readBulkString returns nil for a null bulk string.
func readBulkString(r *bufio.Reader) ([]byte, error) {
	n, err := readLength(r, '$', "bulk string")
	if err != nil {
		return nil, err
	}
	return readBulkBody(r, n)
}

func readBulkBody(r *bufio.Reader, n int) ([]byte, error) {
	if n == -1 {
		return nil, nil
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: invalid bulk length", ErrProtocol)
	}
	if n > MaxBulkLen {
		return nil, fmt.Errorf("%w: bulk length %d exceeds limit %d", ErrLimitExceeded, n, MaxBulkLen)
	}

	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if !bytes.HasSuffix(buf, []byte("\r\n")) {
		return nil, fmt.Errorf("%w: invalid bulk terminator", ErrProtocol)
	}
	return buf[:n], nil
}

func readLine(r *bufio.Reader, maxLen int) (string, error) {
	var buf []byte
	for {
		frag, err := r.ReadSlice('\n')
		if err == nil {
			buf = append(buf, frag...)
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			buf = append(buf, frag...)
			if len(buf) > maxLen {
				return "", fmt.Errorf("%w: line length exceeds limit %d", ErrLimitExceeded, maxLen)
			}
			continue
		}
		return "", err
	}

	if len(buf) > maxLen {
		return "", fmt.Errorf("%w: line length exceeds limit %d", ErrLimitExceeded, maxLen)
	}
	if len(buf) < 2 || !bytes.HasSuffix(buf, []byte("\r\n")) {
		return "", fmt.Errorf("%w: missing CRLF", ErrProtocol)
	}
	return string(buf[:len(buf)-2]), nil
}

// ReplyType is the first byte of a RESP2 reply.
type ReplyType byte

const (
	ReplyStatus  ReplyType = '+'
	ReplyError   ReplyType = '-'
	ReplyInteger ReplyType = ':'
	ReplyBulk    ReplyType = '$'
	ReplyArray   ReplyType = '*'
)

// Reply is a decoded server reply. Null bulk strings and null arrays have
// Null set.
type Reply struct {
	Type  ReplyType
	Str   string
	Int   int64
	Bulk  []byte
	Array []Reply
	Null  bool
}

// String renders the reply the way redis-cli does for scalars.
func (r Reply) String() string {
	switch r.Type {
	case ReplyStatus:
		return r.Str
	case ReplyError:
		return "(error) " + r.Str
	case ReplyInteger:
		return "(integer) " + strconv.FormatInt(r.Int, 10)
	case ReplyBulk:
		if r.Null {
			return "(nil)"
		}
		return strconv.Quote(string(r.Bulk))
	case ReplyArray:
		if r.Null {
			return "(nil)"
		}
		if len(r.Array) == 0 {
			return "(empty array)"
		}
		var sb strings.Builder
		for i, el := range r.Array {
			if i > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "%d) %s", i+1, el.String())
		}
		return sb.String()
	default:
		return fmt.Sprintf("(unknown %q)", byte(r.Type))
	}
}

// Err returns the error reply as an error, or nil.
func (r Reply) Err() error {
	if r.Type == ReplyError {
		return errors.New(r.Str)
	}
	return nil
}

// ReadReply decodes one reply. It is the client-side counterpart of the
// Write helpers.
func ReadReply(r *bufio.Reader) (Reply, error) {
	return readReply(r, 0)
}

func readReply(r *bufio.Reader, depth int) (Reply, error) {
	if depth > 8 {
		return Reply{}, fmt.Errorf("%w: reply nested too deeply", ErrProtocol)
	}
	line, err := readLine(r, MaxInlineLen)
	if err != nil {
		return Reply{}, err
	}
	if line == "" {
		return Reply{}, fmt.Errorf("%w: empty reply", ErrProtocol)
	}

	typ, body := ReplyType(line[0]), line[1:]
	switch typ {
	case ReplyStatus, ReplyError:
		return Reply{Type: typ, Str: body}, nil
	case ReplyInteger:
		n, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: invalid integer %q", ErrProtocol, body)
		}
		return Reply{Type: typ, Int: n}, nil
	case ReplyBulk:
		n, err := strconv.Atoi(body)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: invalid bulk length", ErrProtocol)
		}
		b, err := readBulkBody(r, n)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Type: typ, Bulk: b, Null: n == -1}, nil
	case ReplyArray:
		n, err := strconv.Atoi(body)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: invalid array length", ErrProtocol)
		}
		if n == -1 {
			return Reply{Type: typ, Null: true}, nil
		}
		if n < 0 || n > MaxArrayLen {
			return Reply{}, fmt.Errorf("%w: array length %d", ErrLimitExceeded, n)
		}
		out := Reply{Type: typ, Array: make([]Reply, 0, n)}
		for i := 0; i < n; i++ {
			el, err := readReply(r, depth+1)
			if err != nil {
				return Reply{}, err
			}
			out.Array = append(out.Array, el)
		}
		return out, nil
	default:
		return Reply{}, fmt.Errorf("%w: unknown reply type %q", ErrProtocol, line[0])
	}
}

// WriteCommand encodes args as a RESP array of bulk strings.
func WriteCommand(w *bufio.Writer, args ...[]byte) error {
	if err := WriteArrayHeader(w, len(args)); err != nil {
		return err
	}
	for _, a := range args {
		if a == nil {
			a = []byte{}
		}
		if err := WriteBulk(w, a); err != nil {
			return err
		}
	}
	return nil
}

func WriteSimpleString(w *bufio.Writer, s string) error {
	_, err := w.WriteString("+" + s + "\r\n")
	return err
}

// WriteError writes an error reply. Line breaks in s are replaced so
// the reply stays a single line.
func WriteError(w *bufio.Writer, s string) error {
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	_, err := w.WriteString("-" + s + "\r\n")
	return err
}

func WriteInteger(w *bufio.Writer, n int64) error {
	_, err := w.WriteString(":" + strconv.FormatInt(n, 10) + "\r\n")
	return err
}

func WriteNullBulk(w *bufio.Writer) error {
	_, err := w.WriteString("$-1\r\n")
	return err
}

func WriteBulk(w *bufio.Writer, b []byte) error {
	if b == nil {
		return WriteNullBulk(w)
	}
	if _, err := w.WriteString("$" + strconv.Itoa(len(b)) + "\r\n"); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err := w.WriteString("\r\n")
	return err
}

func WriteBulkString(w *bufio.Writer, s string) error {
	return WriteBulk(w, []byte(s))
}

func WriteArrayHeader(w *bufio.Writer, n int) error {
	_, err := w.WriteString("*" + strconv.Itoa(n) + "\r\n")
	return err
}

func normalizeCommandName(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	// Uppercase ASCII without allocating for already uppercased tokens.
	if bytes.ContainsAny(b, "abcdefghijklmnopqrstuvwxyz") {
		return strings.ToUpper(string(b))
	}
	return string(b)
}
