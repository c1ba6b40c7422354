package repl

import (
	"errors"
	"strconv"
	"strings"
)

// ErrUnbalancedQuotes is returned by Split for an unterminated quote.
var ErrUnbalancedQuotes = errors.New("unbalanced quotes")

// Split breaks a command line into arguments. Double quoted arguments
// accept the escapes \n \r \t \" \\ and \xHH; single quoted arguments
// accept only \'. A closing quote must be followed by a space or the end
// of the line.
func Split(line string) ([]string, error) {
	var args []string
	i := 0
	for {
		for i < len(line) && isSpace(line[i]) {
			i++
		}
		if i >= len(line) {
			return args, nil
		}

		var (
			sb     strings.Builder
			quote  byte
			closed bool
		)
		for i < len(line) && !closed {
			c := line[i]
			switch {
			case quote == '"':
				switch {
				case c == '\\' && i+3 < len(line) && line[i+1] == 'x' && isHex(line[i+2]) && isHex(line[i+3]):
					b, _ := strconv.ParseUint(line[i+2:i+4], 16, 8)
					sb.WriteByte(byte(b))
					i += 3
				case c == '\\' && i+1 < len(line):
					i++
					sb.WriteByte(unescape(line[i]))
				case c == '"':
					if i+1 < len(line) && !isSpace(line[i+1]) {
						return nil, ErrUnbalancedQuotes
					}
					closed = true
				default:
					sb.WriteByte(c)
				}
			case quote == '\'':
				switch {
				case c == '\\' && i+1 < len(line) && line[i+1] == '\'':
					i++
					sb.WriteByte('\'')
				case c == '\'':
					if i+1 < len(line) && !isSpace(line[i+1]) {
						return nil, ErrUnbalancedQuotes
					}
					closed = true
				default:
					sb.WriteByte(c)
				}
			default:
				switch {
				case isSpace(c):
					closed = true
				case c == '"' || c == '\'':
					quote = c
				default:
					sb.WriteByte(c)
				}
			}
			i++
		}
		if quote != 0 && !closed {
			return nil, ErrUnbalancedQuotes
		}
		args = append(args, sb.String())
	}
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'a':
		return '\a'
	default:
		return c
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
