package cache

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// reply is a decoded RESP2 value. Only the shapes the provider issues commands for are supported.
type reply struct {
	kind  byte
	bytes []byte
	n     int64
	null  bool
}

const (
	kindSimple byte = '+'
	kindError  byte = '-'
	kindInt    byte = ':'
	kindBulk   byte = '$'
)

// serverError is an error reply sent by the server, as opposed to a transport failure.
type serverError string

func (e serverError) Error() string { return string(e) }

var errBadTerminator = errors.New("resp: missing CRLF terminator")

func writeCommand(w *bufio.Writer, args ...[]byte) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(args)); err != nil {
		return err
	}
	for _, arg := range args {
		if _, err := fmt.Fprintf(w, "$%d\r\n", len(arg)); err != nil {
			return err
		}
		if _, err := w.Write(arg); err != nil {
			return err
		}
		if _, err := w.WriteString("\r\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

func readReply(r *bufio.Reader) (reply, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return reply{}, err
	}
	line, err := readLine(r)
	if err != nil {
		return reply{}, err
	}

	switch kind {
	case kindSimple:
		return reply{kind: kind, bytes: line}, nil
	case kindError:
		return reply{}, serverError(line)
	case kindInt:
		n, err := strconv.ParseInt(string(line), 10, 64)
		if err != nil {
			return reply{}, fmt.Errorf("resp: bad integer %q: %w", line, err)
		}
		return reply{kind: kind, n: n}, nil
	case kindBulk:
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return reply{}, fmt.Errorf("resp: bad bulk length %q: %w", line, err)
		}
		if size < 0 {
			return reply{kind: kind, null: true}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return reply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return reply{}, errBadTerminator
		}
		return reply{kind: kind, bytes: buf[:size]}, nil
	default:
		return reply{}, fmt.Errorf("resp: unexpected prefix %q", kind)
	}
}

func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err != nil {
		return nil, err
	}
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, errBadTerminator
	}
	return append([]byte(nil), line[:len(line)-2]...), nil
}
