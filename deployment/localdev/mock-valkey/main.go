package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

type store struct {
	mu   sync.Mutex
	data map[string]entry
}

func (s *store) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(s.data, key)
		return nil, false
	}
	return e.value, true
}

func (s *store) set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.data[key] = e
}

func (s *store) del(keys []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := s.data[k]; ok {
			delete(s.data, k)
			n++
		}
	}
	return n
}

func main() {
	addr := flag.String("addr", ":6379", "listen address")
	password := flag.String("password", "", "require AUTH with this password")
	flag.Parse()

	logger := log.New(log.Writer(), "valkey-mock ", log.LstdFlags|log.Lmicroseconds)
	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	logger.Printf("listening on %s", *addr)

	s := &store{data: make(map[string]entry)}
	for {
		conn, err := lis.Accept()
		if err != nil {
			logger.Fatalf("accept: %v", err)
		}
		go serve(logger, s, *password, conn)
	}
}

func serve(logger *log.Logger, s *store, password string, conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	authed := password == ""

	for {
		args, err := readCommand(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Printf("read: %v", err)
			}
			return
		}
		if len(args) == 0 {
			continue
		}
		start := time.Now()
		cmd := strings.ToUpper(args[0])

		switch {
		case cmd == "AUTH":
			if len(args) >= 2 && args[len(args)-1] == password {
				authed = true
				fmt.Fprint(w, "+OK\r\n")
			} else {
				fmt.Fprint(w, "-WRONGPASS invalid username-password pair\r\n")
			}
		case !authed:
			fmt.Fprint(w, "-NOAUTH Authentication required.\r\n")
		case cmd == "PING":
			fmt.Fprint(w, "+PONG\r\n")
		case cmd == "SELECT":
			fmt.Fprint(w, "+OK\r\n")
		case cmd == "GET" && len(args) == 2:
			if v, ok := s.get(args[1]); ok {
				fmt.Fprintf(w, "$%d\r\n%s\r\n", len(v), v)
			} else {
				fmt.Fprint(w, "$-1\r\n")
			}
		case cmd == "SET" && len(args) >= 3:
			ttl, err := parseTTL(args[3:])
			if err != nil {
				fmt.Fprintf(w, "-ERR %v\r\n", err)
				break
			}
			s.set(args[1], []byte(args[2]), ttl)
			fmt.Fprint(w, "+OK\r\n")
		case cmd == "DEL" && len(args) >= 2:
			fmt.Fprintf(w, ":%d\r\n", s.del(args[1:]))
		default:
			fmt.Fprintf(w, "-ERR unknown command '%s'\r\n", args[0])
		}
		if err := w.Flush(); err != nil {
			logger.Printf("write: %v", err)
			return
		}
		logger.Printf("%s %s", cmd, time.Since(start))
	}
}

func parseTTL(opts []string) (time.Duration, error) {
	for i := 0; i+1 < len(opts); i += 2 {
		n, err := strconv.ParseInt(opts[i+1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value is not an integer")
		}
		switch strings.ToUpper(opts[i]) {
		case "PX":
			return time.Duration(n) * time.Millisecond, nil
		case "EX":
			return time.Duration(n) * time.Second, nil
		}
	}
	return 0, nil
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "*") {
		return strings.Fields(line), nil
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, fmt.Errorf("bad array header %q", line)
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		header = strings.TrimRight(header, "\r\n")
		if !strings.HasPrefix(header, "$") {
			return nil, fmt.Errorf("bad bulk header %q", header)
		}
		size, err := strconv.Atoi(header[1:])
		if err != nil {
			return nil, fmt.Errorf("bad bulk header %q", header)
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}
