package memcached

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/workingdb/workingdb-go/internal/core/domain"
)

const (
	replyError       = "ERROR\r\n"
	replyBadFormat   = "CLIENT_ERROR bad command line format\r\n"
	replyTooLarge    = "SERVER_ERROR object too large for cache\r\n"
	replyRateLimited = "SERVER_ERROR rate limit exceeded\r\n"
)

// handle runs one request line. It returns an error only when the
// connection must be closed.
func (s *Server) handle(ctx context.Context, c *conn, line []byte) error {
	args := bytes.Fields(line)
	if len(args) == 0 {
		s.reply(c, false, replyError)
		return nil
	}
	name, args := string(args[0]), args[1:]

	switch name {
	case "set":
		return s.handleStorage(ctx, c, args, domain.SetAlways)
	case "add":
		return s.handleStorage(ctx, c, args, domain.SetIfAbsent)
	case "replace":
		return s.handleStorage(ctx, c, args, domain.SetIfPresent)
	case "cas":
		return s.handleStorage(ctx, c, args, domain.SetIfVersion)
	}

	if !s.allow(c) {
		s.reply(c, false, replyRateLimited)
		return nil
	}

	switch name {
	case "get":
		s.handleGet(ctx, c, args, false)
	case "gets":
		s.handleGet(ctx, c, args, true)
	case "delete":
		s.handleDelete(ctx, c, args)
	case "touch":
		s.handleTouch(ctx, c, args)
	case "version":
		s.reply(c, false, "VERSION "+s.cfg.Version+"\r\n")
	case "stats":
		s.handleStats(ctx, c, args)
	case "verbosity":
		args, noreply := stripNoreply(args)
		if len(args) != 1 {
			s.reply(c, noreply, replyError)
			return nil
		}
		s.reply(c, noreply, "OK\r\n")
	case "quit":
		c.quit = true
	default:
		s.reply(c, false, replyError)
	}
	return nil
}

func (s *Server) allow(c *conn) bool {
	if s.limiter.Allow(c.nc.RemoteAddr()) {
		return true
	}
	if s.metrics != nil {
		s.metrics.IncRateLimited(Protocol)
	}
	return false
}

func (s *Server) reply(c *conn, noreply bool, msg string) {
	if noreply {
		return
	}
	_, _ = c.bw.WriteString(msg)
}

// replyErr translates an executor error.
func (s *Server) replyErr(c *conn, noreply bool, err error) {
	switch {
	case errors.Is(err, domain.ErrValueTooLarge):
		s.reply(c, noreply, replyTooLarge)
	case errors.Is(err, domain.ErrKeyTooLarge), errors.Is(err, domain.ErrInvalidArgument):
		s.reply(c, noreply, replyBadFormat)
	default:
		if errors.Is(err, domain.ErrLogWriteFailed) || domain.ClassOf(err) == domain.ClassUnknown {
			s.logger.Warn("command failed", "error", err)
		}
		msg := err.Error()
		var de *domain.DomainError
		if errors.As(err, &de) {
			msg = de.Code + " " + de.Message
		}
		s.reply(c, noreply, "SERVER_ERROR "+msg+"\r\n")
	}
}

// <cmd> <key> <flags> <exptime> <bytes> [<cas unique>] [noreply]\r\n<data>\r\n
func (s *Server) handleStorage(ctx context.Context, c *conn, args [][]byte, cond domain.SetCond) error {
	req, err := parseStorage(args, cond == domain.SetIfVersion)
	if err != nil {
		// Skip the data block when its length is readable so the next
		// line is parsed from the right place.
		if len(args) >= 4 {
			if n, perr := strconv.Atoi(string(args[3])); perr == nil && n >= 0 && n <= s.cfg.MaxItemSize {
				if err := discardData(c.br, n); err != nil {
					return err
				}
			}
		}
		s.reply(c, false, replyBadFormat)
		return nil
	}

	if req.bytes > s.cfg.MaxItemSize {
		if err := discardData(c.br, req.bytes); err != nil {
			return err
		}
		s.reply(c, req.noreply, replyTooLarge)
		return nil
	}

	data, err := readData(c.br, req.bytes)
	if err != nil {
		if errors.Is(err, errBadChunk) {
			_, _ = c.bw.WriteString("CLIENT_ERROR bad data chunk\r\n")
		}
		return err
	}

	if !s.allow(c) {
		s.reply(c, req.noreply, replyRateLimited)
		return nil
	}

	cmd := domain.Set(req.key, data, req.flags)
	cmd.Cond = cond
	cmd.Version = req.cas
	cmd.HasTTL, cmd.TTL = expiry(req.exptime, s.now())

	res, err := s.exec.Execute(ctx, cmd)
	if err != nil {
		s.replyErr(c, req.noreply, err)
		return nil
	}

	switch {
	case res.Applied:
		s.reply(c, req.noreply, "STORED\r\n")
	case cond == domain.SetIfVersion && res.Found:
		s.reply(c, req.noreply, "EXISTS\r\n")
	case cond == domain.SetIfVersion:
		s.reply(c, req.noreply, "NOT_FOUND\r\n")
	default:
		s.reply(c, req.noreply, "NOT_STORED\r\n")
	}
	return nil
}

// get <key>*\r\n and gets <key>*\r\n
func (s *Server) handleGet(ctx context.Context, c *conn, keys [][]byte, withCAS bool) {
	if len(keys) == 0 {
		s.reply(c, false, replyError)
		return
	}
	for _, k := range keys {
		if !validKey(k) {
			s.reply(c, false, replyBadFormat)
			return
		}
	}

	for _, k := range keys {
		res, err := s.exec.Execute(ctx, domain.Get(string(k)))
		if err != nil {
			s.replyErr(c, false, err)
			return
		}
		if !res.Found {
			continue
		}
		if withCAS {
			fmt.Fprintf(c.bw, "VALUE %s %d %d %d\r\n", k, res.Flags, len(res.Value), res.Version)
		} else {
			fmt.Fprintf(c.bw, "VALUE %s %d %d\r\n", k, res.Flags, len(res.Value))
		}
		_, _ = c.bw.Write(res.Value)
		_, _ = c.bw.WriteString("\r\n")
	}
	_, _ = c.bw.WriteString("END\r\n")
}

// delete <key> [0] [noreply]
func (s *Server) handleDelete(ctx context.Context, c *conn, args [][]byte) {
	args, noreply := stripNoreply(args)
	if len(args) == 2 && string(args[1]) == "0" {
		args = args[:1]
	}
	if len(args) != 1 || !validKey(args[0]) {
		s.reply(c, noreply, replyBadFormat)
		return
	}

	res, err := s.exec.Execute(ctx, domain.Delete(string(args[0])))
	if err != nil {
		s.replyErr(c, noreply, err)
		return
	}
	if res.Applied {
		s.reply(c, noreply, "DELETED\r\n")
		return
	}
	s.reply(c, noreply, "NOT_FOUND\r\n")
}

// touch <key> <exptime> [noreply]
func (s *Server) handleTouch(ctx context.Context, c *conn, args [][]byte) {
	args, noreply := stripNoreply(args)
	if len(args) != 2 || !validKey(args[0]) {
		s.reply(c, noreply, replyBadFormat)
		return
	}
	exptime, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		s.reply(c, noreply, replyBadFormat)
		return
	}

	cmd := domain.Persist(string(args[0]))
	if hasTTL, ttl := expiry(exptime, s.now()); hasTTL {
		cmd = domain.Expire(string(args[0]), ttl)
	}
	res, err := s.exec.Execute(ctx, cmd)
	if err != nil {
		s.replyErr(c, noreply, err)
		return
	}
	if res.Found {
		s.reply(c, noreply, "TOUCHED\r\n")
		return
	}
	s.reply(c, noreply, "NOT_FOUND\r\n")
}

// stats [group]. Only the general group exists.
func (s *Server) handleStats(ctx context.Context, c *conn, args [][]byte) {
	if len(args) > 0 {
		_, _ = c.bw.WriteString("END\r\n")
		return
	}
	res, err := s.exec.Execute(ctx, domain.Command{Kind: domain.KindInfo})
	if err != nil {
		s.replyErr(c, false, err)
		return
	}
	st := res.Stats
	now := s.now()

	stat := func(name string, v any) {
		fmt.Fprintf(c.bw, "STAT %s %v\r\n", name, v)
	}
	stat("pid", os.Getpid())
	stat("uptime", int64(now.Sub(s.started).Seconds()))
	stat("time", now.Unix())
	stat("version", s.cfg.Version)
	stat("curr_connections", s.net.ActiveConnections())
	stat("curr_items", st.KeyCount)
	stat("cmd_get", st.TotalReads)
	stat("cmd_set", st.TotalWrites)
	stat("get_hits", st.ReadHits)
	stat("get_misses", st.ReadMisses)
	stat("delete_total", st.TotalDeletes)
	stat("expired_unfetched", st.SweepExpired)
	stat("expired_total", st.ExpiredCount)
	stat("log_bytes", st.LogSize)
	stat("log_last_seq", st.LogLastSeq)
	_, _ = c.bw.WriteString("END\r\n")
}
