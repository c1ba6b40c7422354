package redisserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/workingdb/workingdb-go/internal/core/domain"
	"github.com/workingdb/workingdb-go/internal/server/ratelimit"
	"github.com/workingdb/workingdb-go/pkg/secret"
)

// formatRedisError converts an executor error to a Redis error line.
// Write log failures map to IOERR, a store that is still recovering to
// LOADING and everything else to ERR.
func formatRedisError(err error) string {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		return "ERR " + err.Error()
	}
	msg := de.Summary()
	switch {
	case de.Is(domain.ErrLogWriteFailed):
		return "IOERR " + msg
	case de.Is(domain.ErrUnavailable) && de.Cause != nil:
		return "IOERR " + msg
	case de.Is(domain.ErrUnavailable):
		return "LOADING " + msg
	default:
		return "ERR " + msg
	}
}

const (
	errSyntax    = "ERR syntax error"
	errNotInt    = "ERR value is not an integer or out of range"
	errNoAuth    = "NOAUTH Authentication required."
	errWrongPass = "WRONGPASS invalid username-password pair or user is disabled."
)

func wrongArgs(cmd string) string {
	return "ERR wrong number of arguments for '" + strings.ToLower(cmd) + "' command"
}

func invalidExpire(cmd string) string {
	return "ERR invalid expire time in '" + strings.ToLower(cmd) + "' command"
}

// CommandHandler translates RESP commands into store commands.
type CommandHandler struct {
	exec     Executor
	password secret.Password
	limiter  *ratelimit.Registry
	metrics  Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewCommandHandler creates a CommandHandler. limiter and metrics may be
// nil.
func NewCommandHandler(exec Executor, cfg *Config, limiter *ratelimit.Registry, metrics Metrics, logger *slog.Logger) *CommandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &CommandHandler{
		exec:    exec,
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
	if cfg != nil {
		h.password = secret.NewPassword(cfg.RequirePass)
	}
	return h
}

// Handle runs one command and buffers its reply on conn.
func (h *CommandHandler) Handle(ctx context.Context, conn *Conn, args [][]byte) {
	w := conn.bw
	cmdName := normalizeCommandName(args[0])

	if !h.limiter.Allow(conn.RemoteAddr()) {
		if h.metrics != nil {
			h.metrics.IncRateLimited(Protocol)
		}
		_ = WriteError(w, "ERR rate limit exceeded")
		return
	}

	// Connection-level commands work before authentication.
	switch cmdName {
	case "AUTH":
		h.handleAuth(conn, args)
		return
	case "QUIT":
		conn.quit = true
		_ = WriteSimpleString(w, "OK")
		return
	case "PING":
		if !conn.state.Authenticated {
			break
		}
		h.handlePing(ctx, w, args)
		return
	}

	if !conn.state.Authenticated {
		_ = WriteError(w, errNoAuth)
		return
	}

	switch cmdName {
	case "ECHO":
		if len(args) != 2 {
			_ = WriteError(w, wrongArgs(cmdName))
			return
		}
		_ = WriteBulk(w, args[1])
	case "SELECT":
		h.handleSelect(w, args)
	case "COMMAND":
		_ = WriteArrayHeader(w, 0)
	case "GET":
		h.handleGet(ctx, w, args)
	case "MGET":
		h.handleMGet(ctx, w, args)
	case "SET":
		h.handleSet(ctx, w, args)
	case "SETNX":
		h.handleSetNX(ctx, w, args)
	case "SETEX":
		h.handleSetEX(ctx, w, args)
	case "DEL":
		h.handleDel(ctx, w, args)
	case "EXISTS":
		h.handleExists(ctx, w, args)
	case "EXPIRE":
		h.handleExpire(ctx, w, args, time.Second)
	case "PEXPIRE":
		h.handleExpire(ctx, w, args, time.Millisecond)
	case "PERSIST":
		h.handlePersist(ctx, w, args)
	case "TTL":
		h.handleTTL(ctx, w, args, time.Second)
	case "PTTL":
		h.handleTTL(ctx, w, args, time.Millisecond)
	case "DBSIZE":
		h.handleDBSize(ctx, w, args)
	case "INFO":
		h.handleInfo(ctx, w, args)
	default:
		_ = WriteError(w, fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(cmdName)))
	}
}

func (h *CommandHandler) execute(ctx context.Context, w *bufio.Writer, cmd domain.Command) (*domain.Result, bool) {
	res, err := h.exec.Execute(ctx, cmd)
	if err != nil {
		if domain.ClassOf(err) == domain.ClassUnknown || errors.Is(err, domain.ErrLogWriteFailed) {
			h.logger.Warn("command failed", "kind", cmd.Kind.String(), "error", err)
		}
		_ = WriteError(w, formatRedisError(err))
		return nil, false
	}
	return res, true
}

// PING [message]
func (h *CommandHandler) handlePing(ctx context.Context, w *bufio.Writer, args [][]byte) {
	if len(args) > 2 {
		_ = WriteError(w, wrongArgs("ping"))
		return
	}
	cmd := domain.Command{Kind: domain.KindPing}
	if len(args) == 2 {
		cmd.Value = args[1]
	}
	res, ok := h.execute(ctx, w, cmd)
	if !ok {
		return
	}
	if len(args) == 2 {
		_ = WriteBulkString(w, res.Message)
		return
	}
	_ = WriteSimpleString(w, res.Message)
}

// AUTH [username] password
func (h *CommandHandler) handleAuth(conn *Conn, args [][]byte) {
	w := conn.bw
	var user, pass string
	switch len(args) {
	case 2:
		user, pass = "default", string(args[1])
	case 3:
		user, pass = string(args[1]), string(args[2])
	default:
		_ = WriteError(w, wrongArgs("auth"))
		return
	}

	if !h.password.IsSet() {
		_ = WriteError(w, "ERR AUTH <password> called without any password configured for the default user. Are you sure your configuration is correct?")
		return
	}
	if user != "default" || !h.password.Matches(pass) {
		h.logger.Warn("authentication failed", "remote", conn.RemoteAddr().String())
		_ = WriteError(w, errWrongPass)
		return
	}
	conn.state.Authenticated = true
	_ = WriteSimpleString(w, "OK")
}

// SELECT index. Only database 0 exists.
func (h *CommandHandler) handleSelect(w *bufio.Writer, args [][]byte) {
	if len(args) != 2 {
		_ = WriteError(w, wrongArgs("select"))
		return
	}
	n, err := strconv.Atoi(string(args[1]))
	if err != nil {
		_ = WriteError(w, errNotInt)
		return
	}
	if n != 0 {
		_ = WriteError(w, "ERR DB index is out of range")
		return
	}
	_ = WriteSimpleString(w, "OK")
}

// GET key
func (h *CommandHandler) handleGet(ctx context.Context, w *bufio.Writer, args [][]byte) {
	if len(args) != 2 {
		_ = WriteError(w, wrongArgs("get"))
		return
	}
	res, ok := h.execute(ctx, w, domain.Get(string(args[1])))
	if !ok {
		return
	}
	if !res.Found {
		_ = WriteNullBulk(w)
		return
	}
	_ = WriteBulk(w, res.Value)
}

// MGET key [key ...]
//
// Errors for individual keys are reported as nil elements so the reply
// stays a well-formed array.
func (h *CommandHandler) handleMGet(ctx context.Context, w *bufio.Writer, args [][]byte) {
	if len(args) < 2 {
		_ = WriteError(w, wrongArgs("mget"))
		return
	}
	values := make([][]byte, 0, len(args)-1)
	for _, k := range args[1:] {
		res, err := h.exec.Execute(ctx, domain.Get(string(k)))
		if err != nil || !res.Found {
			values = append(values, nil)
			continue
		}
		values = append(values, res.Value)
	}
	_ = WriteArrayHeader(w, len(values))
	for _, v := range values {
		_ = WriteBulk(w, v)
	}
}

// SET key value [EX seconds | PX milliseconds] [NX | XX]
func (h *CommandHandler) handleSet(ctx context.Context, w *bufio.Writer, args [][]byte) {
	if len(args) < 3 {
		_ = WriteError(w, wrongArgs("set"))
		return
	}
	cmd := domain.Set(string(args[1]), args[2], 0)

	for i := 3; i < len(args); i++ {
		opt := normalizeCommandName(args[i])
		switch opt {
		case "NX", "XX":
			if cmd.Cond != domain.SetAlways {
				_ = WriteError(w, errSyntax)
				return
			}
			cmd.Cond = domain.SetIfAbsent
			if opt == "XX" {
				cmd.Cond = domain.SetIfPresent
			}
		case "EX", "PX":
			if cmd.HasTTL || i+1 >= len(args) {
				_ = WriteError(w, errSyntax)
				return
			}
			unit := time.Second
			if opt == "PX" {
				unit = time.Millisecond
			}
			ttl, msg := parseTTL(args[i+1], unit, "set", false)
			if msg != "" {
				_ = WriteError(w, msg)
				return
			}
			cmd.HasTTL, cmd.TTL = true, ttl
			i++
		default:
			_ = WriteError(w, errSyntax)
			return
		}
	}

	res, ok := h.execute(ctx, w, cmd)
	if !ok {
		return
	}
	if !res.Applied {
		_ = WriteNullBulk(w)
		return
	}
	_ = WriteSimpleString(w, "OK")
}

// SETNX key value
func (h *CommandHandler) handleSetNX(ctx context.Context, w *bufio.Writer, args [][]byte) {
	if len(args) != 3 {
		_ = WriteError(w, wrongArgs("setnx"))
		return
	}
	cmd := domain.Set(string(args[1]), args[2], 0)
	cmd.Cond = domain.SetIfAbsent
	res, ok := h.execute(ctx, w, cmd)
	if !ok {
		return
	}
	_ = WriteInteger(w, boolInt(res.Applied))
}

// SETEX key seconds value
func (h *CommandHandler) handleSetEX(ctx context.Context, w *bufio.Writer, args [][]byte) {
	if len(args) != 4 {
		_ = WriteError(w, wrongArgs("setex"))
		return
	}
	ttl, msg := parseTTL(args[2], time.Second, "setex", false)
	if msg != "" {
		_ = WriteError(w, msg)
		return
	}
	if _, ok := h.execute(ctx, w, domain.SetWithTTL(string(args[1]), args[3], 0, ttl)); ok {
		_ = WriteSimpleString(w, "OK")
	}
}

// DEL key [key ...]
func (h *CommandHandler) handleDel(ctx context.Context, w *bufio.Writer, args [][]byte) {
	if len(args) < 2 {
		_ = WriteError(w, wrongArgs("del"))
		return
	}
	var n int64
	for _, k := range args[1:] {
		res, ok := h.execute(ctx, w, domain.Delete(string(k)))
		if !ok {
			return
		}
		if res.Applied {
			n++
		}
	}
	_ = WriteInteger(w, n)
}

// EXISTS key [key ...]. Repeated keys are counted each time.
func (h *CommandHandler) handleExists(ctx context.Context, w *bufio.Writer, args [][]byte) {
	if len(args) < 2 {
		_ = WriteError(w, wrongArgs("exists"))
		return
	}
	var n int64
	for _, k := range args[1:] {
		res, ok := h.execute(ctx, w, domain.Get(string(k)))
		if !ok {
			return
		}
		if res.Found {
			n++
		}
	}
	_ = WriteInteger(w, n)
}

// EXPIRE key seconds / PEXPIRE key milliseconds. A non-positive TTL
// expires the key immediately.
func (h *CommandHandler) handleExpire(ctx context.Context, w *bufio.Writer, args [][]byte, unit time.Duration) {
	name := "expire"
	if unit == time.Millisecond {
		name = "pexpire"
	}
	if len(args) != 3 {
		_ = WriteError(w, wrongArgs(name))
		return
	}
	ttl, msg := parseTTL(args[2], unit, name, true)
	if msg != "" {
		_ = WriteError(w, msg)
		return
	}
	res, ok := h.execute(ctx, w, domain.Expire(string(args[1]), ttl))
	if !ok {
		return
	}
	_ = WriteInteger(w, boolInt(res.Applied))
}

// PERSIST key
func (h *CommandHandler) handlePersist(ctx context.Context, w *bufio.Writer, args [][]byte) {
	if len(args) != 2 {
		_ = WriteError(w, wrongArgs("persist"))
		return
	}
	res, ok := h.execute(ctx, w, domain.Persist(string(args[1])))
	if !ok {
		return
	}
	_ = WriteInteger(w, boolInt(res.Applied))
}

// TTL key / PTTL key. Returns -2 when the key does not exist and -1 when
// it has no deadline.
func (h *CommandHandler) handleTTL(ctx context.Context, w *bufio.Writer, args [][]byte, unit time.Duration) {
	if len(args) != 2 {
		name := "ttl"
		if unit == time.Millisecond {
			name = "pttl"
		}
		_ = WriteError(w, wrongArgs(name))
		return
	}
	res, ok := h.execute(ctx, w, domain.Get(string(args[1])))
	if !ok {
		return
	}
	if !res.Found {
		_ = WriteInteger(w, -2)
		return
	}
	if res.ExpiresAt == 0 {
		_ = WriteInteger(w, -1)
		return
	}
	remaining := res.ExpiresAt - h.now().UnixMilli()
	if remaining < 0 {
		remaining = 0
	}
	if unit == time.Second {
		// Round to the nearest second.
		remaining = (remaining + 500) / 1000
	}
	_ = WriteInteger(w, remaining)
}

// DBSIZE
func (h *CommandHandler) handleDBSize(ctx context.Context, w *bufio.Writer, args [][]byte) {
	if len(args) != 1 {
		_ = WriteError(w, wrongArgs("dbsize"))
		return
	}
	res, ok := h.execute(ctx, w, domain.Command{Kind: domain.KindInfo})
	if !ok {
		return
	}
	_ = WriteInteger(w, res.Stats.KeyCount)
}

// INFO [section]
func (h *CommandHandler) handleInfo(ctx context.Context, w *bufio.Writer, args [][]byte) {
	if len(args) > 2 {
		_ = WriteError(w, errSyntax)
		return
	}
	section := "default"
	if len(args) == 2 {
		section = strings.ToLower(string(args[1]))
	}
	res, ok := h.execute(ctx, w, domain.Command{Kind: domain.KindInfo})
	if !ok {
		return
	}
	_ = WriteBulkString(w, renderInfo(res.Stats, section))
}

type infoSection struct {
	name   string
	fields func(st *domain.Stats) [][2]string
}

var infoSections = []infoSection{
	{"server", func(st *domain.Stats) [][2]string {
		return [][2]string{
			{"workingdb_version", st.Version},
			{"run_id", st.RunID},
			{"uptime_in_seconds", strconv.FormatInt(int64(st.Uptime/time.Second), 10)},
			{"shard_count", strconv.Itoa(st.ShardCount)},
		}
	}},
	{"stats", func(st *domain.Stats) [][2]string {
		return [][2]string{
			{"total_reads", strconv.FormatInt(st.TotalReads, 10)},
			{"total_writes", strconv.FormatInt(st.TotalWrites, 10)},
			{"total_deletes", strconv.FormatInt(st.TotalDeletes, 10)},
			{"keyspace_hits", strconv.FormatInt(st.ReadHits, 10)},
			{"keyspace_misses", strconv.FormatInt(st.ReadMisses, 10)},
			{"expired_keys", strconv.FormatInt(st.ExpiredCount, 10)},
			{"expired_keys_lazy", strconv.FormatInt(st.LazyExpired, 10)},
			{"expired_keys_sweep", strconv.FormatInt(st.SweepExpired, 10)},
			{"avg_read_latency_us", strconv.FormatInt(st.AvgReadLatency.Microseconds(), 10)},
			{"avg_write_latency_us", strconv.FormatInt(st.AvgWriteLatency.Microseconds(), 10)},
			{"sweep_cycles", strconv.FormatInt(st.SweepCycles, 10)},
			{"sweep_avg_duration_us", strconv.FormatInt(st.SweepAvgDuration.Microseconds(), 10)},
		}
	}},
	{"persistence", func(st *domain.Stats) [][2]string {
		status := "ok"
		if st.LogFailed {
			status = "err"
		}
		return [][2]string{
			{"aof_enabled", strconv.Itoa(int(boolInt(st.LogEnabled)))},
			{"aof_state", st.LogState},
			{"aof_size", strconv.FormatInt(st.LogSize, 10)},
			{"aof_size_human", humanize.IBytes(uint64(max(st.LogSize, 0)))},
			{"aof_last_seq", strconv.FormatUint(st.LogLastSeq, 10)},
			{"aof_last_write_status", status},
		}
	}},
	{"keyspace", func(st *domain.Stats) [][2]string {
		return [][2]string{
			{"db0", "keys=" + strconv.FormatInt(st.KeyCount, 10)},
		}
	}},
}

func renderInfo(st *domain.Stats, section string) string {
	all := section == "default" || section == "all" || section == "everything"
	var sb strings.Builder
	for _, s := range infoSections {
		if !all && s.name != section {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\r\n")
		}
		sb.WriteString("# " + strings.ToUpper(s.name[:1]) + s.name[1:] + "\r\n")
		for _, kv := range s.fields(st) {
			sb.WriteString(kv[0] + ":" + kv[1] + "\r\n")
		}
	}
	return sb.String()
}

// parseTTL parses a relative expiry. It returns a non-empty error reply on
// failure. allowNonPositive permits zero and negative values, which expire
// the key at once.
func parseTTL(b []byte, unit time.Duration, cmd string, allowNonPositive bool) (time.Duration, string) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, errNotInt
	}
	if n <= 0 && !allowNonPositive {
		return 0, invalidExpire(cmd)
	}
	limit := int64(math.MaxInt64 / unit)
	if n > limit || n < -limit {
		return 0, invalidExpire(cmd)
	}
	return time.Duration(n) * unit, ""
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
