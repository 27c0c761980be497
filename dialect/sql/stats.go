package sql

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/syssam/exttable/dialect"
)

// StatementKind is the class of a statement: a read, a row write or a
// schema change.
type StatementKind int

// Statement kinds.
const (
	KindRead StatementKind = iota
	KindWrite
	KindDDL
	numKinds
)

func (k StatementKind) String() string {
	switch k {
	case KindWrite:
		return "write"
	case KindDDL:
		return "ddl"
	}
	return "read"
}

// KindOf classifies a statement by its leading keyword.
func KindOf(query string) StatementKind {
	word, _, _ := strings.Cut(strings.TrimSpace(query), " ")
	switch strings.ToUpper(word) {
	case "INSERT", "UPDATE", "DELETE":
		return KindWrite
	case "CREATE", "ALTER", "DROP", "RENAME", "TRUNCATE":
		return KindDDL
	}
	return KindRead
}

var target = regexp.MustCompile("(?is)^\\s*(?:insert\\s+into|update|delete\\s+from|" +
	"(?:create|alter|drop)\\s+table(?:\\s+if\\s+(?:not\\s+)?exists)?|" +
	"create\\s+(?:unique\\s+)?index\\s+\\S+\\s+on|select\\s.*?\\sfrom)\\s+[`\"]?([A-Za-z_][A-Za-z0-9_]*)")

// TargetTable returns the table a statement works on, or "" when the
// statement names none.
func TargetTable(query string) string {
	if m := target.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	return ""
}

type changeIDKey struct{}

// WithChangeID tags the statements run with ctx as belonging to one schema
// change.
func WithChangeID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, changeIDKey{}, id)
}

// ChangeID returns the schema change ctx is tagged with.
func ChangeID(ctx context.Context) string {
	id, _ := ctx.Value(changeIDKey{}).(string)
	return id
}

// Statement describes one executed statement.
type Statement struct {
	Query    string
	Args     int
	Kind     StatementKind
	Table    string
	ChangeID string
	Duration time.Duration
	Err      error
}

func (s Statement) attrs() []any {
	attrs := []any{
		slog.String("kind", s.Kind.String()),
		slog.String("table", s.Table),
		slog.Duration("duration", s.Duration),
		slog.String("sql", s.Query),
		slog.Int("args", s.Args),
	}
	if s.ChangeID != "" {
		attrs = append(attrs, slog.String("change_id", s.ChangeID))
	}
	if s.Err != nil {
		attrs = append(attrs, slog.Any("error", s.Err))
	}
	return attrs
}

// Stats counts the statements run through a StatsDriver, per kind.
type Stats struct {
	count    [numKinds]atomic.Int64
	slow     [numKinds]atomic.Int64
	errors   atomic.Int64
	duration atomic.Int64
}

func (s *Stats) add(st Statement, slow bool) {
	s.count[st.Kind].Add(1)
	s.duration.Add(int64(st.Duration))
	if slow {
		s.slow[st.Kind].Add(1)
	}
	if st.Err != nil {
		s.errors.Add(1)
	}
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	var snap Snapshot
	for k := range numKinds {
		snap.Count[k] = s.count[k].Load()
		snap.Slow[k] = s.slow[k].Load()
	}
	snap.Errors = s.errors.Load()
	snap.Duration = time.Duration(s.duration.Load())
	return snap
}

// Snapshot is a point-in-time copy of Stats. Count and Slow are indexed by
// StatementKind.
type Snapshot struct {
	Count    [numKinds]int64
	Slow     [numKinds]int64
	Errors   int64
	Duration time.Duration
}

// Total returns the number of statements of all kinds.
func (s Snapshot) Total() int64 {
	var n int64
	for _, c := range s.Count {
		n += c
	}
	return n
}

func (s Snapshot) String() string {
	var slow int64
	for _, c := range s.Slow {
		slow += c
	}
	return fmt.Sprintf("reads=%d writes=%d ddl=%d slow=%d errors=%d duration=%s",
		s.Count[KindRead], s.Count[KindWrite], s.Count[KindDDL], slow, s.Errors, s.Duration)
}

// StatsDriver wraps a Driver, counting statements by kind and reporting the
// ones slower than a threshold.
type StatsDriver struct {
	*Driver
	stats     *Stats
	threshold time.Duration
	logger    *slog.Logger
	onSlow    func(context.Context, Statement)
	logAll    bool
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration above which a statement is slow.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.threshold = d
	}
}

// WithSlowHook calls fn for every slow statement.
func WithSlowHook(fn func(context.Context, Statement)) StatsOption {
	return func(s *StatsDriver) {
		s.onSlow = fn
	}
}

// WithLogger sets the logger of WithSlowQueryLog and WithStatementLog.
// Defaults to slog.Default().
func WithLogger(l *slog.Logger) StatsOption {
	return func(s *StatsDriver) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSlowQueryLog logs slow statements at warn level. Bound arguments are
// counted, never logged: entry values may carry personal data.
func WithSlowQueryLog() StatsOption {
	return func(s *StatsDriver) {
		s.onSlow = func(ctx context.Context, st Statement) {
			s.logger.WarnContext(ctx, "slow statement", st.attrs()...)
		}
	}
}

// WithStatementLog logs every statement at debug level.
func WithStatementLog() StatsOption {
	return func(s *StatsDriver) {
		s.logAll = true
	}
}

// NewStatsDriver wraps drv.
//
//	drv, _ := sql.Open("pgx", dsn)
//	stats := sql.NewStatsDriver(drv,
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLog(),
//	)
//	tables := datatable.NewManager(stats)
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{
		Driver:    drv,
		stats:     &Stats{},
		threshold: 100 * time.Millisecond,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the counters of the driver.
func (d *StatsDriver) Stats() *Stats { return d.stats }

// Query executes a query and records it.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.record(ctx, query, args, start, err)
	return err
}

// Exec executes a statement and records it.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	d.record(ctx, query, args, start, err)
	return err
}

func (d *StatsDriver) record(ctx context.Context, query string, args any, start time.Time, err error) {
	argv, _ := args.([]any)
	st := Statement{
		Query:    query,
		Args:     len(argv),
		Kind:     KindOf(query),
		Table:    TargetTable(query),
		ChangeID: ChangeID(ctx),
		Duration: time.Since(start),
		Err:      err,
	}
	slow := st.Duration > d.threshold
	d.stats.add(st, slow)
	if d.logAll {
		d.logger.DebugContext(ctx, "statement", st.attrs()...)
	}
	if slow && d.onSlow != nil {
		d.onSlow(ctx, st)
	}
}

// Tx starts a transaction whose statements are recorded too.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &statsTx{Tx: tx, driver: d}, nil
}

type statsTx struct {
	dialect.Tx
	driver *StatsDriver
}

func (tx *statsTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Query(ctx, query, args, v)
	tx.driver.record(ctx, query, args, start, err)
	return err
}

func (tx *statsTx) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Exec(ctx, query, args, v)
	tx.driver.record(ctx, query, args, start, err)
	return err
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Tx     = (*statsTx)(nil)
)

// OpenWithStats opens a database connection wrapped in a StatsDriver.
func OpenWithStats(driverName, source string, opts ...StatsOption) (*StatsDriver, error) {
	drv, err := Open(driverName, source)
	if err != nil {
		return nil, err
	}
	return NewStatsDriver(drv, opts...), nil
}
