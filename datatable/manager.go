// Package datatable manages the lifecycle of extension tables: registration,
// creation, schema evolution and removal, together with the bookkeeping rows
// that describe them.
package datatable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/exttable"
	"github.com/syssam/exttable/dialect"
	"github.com/syssam/exttable/dialect/sql"
	"github.com/syssam/exttable/dialect/sql/ddl"
	"github.com/syssam/exttable/dialect/sql/schema"
	"github.com/syssam/exttable/dialect/sql/sqlerr"
	"github.com/syssam/exttable/dialect/sql/sqltype"
	"github.com/syssam/exttable/privacy"
)

// SurrogateKey is the primary key of multi-row extension tables.
const SurrogateKey = "id"

// Datatable describes a registered extension table.
type Datatable struct {
	Registration
	MultiRow bool            `json:"multiRow" yaml:"multiRow"`
	Columns  []schema.Column `json:"columnHeaderData" yaml:"-"`
}

// Manager creates, evolves and drops extension tables. It is safe for
// concurrent use; it holds no per-request state.
type Manager struct {
	drv       dialect.Driver
	dialect   dialect.Dialect
	store     store
	inspector *schema.Inspector
	cached    *schema.CachedInspector
	softFK    schema.SoftFK
	policy    privacy.Policy
	logger    *slog.Logger
}

type config struct {
	softFK   schema.SoftFK
	logger   *slog.Logger
	cache    exttable.Cache
	cacheTTL time.Duration
	policy   privacy.Policy
}

// Option configures a Manager.
type Option func(*config)

// WithSoftFK selects how lookup columns are represented.
func WithSoftFK(s schema.SoftFK) Option {
	return func(c *config) { c.softFK = s }
}

// WithLogger sets the logger. Statements are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithCache caches introspected column headers in cache.
func WithCache(cache exttable.Cache, ttl time.Duration) Option {
	return func(c *config) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithPolicy sets the authorization policy evaluated on every operation.
func WithPolicy(p privacy.Policy) Option {
	return func(c *config) { c.policy = p }
}

// NewManager returns a Manager over drv.
func NewManager(drv dialect.Driver, opts ...Option) *Manager {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	d := drv.Dialect()
	m := &Manager{
		drv:     drv,
		dialect: d,
		store:   store{dialect: d},
		inspector: schema.NewInspector(drv, d,
			schema.WithSoftFK(cfg.softFK),
			schema.WithInspectLogger(cfg.logger),
		),
		softFK: cfg.softFK,
		policy: cfg.policy,
		logger: cfg.logger,
	}
	if cfg.cache != nil {
		m.cached = schema.NewCachedInspector(m.inspector, cfg.cache, d, cfg.cacheTTL, cfg.logger)
	}
	return m
}

// Dialect returns the dialect of the managed database.
func (m *Manager) Dialect() dialect.Dialect { return m.dialect }

// Driver returns the driver the manager runs on.
func (m *Manager) Driver() dialect.Driver { return m.drv }

// SoftFK returns the lookup column strategy.
func (m *Manager) SoftFK() schema.SoftFK { return m.softFK }

// Authorize evaluates the policy for t.
func (m *Manager) Authorize(ctx context.Context, t privacy.Target) error {
	return m.policy.Eval(ctx, t)
}

// Columns returns the column headers of table, from the cache when one is
// configured.
func (m *Manager) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	if m.cached != nil {
		return m.cached.Columns(ctx, table)
	}
	return m.inspector.Columns(ctx, table)
}

// Registration returns the registration of table.
func (m *Manager) Registration(ctx context.Context, table string) (*Registration, error) {
	if err := schema.ValidateName("datatableName", table); err != nil {
		return nil, err
	}
	return m.store.registration(ctx, m.drv, table)
}

// Get returns the registered table with its column headers.
func (m *Manager) Get(ctx context.Context, table string) (*Datatable, error) {
	reg, err := m.Registration(ctx, table)
	if err != nil {
		return nil, err
	}
	if err := m.Authorize(ctx, privacy.Target{Table: reg.Table, AppTable: reg.AppTable, Op: privacy.OpRead}); err != nil {
		return nil, err
	}
	return m.describe(ctx, reg)
}

// List returns the registered tables attached to appTable, or all of them
// when appTable is empty. Tables the viewer may not read are left out.
func (m *Manager) List(ctx context.Context, appTable string) ([]*Datatable, error) {
	if appTable != "" {
		app, err := LookupAppTable(appTable)
		if err != nil {
			return nil, err
		}
		appTable = app.Name
	}
	regs, err := m.store.registrations(ctx, m.drv, appTable)
	if err != nil {
		return nil, err
	}
	tables := make([]*Datatable, 0, len(regs))
	for _, reg := range regs {
		err := m.Authorize(ctx, privacy.Target{Table: reg.Table, AppTable: reg.AppTable, Op: privacy.OpRead})
		switch {
		case errors.Is(err, privacy.Deny):
			continue
		case err != nil:
			return nil, err
		}
		t, err := m.describe(ctx, reg)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (m *Manager) describe(ctx context.Context, reg *Registration) (*Datatable, error) {
	columns, err := m.Columns(ctx, reg.Table)
	if err != nil {
		return nil, err
	}
	return &Datatable{Registration: *reg, MultiRow: isMultiRow(columns), Columns: columns}, nil
}

// isMultiRow reports whether the table has a surrogate key.
func isMultiRow(columns []schema.Column) bool {
	for _, c := range columns {
		if c.PrimaryKey && c.Name == SurrogateKey {
			return true
		}
	}
	return false
}

// Plan is the DDL creating an extension table.
type Plan struct {
	Table      ddl.Table
	AppTable   AppTable
	MultiRow   bool
	Category   int
	Statements []string
	codes      []codeColumn
}

// PlanCreate validates def and renders the statements creating it, without
// touching the database.
func PlanCreate(d dialect.Dialect, strategy schema.SoftFK, def Definition) (*Plan, error) {
	if err := schema.ValidateName("datatableName", def.DatatableName); err != nil {
		return nil, err
	}
	app, err := LookupAppTable(def.AppTableName)
	if err != nil {
		return nil, err
	}
	p := &Plan{AppTable: app, MultiRow: def.MultiRow, Category: def.Category}
	if p.Category == 0 {
		p.Category = CategoryDefault
	}
	name, link := def.DatatableName, app.LinkColumn
	t := ddl.Table{Name: name}
	if def.MultiRow {
		t.Columns = append(t.Columns, ddl.Column{Name: SurrogateKey, Type: sqltype.TypeBigInt, AutoIncrement: true})
		t.PrimaryKey = []string{SurrogateKey}
	} else {
		t.PrimaryKey = []string{link}
	}
	t.Columns = append(t.Columns, ddl.Column{Name: link, Type: sqltype.TypeBigInt})
	t.ForeignKeys = append(t.ForeignKeys, ddl.ForeignKey{
		Symbol:    schema.ForeignKeyName(name, link),
		Column:    link,
		RefTable:  app.RefTable,
		RefColumn: "id",
	})
	for _, spec := range def.Columns {
		c, code, err := spec.column(strategy)
		if err != nil {
			return nil, err
		}
		t.Columns = append(t.Columns, c)
		if code == nil {
			continue
		}
		p.codes = append(p.codes, *code)
		if strategy == schema.ConstraintBacked {
			t.ForeignKeys = append(t.ForeignKeys, codeForeignKey(name, c.Name))
		}
	}
	if r := schema.ValidateTable(t); r.HasErrors() {
		return nil, r.Err()
	}
	stmt, err := ddl.CreateTable(d, t)
	if err != nil {
		return nil, err
	}
	b := ddl.NewBatch(d, name)
	b.AddStatement(stmt)
	if def.MultiRow {
		if err := b.AddIndex(schema.IndexName(name, link), link); err != nil {
			return nil, err
		}
	}
	p.Table = t
	p.Statements = b.Statements()
	return p, nil
}

func codeForeignKey(table, column string) ddl.ForeignKey {
	return ddl.ForeignKey{
		Symbol:    schema.ForeignKeyName(table, column),
		Column:    column,
		RefTable:  schema.CodeValueTable,
		RefColumn: "id",
	}
}

// Create creates the extension table described by def and registers it.
// The registration is written only once the table exists; if it cannot be
// written the table is dropped again.
func (m *Manager) Create(ctx context.Context, def Definition) error {
	p, err := PlanCreate(m.dialect, m.softFK, def)
	if err != nil {
		return err
	}
	table := p.Table.Name
	if err := m.Authorize(ctx, privacy.Target{Table: table, AppTable: p.AppTable.Name, Op: privacy.OpRegister}); err != nil {
		return err
	}
	ctx, log := m.change(ctx, "create", table)
	switch _, err := m.store.registration(ctx, m.drv, table); {
	case err == nil:
		return exttable.Validationf("datatableName", exttable.CodeAlreadyRegistered, "%q is already registered", table)
	case !exttable.IsNotFound(err):
		return err
	}
	ids, err := m.codeIDs(ctx, p.codes)
	if err != nil {
		return err
	}
	if err := m.exec(ctx, log, table, p.Statements...); err != nil {
		return err
	}
	reg := Registration{Table: table, AppTable: p.AppTable.Name, Category: p.Category}
	err = m.withTx(ctx, func(tx dialect.Tx) error {
		if err := m.store.register(ctx, tx, reg); err != nil {
			return err
		}
		if m.softFK != schema.ConstraintBacked {
			return nil
		}
		for _, c := range p.codes {
			if err := m.store.insertMapping(ctx, tx, schema.CodeMappingAlias(table, c.column), ids[c.code]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		drop := ddl.MustBuild(m.dialect, ddl.OpDropTable, false, table)
		log.DebugContext(ctx, "executing ddl", "sql", drop)
		if derr := m.drv.Exec(ctx, drop, []any{}, nil); derr != nil {
			err = errors.Join(err, fmt.Errorf("datatable: drop %q after failed registration: %w", table, derr))
		}
		return m.classify(ctx, log, table, err)
	}
	m.invalidate(ctx, log, table)
	log.InfoContext(ctx, "datatable registered", "apptable", reg.AppTable, "multi_row", p.MultiRow, "columns", len(def.Columns))
	return nil
}

// Alter evolves table: a new application table retargets the parent link,
// then columns are dropped, added and changed, in that order. Every rule is
// checked before the first statement runs.
func (m *Manager) Alter(ctx context.Context, table string, req AlterRequest) error {
	ctx, log := m.change(ctx, "alter", table)
	run, err := m.prepareAlter(ctx, table, req)
	if err != nil {
		return err
	}
	if run.plan != nil {
		for _, w := range run.plan.warnings {
			log.WarnContext(ctx, "column change warning", "column", w.Column, "message", w.Message, "breaking", w.Breaking)
		}
	}
	if run.move != nil {
		if err := m.retarget(ctx, log, run); err != nil {
			return err
		}
	}
	p := run.plan
	if p == nil {
		return nil
	}
	if err := m.exec(ctx, log, table, p.statements()...); err != nil {
		m.invalidate(ctx, log, table)
		return err
	}
	if len(p.mappings) > 0 {
		err = m.withTx(ctx, func(tx dialect.Tx) error {
			return m.applyMappings(ctx, tx, p.mappings, run.ids)
		})
	}
	m.invalidate(ctx, log, table)
	if err != nil {
		return m.classify(ctx, log, table, err)
	}
	log.InfoContext(ctx, "datatable altered",
		"added", len(req.AddColumns), "changed", len(req.ChangeColumns), "dropped", len(req.DropColumns))
	return nil
}

// AlterPreview lists what Alter would do with a request.
type AlterPreview struct {
	Statements []string
	Issues     schema.ValidationResult
}

// Breaking reports whether the change may lose data or reject existing rows.
func (p *AlterPreview) Breaking() bool { return p.Issues.HasBreakingChanges() }

// PlanAlter validates req against the live table like Alter does and returns
// the statements Alter would run, without running them.
func (m *Manager) PlanAlter(ctx context.Context, table string, req AlterRequest) (*AlterPreview, error) {
	run, err := m.prepareAlter(ctx, table, req)
	if err != nil {
		return nil, err
	}
	pv := &AlterPreview{}
	if run.move != nil {
		pv.Statements = append(pv.Statements, run.move.Statements()...)
	}
	if run.plan != nil {
		pv.Statements = append(pv.Statements, run.plan.statements()...)
		pv.Issues.Warnings = run.plan.warnings
	}
	return pv, nil
}

// alterRun is a validated alter request.
type alterRun struct {
	reg  *Registration
	from AppTable
	to   AppTable
	move *ddl.Batch // nil unless the parent changes
	plan *alterPlan // nil when no column changes
	ids  map[string]int64
}

func (m *Manager) prepareAlter(ctx context.Context, table string, req AlterRequest) (*alterRun, error) {
	reg, err := m.Registration(ctx, table)
	if err != nil {
		return nil, err
	}
	if err := m.Authorize(ctx, privacy.Target{Table: reg.Table, AppTable: reg.AppTable, Op: privacy.OpAlter}); err != nil {
		return nil, err
	}
	columns, err := m.inspector.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	app, err := LookupAppTable(reg.AppTable)
	if err != nil {
		return nil, err
	}
	run := &alterRun{reg: reg, from: app, to: app}
	if req.AppTableName != "" {
		target, err := LookupAppTable(req.AppTableName)
		if err != nil {
			return nil, err
		}
		if target.Name != app.Name {
			run.to = target
			if run.move, err = m.retargetBatch(table, app, target, isMultiRow(columns)); err != nil {
				return nil, err
			}
			// Column changes are planned against the relinked table.
			columns = relink(columns, app.LinkColumn, target.LinkColumn)
		}
	}
	if req.Empty() {
		return run, nil
	}
	rows, err := m.store.rowCount(ctx, m.drv, table)
	if err != nil {
		return nil, err
	}
	if run.plan, err = m.planAlter(table, run.to, columns, rows, req); err != nil {
		return nil, err
	}
	if run.ids, err = m.codeIDs(ctx, run.plan.lookups); err != nil {
		return nil, err
	}
	return run, nil
}

// relink returns columns with the parent link column renamed.
func relink(columns []schema.Column, from, to string) []schema.Column {
	out := make([]schema.Column, len(columns))
	for i, c := range columns {
		if strings.EqualFold(c.Name, from) {
			c.Name = to
		}
		out[i] = c
	}
	return out
}

func (m *Manager) applyMappings(ctx context.Context, tx dialect.Tx, changes []mappingChange, ids map[string]int64) error {
	for _, mc := range changes {
		var err error
		switch {
		case mc.from == "":
			err = m.store.insertMapping(ctx, tx, mc.to, ids[mc.code])
		case mc.to == "":
			err = m.store.deleteMappings(ctx, tx, mc.from)
		default:
			err = m.store.updateMapping(ctx, tx, mc.from, mc.to, ids[mc.code])
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// retargetBatch moves the parent link of table from one application table to
// another: the old foreign key (and index of multi-row tables) is dropped, the
// link column renamed and the new constraint added. Rows are kept; a link
// value with no parent in the new table fails the constraint.
func (m *Manager) retargetBatch(table string, old, app AppTable, multiRow bool) (*ddl.Batch, error) {
	b := ddl.NewBatch(m.dialect, table)
	if err := b.DropForeignKey(schema.ForeignKeyName(table, old.LinkColumn)); err != nil {
		return nil, err
	}
	if multiRow {
		if err := b.DropIndex(schema.IndexName(table, old.LinkColumn)); err != nil {
			return nil, err
		}
	}
	err := b.ChangeColumn(
		ddl.Column{Name: old.LinkColumn, Type: sqltype.TypeBigInt},
		ddl.Column{Name: app.LinkColumn, Type: sqltype.TypeBigInt},
	)
	if err != nil {
		return nil, err
	}
	err = b.AddForeignKey(ddl.ForeignKey{
		Symbol:    schema.ForeignKeyName(table, app.LinkColumn),
		Column:    app.LinkColumn,
		RefTable:  app.RefTable,
		RefColumn: "id",
	})
	if err != nil {
		return nil, err
	}
	if multiRow {
		if err := b.AddIndex(schema.IndexName(table, app.LinkColumn), app.LinkColumn); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// retarget runs the retarget statements of run and re-registers the table
// under its new parent.
func (m *Manager) retarget(ctx context.Context, log *slog.Logger, run *alterRun) error {
	table := run.reg.Table
	if err := m.exec(ctx, log, table, run.move.Statements()...); err != nil {
		m.invalidate(ctx, log, table)
		return err
	}
	err := m.withTx(ctx, func(tx dialect.Tx) error {
		return m.store.reassign(ctx, tx, table, run.to.Name)
	})
	m.invalidate(ctx, log, table)
	if err != nil {
		return m.classify(ctx, log, table, err)
	}
	log.InfoContext(ctx, "datatable parent changed", "from", run.from.Name, "to", run.to.Name)
	return nil
}

// Deregister removes the bookkeeping of an empty table and drops it.
func (m *Manager) Deregister(ctx context.Context, table string) error {
	reg, err := m.Registration(ctx, table)
	if err != nil {
		return err
	}
	if err := m.Authorize(ctx, privacy.Target{Table: reg.Table, AppTable: reg.AppTable, Op: privacy.OpDeregister}); err != nil {
		return err
	}
	ctx, log := m.change(ctx, "deregister", table)
	rows, err := m.store.rowCount(ctx, m.drv, table)
	if err != nil {
		return err
	}
	if rows > 0 {
		return exttable.NewDomainError(exttable.CodeNonEmptyDeregister, table,
			fmt.Sprintf("cannot deregister a table with %d rows", rows))
	}
	checks, err := m.store.entityChecks(ctx, m.drv, table)
	if err != nil {
		return err
	}
	if checks > 0 {
		return exttable.NewDomainError(exttable.CodeEntityCheckExists, table,
			"table is referenced by an entity check")
	}
	columns, err := m.inspector.Columns(ctx, table)
	if err != nil {
		return err
	}
	var aliases []string
	if m.softFK == schema.ConstraintBacked {
		for _, c := range columns {
			if c.IsCodeLookup() {
				aliases = append(aliases, schema.CodeMappingAlias(table, c.Name))
			}
		}
	}
	drop := ddl.MustBuild(m.dialect, ddl.OpDropTable, false, table)
	err = m.withTx(ctx, func(tx dialect.Tx) error {
		if err := m.store.deregister(ctx, tx, table, aliases); err != nil {
			return err
		}
		log.DebugContext(ctx, "executing ddl", "sql", drop)
		return tx.Exec(ctx, drop, []any{}, nil)
	})
	if err != nil {
		return m.classify(ctx, log, table, err)
	}
	m.invalidate(ctx, log, table)
	log.InfoContext(ctx, "datatable deregistered", "apptable", reg.AppTable)
	return nil
}

// codeIDs resolves the ids of the codes referenced by the given columns.
func (m *Manager) codeIDs(ctx context.Context, codes []codeColumn) (map[string]int64, error) {
	ids := make(map[string]int64, len(codes))
	for _, c := range codes {
		if _, ok := ids[c.code]; ok {
			continue
		}
		id, err := m.store.codeID(ctx, m.drv, c.code)
		if err != nil {
			return nil, err
		}
		ids[c.code] = id
	}
	return ids, nil
}

// change starts a schema change: its id tags both the logger and the
// statements run with the returned context.
func (m *Manager) change(ctx context.Context, op, table string) (context.Context, *slog.Logger) {
	id := uuid.NewString()
	return sql.WithChangeID(ctx, id), m.logger.With("op", op, "table", table, "change_id", id)
}

// exec runs statements one by one, stopping at the first failure.
func (m *Manager) exec(ctx context.Context, log *slog.Logger, table string, stmts ...string) error {
	for _, stmt := range stmts {
		log.DebugContext(ctx, "executing ddl", "sql", stmt)
		if err := m.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return m.classify(ctx, log, table, err)
		}
	}
	return nil
}

// classify turns a driver failure into an integrity error and logs the
// ones that match no known pattern.
func (m *Manager) classify(ctx context.Context, log *slog.Logger, table string, err error) error {
	err = sqlerr.Classify(table, err)
	if exttable.IsIntegrityError(err) && !sqlerr.Known(err) {
		log.ErrorContext(ctx, "unexpected data integrity issue", "error", err)
	}
	return err
}

func (m *Manager) withTx(ctx context.Context, fn func(dialect.Tx) error) error {
	tx, err := m.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("datatable: starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = fmt.Errorf("%w: rolling back transaction: %v", err, rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("datatable: committing transaction: %w", err)
	}
	return nil
}

func (m *Manager) invalidate(ctx context.Context, log *slog.Logger, table string) {
	if m.cached == nil {
		return
	}
	if err := m.cached.Invalidate(ctx, table); err != nil {
		log.WarnContext(ctx, "column cache invalidation failed", "error", err)
	}
}

// logicalName returns the name callers use for a column.
func (m *Manager) logicalName(c schema.Column) string {
	if m.softFK == schema.NameEncoded {
		if _, name, ok := schema.SplitColumnName(c.Name); ok {
			return name
		}
	}
	return c.Name
}

// find returns the column callers name name.
func (m *Manager) find(columns []schema.Column, name string) (schema.Column, bool) {
	for _, c := range columns {
		if strings.EqualFold(c.Name, name) || strings.EqualFold(m.logicalName(c), name) {
			return c, true
		}
	}
	return schema.Column{}, false
}
