// Package entry reads and writes the rows of extension tables. Column shapes
// are only known at run time, so payloads are string maps validated against
// the introspected column headers.
package entry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/syssam/exttable"
	"github.com/syssam/exttable/datatable"
	"github.com/syssam/exttable/dialect"
	"github.com/syssam/exttable/dialect/sql"
	"github.com/syssam/exttable/dialect/sql/schema"
	"github.com/syssam/exttable/dialect/sql/sqlerr"
	"github.com/syssam/exttable/dialect/sql/sqlfunc"
	"github.com/syssam/exttable/privacy"
)

// Service performs entry operations on registered extension tables.
type Service struct {
	tables  *datatable.Manager
	drv     dialect.Driver
	dialect dialect.Dialect
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Statements are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService returns a Service over the tables managed by m.
func NewService(m *datatable.Manager, opts ...Option) *Service {
	s := &Service{
		tables:  m,
		drv:     m.Driver(),
		dialect: m.Dialect(),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result describes a written entry.
type Result struct {
	Table string `json:"datatable"`
	// ResourceID is the id of the parent row.
	ResourceID int64 `json:"resourceId"`
	// EntityID is the surrogate id of multi-row entries; the parent id for
	// single-row tables.
	EntityID int64          `json:"entityId"`
	Changes  map[string]any `json:"changes,omitempty"`
}

// target is a resolved extension table.
type target struct {
	name     string
	app      datatable.AppTable
	columns  []schema.Column
	multiRow bool
}

// assignment is a normalized value for one column.
type assignment struct {
	index  int
	column schema.Column
	value  any
}

func (s *Service) q(ident string) string { return s.dialect.Quote(ident) }

// resolve loads and authorizes table and checks that the parent row exists
// and is visible to the caller.
func (s *Service) resolve(ctx context.Context, table string, parentID int64, op privacy.Op) (*target, error) {
	reg, err := s.tables.Registration(ctx, table)
	if err != nil {
		return nil, err
	}
	if err := s.tables.Authorize(ctx, privacy.Target{Table: reg.Table, AppTable: reg.AppTable, Op: op}); err != nil {
		return nil, err
	}
	app, err := datatable.LookupAppTable(reg.AppTable)
	if err != nil {
		return nil, err
	}
	_, rows, err := sql.QueryStrings(ctx, s.drv, app.ParentQuery(s.dialect), parentID)
	if err != nil {
		return nil, fmt.Errorf("entry: reading %s %d: %w", app.Name, parentID, err)
	}
	if len(rows) == 0 || (app.Scoped() && !privacy.InScope(ctx, rows[0][0].String)) {
		return nil, exttable.NewNotFoundErrorWithID(app.Name, parentID)
	}
	columns, err := s.tables.Columns(ctx, reg.Table)
	if err != nil {
		return nil, err
	}
	t := &target{name: reg.Table, app: app, columns: columns}
	t.multiRow = slices.ContainsFunc(columns, func(c schema.Column) bool {
		return c.PrimaryKey && c.Name == datatable.SurrogateKey
	})
	return t, nil
}

// protected reports whether callers may not write c.
func (t *target) protected(c schema.Column) bool {
	return c.PrimaryKey || c.Name == t.app.LinkColumn
}

// assignments matches the submitted fields to columns and normalizes their
// values. Field errors are collected and returned together.
func (s *Service) assignments(t *target, values map[string]string) ([]assignment, error) {
	fields, h, err := splitHints(values)
	if err != nil {
		return nil, err
	}
	type field struct{ key, value string }
	byKey := make(map[string]field, len(fields))
	var errs []error
	for _, k := range sortedKeys(fields) {
		fk := foldKey(k)
		if prev, ok := byKey[fk]; ok {
			errs = append(errs, exttable.Validationf(k, exttable.CodeDuplicateColumn, "%q is submitted twice, also as %q", k, prev.key))
			continue
		}
		byKey[fk] = field{key: k, value: fields[k]}
	}
	var set []assignment
	for i, c := range t.columns {
		key := foldKey(c.Name)
		f, ok := byKey[key]
		if !ok {
			key = foldKey(s.logicalName(c))
			f, ok = byKey[key]
		}
		if !ok {
			continue
		}
		delete(byKey, key)
		if t.protected(c) {
			errs = append(errs, exttable.Validationf(f.key, exttable.CodeProtectedColumn, "%q cannot be written", f.key))
			continue
		}
		v, err := h.normalize(c, f.key, f.value)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if v == nil && c.Mandatory() {
			errs = append(errs, exttable.Validationf(f.key, exttable.CodeMandatoryValue, "%q is mandatory", f.key))
			continue
		}
		set = append(set, assignment{index: i, column: c, value: v})
	}
	for _, fk := range sortedKeys(byKey) {
		k := byKey[fk].key
		errs = append(errs, exttable.Validationf(k, exttable.CodeUnknownColumn, "%q is not a column of %s", k, t.name))
	}
	if len(errs) > 0 {
		return nil, exttable.NewAggregateError(errs...)
	}
	return set, nil
}

// logicalName is the name callers use for c.
func (s *Service) logicalName(c schema.Column) string {
	if s.tables.SoftFK() == schema.NameEncoded {
		if _, name, ok := schema.SplitColumnName(c.Name); ok {
			return name
		}
	}
	return c.Name
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func changes(set []assignment) map[string]any {
	if len(set) == 0 {
		return nil
	}
	out := make(map[string]any, len(set))
	for _, a := range set {
		out[a.column.Name] = display(a.column, a.value)
	}
	return out
}

// Insert adds an entry for the parent row. Single-row tables accept one entry
// per parent; a second insert fails with a duplicate entry error.
func (s *Service) Insert(ctx context.Context, table string, parentID int64, values map[string]string) (*Result, error) {
	t, err := s.resolve(ctx, table, parentID, privacy.OpCreate)
	if err != nil {
		return nil, err
	}
	set, err := s.assignments(t, values)
	if err != nil {
		return nil, err
	}
	var missing []error
	for i, c := range t.columns {
		if !c.Mandatory() || t.protected(c) {
			continue
		}
		if !slices.ContainsFunc(set, func(a assignment) bool { return a.index == i }) {
			missing = append(missing, exttable.Validationf(s.logicalName(c), exttable.CodeMandatoryValue, "%q is mandatory", s.logicalName(c)))
		}
	}
	if len(missing) > 0 {
		return nil, exttable.NewAggregateError(missing...)
	}
	cols := []string{s.q(t.app.LinkColumn)}
	args := []any{parentID}
	for _, a := range set {
		cols = append(cols, s.q(a.column.Name))
		args = append(args, bind(a.column, a.value))
	}
	query := "INSERT INTO " + s.q(t.name) + " (" + strings.Join(cols, ", ") + ") VALUES (" +
		s.dialect.Placeholders(1, len(args)) + ")"
	res := &Result{Table: t.name, ResourceID: parentID, EntityID: parentID, Changes: changes(set)}
	log := s.logger.With("op", "insert", "table", t.name)
	log.DebugContext(ctx, "executing statement", "sql", query)
	if !t.multiRow {
		if err := s.drv.Exec(ctx, query, args, nil); err != nil {
			return nil, s.classify(ctx, log, t.name, err)
		}
		return res, nil
	}
	err = s.withTx(ctx, func(tx dialect.Tx) error {
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return s.classify(ctx, log, t.name, err)
		}
		id, err := sql.QueryInt64(ctx, tx, "SELECT "+sqlfunc.MustRender(s.dialect, sqlfunc.LastInsertID))
		if err != nil {
			return fmt.Errorf("entry: reading generated id: %w", err)
		}
		res.EntityID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Update changes the entry of a single-row table.
func (s *Service) Update(ctx context.Context, table string, parentID int64, values map[string]string) (*Result, error) {
	return s.update(ctx, table, parentID, nil, values)
}

// UpdateByID changes one entry of a multi-row table.
func (s *Service) UpdateByID(ctx context.Context, table string, parentID, id int64, values map[string]string) (*Result, error) {
	return s.update(ctx, table, parentID, &id, values)
}

// update writes the columns whose value differs from the stored one. A
// payload changing nothing issues no statement.
func (s *Service) update(ctx context.Context, table string, parentID int64, id *int64, values map[string]string) (*Result, error) {
	t, err := s.resolve(ctx, table, parentID, privacy.OpUpdate)
	if err != nil {
		return nil, err
	}
	if id == nil && t.multiRow {
		return nil, exttable.Validationf(datatable.SurrogateKey, exttable.CodeInvalidValue, "%s has many entries per parent; an entry id is required", t.name)
	}
	set, err := s.assignments(t, values)
	if err != nil {
		return nil, err
	}
	rs, err := s.read(ctx, t, parentID, id)
	if err != nil {
		return nil, err
	}
	switch n := rs.Len(); {
	case n == 0:
		return nil, s.notFound(t, parentID, id)
	case n > 1:
		return nil, exttable.NewNotSingularErrorWithCount(t.name, n)
	}
	current := rs.Rows[0]
	var changed []assignment
	for _, a := range set {
		if !same(a.column, current[a.index], a.value) {
			changed = append(changed, a)
		}
	}
	res := &Result{Table: t.name, ResourceID: parentID, EntityID: parentID, Changes: changes(changed)}
	if id != nil {
		res.EntityID = *id
	}
	log := s.logger.With("op", "update", "table", t.name)
	if len(changed) == 0 {
		log.DebugContext(ctx, "entry unchanged", "parent_id", parentID)
		return res, nil
	}
	sets := make([]string, len(changed))
	args := make([]any, 0, len(changed)+2)
	for i, a := range changed {
		sets[i] = s.q(a.column.Name) + " = " + s.dialect.Placeholder(i+1)
		args = append(args, bind(a.column, a.value))
	}
	where, wargs := s.where(t, parentID, id, len(args)+1)
	query := "UPDATE " + s.q(t.name) + " SET " + strings.Join(sets, ", ") + " WHERE " + where
	log.DebugContext(ctx, "executing statement", "sql", query)
	if err := s.drv.Exec(ctx, query, append(args, wargs...), nil); err != nil {
		return nil, s.classify(ctx, log, t.name, err)
	}
	return res, nil
}

// Delete removes every entry of the parent row and returns how many were
// removed.
func (s *Service) Delete(ctx context.Context, table string, parentID int64) (int64, error) {
	return s.delete(ctx, table, parentID, nil)
}

// DeleteByID removes one entry of a multi-row table.
func (s *Service) DeleteByID(ctx context.Context, table string, parentID, id int64) error {
	_, err := s.delete(ctx, table, parentID, &id)
	return err
}

func (s *Service) delete(ctx context.Context, table string, parentID int64, id *int64) (int64, error) {
	t, err := s.resolve(ctx, table, parentID, privacy.OpDelete)
	if err != nil {
		return 0, err
	}
	where, args := s.where(t, parentID, id, 1)
	query := "DELETE FROM " + s.q(t.name) + " WHERE " + where
	log := s.logger.With("op", "delete", "table", t.name)
	log.DebugContext(ctx, "executing statement", "sql", query)
	n, err := sql.ExecAffected(ctx, s.drv, query, args...)
	if err != nil {
		return 0, s.classify(ctx, log, t.name, err)
	}
	if n == 0 {
		return 0, s.notFound(t, parentID, id)
	}
	return n, nil
}

// Get returns the entries of the parent row, ordered by id on multi-row
// tables. A parent without entries yields an empty result set.
func (s *Service) Get(ctx context.Context, table string, parentID int64) (*ResultSet, error) {
	t, err := s.resolve(ctx, table, parentID, privacy.OpRead)
	if err != nil {
		return nil, err
	}
	return s.read(ctx, t, parentID, nil)
}

// GetByID returns one entry of a multi-row table.
func (s *Service) GetByID(ctx context.Context, table string, parentID, id int64) (*ResultSet, error) {
	t, err := s.resolve(ctx, table, parentID, privacy.OpRead)
	if err != nil {
		return nil, err
	}
	rs, err := s.read(ctx, t, parentID, &id)
	if err != nil {
		return nil, err
	}
	if rs.Len() == 0 {
		return nil, s.notFound(t, parentID, &id)
	}
	return rs, nil
}

func (s *Service) read(ctx context.Context, t *target, parentID int64, id *int64) (*ResultSet, error) {
	cols := make([]string, len(t.columns))
	for i, c := range t.columns {
		cols[i] = s.q(c.Name)
	}
	where, args := s.where(t, parentID, id, 1)
	query := "SELECT " + strings.Join(cols, ", ") + " FROM " + s.q(t.name) + " WHERE " + where
	if t.multiRow {
		query += " ORDER BY " + s.q(datatable.SurrogateKey)
	}
	_, rows, err := sql.QueryStrings(ctx, s.drv, query, args...)
	if err != nil {
		return nil, fmt.Errorf("entry: reading %s: %w", t.name, err)
	}
	return &ResultSet{Columns: t.columns, Rows: rows}, nil
}

// where selects the entries of the parent row, or one of them when id is
// set. Placeholders are numbered from start.
func (s *Service) where(t *target, parentID int64, id *int64, start int) (string, []any) {
	clause := s.q(t.app.LinkColumn) + " = " + s.dialect.Placeholder(start)
	args := []any{parentID}
	if id != nil {
		clause += " AND " + s.q(datatable.SurrogateKey) + " = " + s.dialect.Placeholder(start+1)
		args = append(args, *id)
	}
	return clause, args
}

func (s *Service) notFound(t *target, parentID int64, id *int64) error {
	if id != nil {
		return exttable.NewNotFoundErrorWithID(t.name, *id)
	}
	return exttable.NewNotFoundErrorWithID(t.name, parentID)
}

func (s *Service) classify(ctx context.Context, log *slog.Logger, table string, err error) error {
	err = sqlerr.Classify(table, err)
	if exttable.IsIntegrityError(err) && !sqlerr.Known(err) {
		log.ErrorContext(ctx, "unexpected data integrity issue", "error", err)
	}
	return err
}

func (s *Service) withTx(ctx context.Context, fn func(dialect.Tx) error) error {
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("entry: starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = fmt.Errorf("%w: rolling back transaction: %v", err, rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("entry: committing transaction: %w", err)
	}
	return nil
}
