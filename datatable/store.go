package datatable

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/syssam/exttable"
	"github.com/syssam/exttable/dialect"
	"github.com/syssam/exttable/dialect/sql"
	"github.com/syssam/exttable/dialect/sql/schema"
	"github.com/syssam/exttable/privacy"
)

// Bookkeeping tables.
const (
	RegisteredTable     = "x_registered_table"
	PermissionTable     = "m_permission"
	RolePermissionTable = "m_role_permission"
	EntityCheckTable    = "m_entity_datatable_check"
	ConfigurationTable  = "c_configuration"
	permissionGrouping  = "datatable"
)

// Registration links an extension table to its application table.
type Registration struct {
	Table    string `json:"registeredTableName" yaml:"registeredTableName"`
	AppTable string `json:"applicationTableName" yaml:"applicationTableName"`
	Category int    `json:"category" yaml:"category"`
}

// store reads and writes the bookkeeping rows. Every method runs on the
// ExecQuerier it is given, so callers choose the transaction.
type store struct {
	dialect dialect.Dialect
}

func (s store) q(ident string) string { return s.dialect.Quote(ident) }

func (s store) p(i int) string { return s.dialect.Placeholder(i) }

func (s store) registration(ctx context.Context, eq dialect.ExecQuerier, table string) (*Registration, error) {
	query := "SELECT registered_table_name, application_table_name, category FROM " + RegisteredTable +
		" WHERE registered_table_name = " + s.p(1)
	_, rows, err := sql.QueryStrings(ctx, eq, query, table)
	if err != nil {
		return nil, fmt.Errorf("datatable: read registration of %q: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, exttable.NewNotFoundErrorWithID("datatable", table)
	}
	return toRegistration(rows[0]), nil
}

func (s store) registrations(ctx context.Context, eq dialect.ExecQuerier, appTable string) ([]*Registration, error) {
	var (
		args  []any
		query = "SELECT registered_table_name, application_table_name, category FROM " + RegisteredTable
	)
	if appTable != "" {
		query += " WHERE application_table_name = " + s.p(1)
		args = append(args, appTable)
	}
	query += " ORDER BY application_table_name, registered_table_name"
	_, rows, err := sql.QueryStrings(ctx, eq, query, args...)
	if err != nil {
		return nil, fmt.Errorf("datatable: list registrations: %w", err)
	}
	regs := make([]*Registration, len(rows))
	for i, r := range rows {
		regs[i] = toRegistration(r)
	}
	return regs, nil
}

func toRegistration(r []sql.NullString) *Registration {
	category, _ := strconv.Atoi(r[2].String)
	return &Registration{Table: r[0].String, AppTable: r[1].String, Category: category}
}

// register inserts the registration row and the permissions of the table.
func (s store) register(ctx context.Context, eq dialect.ExecQuerier, reg Registration) error {
	query := "INSERT INTO " + RegisteredTable + " (registered_table_name, application_table_name, category) VALUES (" +
		s.dialect.Placeholders(1, 3) + ")"
	if err := eq.Exec(ctx, query, []any{reg.Table, reg.AppTable, reg.Category}, nil); err != nil {
		return fmt.Errorf("datatable: register %q: %w", reg.Table, err)
	}
	query = "INSERT INTO " + PermissionTable + " (" + s.q("grouping") + ", code, action_name, entity_name, can_maker_checker) VALUES "
	var args []any
	n := 0
	for _, op := range privacy.EntryOps {
		for _, code := range []string{privacy.PermissionCode(op, reg.Table), privacy.CheckerPermissionCode(op, reg.Table)} {
			if n > 0 {
				query += ", "
			}
			query += "(" + s.dialect.Placeholders(n*4+1, 4) + ", " + s.dialect.BoolLiteral(false) + ")"
			args = append(args, permissionGrouping, code, string(op), reg.Table)
			n++
		}
	}
	if err := eq.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("datatable: permissions of %q: %w", reg.Table, err)
	}
	return nil
}

func permissionCodes(table string) []any {
	codes := make([]any, 0, 2*len(privacy.EntryOps))
	for _, op := range privacy.EntryOps {
		codes = append(codes, privacy.PermissionCode(op, table), privacy.CheckerPermissionCode(op, table))
	}
	return codes
}

// reassign moves the registration of table to appTable.
func (s store) reassign(ctx context.Context, eq dialect.ExecQuerier, table, appTable string) error {
	query := "UPDATE " + RegisteredTable + " SET application_table_name = " + s.p(1) +
		" WHERE registered_table_name = " + s.p(2)
	n, err := sql.ExecAffected(ctx, eq, query, appTable, table)
	if err != nil {
		return fmt.Errorf("datatable: reassign %q: %w", table, err)
	}
	if n == 0 {
		return exttable.NewNotFoundErrorWithID("datatable", table)
	}
	return nil
}

// deregister removes the registration, permissions and their grants,
// configuration flags and the given code mappings of table.
func (s store) deregister(ctx context.Context, eq dialect.ExecQuerier, table string, aliases []string) error {
	codes := permissionCodes(table)
	in := s.dialect.Placeholders(1, len(codes))
	steps := []struct {
		query string
		args  []any
	}{
		{"DELETE FROM " + RolePermissionTable + " WHERE permission_id IN (SELECT id FROM " + PermissionTable + " WHERE code IN (" + in + "))", codes},
		{"DELETE FROM " + PermissionTable + " WHERE code IN (" + in + ")", codes},
		{"DELETE FROM " + ConfigurationTable + " WHERE name = " + s.p(1), []any{table}},
		{"DELETE FROM " + RegisteredTable + " WHERE registered_table_name = " + s.p(1), []any{table}},
	}
	for _, step := range steps {
		if err := eq.Exec(ctx, step.query, step.args, nil); err != nil {
			return fmt.Errorf("datatable: deregister %q: %w", table, err)
		}
	}
	return s.deleteMappings(ctx, eq, aliases...)
}

func (s store) entityChecks(ctx context.Context, eq dialect.ExecQuerier, table string) (int64, error) {
	query := "SELECT COUNT(*) FROM " + EntityCheckTable + " WHERE x_registered_table_name = " + s.p(1)
	n, err := sql.QueryInt64(ctx, eq, query, table)
	if err != nil {
		return 0, fmt.Errorf("datatable: entity checks of %q: %w", table, err)
	}
	return n, nil
}

// rowCount counts the rows of an extension table.
func (s store) rowCount(ctx context.Context, eq dialect.ExecQuerier, table string) (int64, error) {
	n, err := sql.QueryInt64(ctx, eq, "SELECT COUNT(*) FROM "+s.q(table))
	if err != nil {
		return 0, fmt.Errorf("datatable: count rows of %q: %w", table, err)
	}
	return n, nil
}

// codeID returns the id of the code named code.
func (s store) codeID(ctx context.Context, eq dialect.ExecQuerier, code string) (int64, error) {
	query := "SELECT id FROM " + schema.CodeTable + " WHERE code_name = " + s.p(1)
	id, err := sql.QueryInt64(ctx, eq, query, code)
	switch {
	case errors.Is(err, stdsql.ErrNoRows):
		return 0, exttable.NewNotFoundErrorWithID("code", code)
	case err != nil:
		return 0, fmt.Errorf("datatable: code %q: %w", code, err)
	}
	return id, nil
}

func (s store) insertMapping(ctx context.Context, eq dialect.ExecQuerier, alias string, codeID int64) error {
	query := "INSERT INTO " + schema.CodeMappingTable + " (column_alias_name, code_id) VALUES (" + s.dialect.Placeholders(1, 2) + ")"
	if err := eq.Exec(ctx, query, []any{alias, codeID}, nil); err != nil {
		return fmt.Errorf("datatable: map %q: %w", alias, err)
	}
	return nil
}

func (s store) updateMapping(ctx context.Context, eq dialect.ExecQuerier, from, to string, codeID int64) error {
	query := "UPDATE " + schema.CodeMappingTable + " SET column_alias_name = " + s.p(1) + ", code_id = " + s.p(2) +
		" WHERE column_alias_name = " + s.p(3)
	if err := eq.Exec(ctx, query, []any{to, codeID, from}, nil); err != nil {
		return fmt.Errorf("datatable: remap %q: %w", from, err)
	}
	return nil
}

func (s store) deleteMappings(ctx context.Context, eq dialect.ExecQuerier, aliases ...string) error {
	if len(aliases) == 0 {
		return nil
	}
	args := make([]any, len(aliases))
	for i, a := range aliases {
		args[i] = a
	}
	query := "DELETE FROM " + schema.CodeMappingTable + " WHERE column_alias_name IN (" + s.dialect.Placeholders(1, len(args)) + ")"
	if err := eq.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("datatable: unmap columns: %w", err)
	}
	return nil
}
