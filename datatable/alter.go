package datatable

import (
	"fmt"
	"strings"

	"github.com/syssam/exttable"
	"github.com/syssam/exttable/dialect/sql/ddl"
	"github.com/syssam/exttable/dialect/sql/schema"
	"github.com/syssam/exttable/dialect/sql/sqltype"
)

// mappingChange is a change of x_table_column_code_mappings: an insert when
// from is empty, a delete when to is empty, an update otherwise.
type mappingChange struct {
	from string
	to   string
	code string
}

type alterPlan struct {
	fills    *ddl.Batch
	drops    *ddl.Batch
	adds     *ddl.Batch
	changes  *ddl.Batch
	mappings []mappingChange
	warnings []*schema.Issue
	lookups  []codeColumn
}

func (p *alterPlan) statements() []string {
	var stmts []string
	for _, b := range []*ddl.Batch{p.fills, p.drops, p.adds, p.changes} {
		stmts = append(stmts, b.Statements()...)
	}
	return stmts
}

// planAlter validates req against the current columns and row count of
// table and renders its statements.
func (m *Manager) planAlter(table string, app AppTable, columns []schema.Column, rows int64, req AlterRequest) (*alterPlan, error) {
	d := m.dialect
	p := &alterPlan{
		fills:   ddl.NewBatch(d, table),
		drops:   ddl.NewBatch(d, table),
		adds:    ddl.NewBatch(d, table),
		changes: ddl.NewBatch(d, table),
	}
	protected := func(c schema.Column) bool {
		return c.PrimaryKey || strings.EqualFold(c.Name, app.LinkColumn) || strings.EqualFold(c.Name, SurrogateKey)
	}
	constraint := m.softFK == schema.ConstraintBacked

	if len(req.DropColumns) > 0 && rows > 0 {
		return nil, exttable.NewDomainError(exttable.CodeNonEmptyColumnDrop, table,
			fmt.Sprintf("cannot remove columns from a table with %d rows", rows))
	}
	for _, spec := range req.DropColumns {
		cur, ok := m.find(columns, spec.Name)
		switch {
		case !ok:
			return nil, exttable.Validationf(spec.Name, exttable.CodeUnknownColumn, "column %q does not exist", spec.Name)
		case protected(cur):
			return nil, exttable.Validationf(spec.Name, exttable.CodeProtectedColumn, "column %q cannot be removed", spec.Name)
		}
		if cur.IsCodeLookup() && constraint {
			if err := p.drops.DropForeignKey(schema.ForeignKeyName(table, cur.Name)); err != nil {
				return nil, err
			}
			p.mappings = append(p.mappings, mappingChange{from: schema.CodeMappingAlias(table, cur.Name)})
		}
		if err := p.drops.DropColumn(cur.Name); err != nil {
			return nil, err
		}
	}

	for _, spec := range req.AddColumns {
		c, code, err := spec.column(m.softFK)
		if err != nil {
			return nil, err
		}
		if _, exists := m.find(columns, spec.Name); exists {
			return nil, exttable.Validationf(spec.Name, exttable.CodeDuplicateColumn, "column %q already exists", spec.Name)
		}
		if !c.Nullable && rows > 0 {
			return nil, exttable.NewDomainError(exttable.CodeNonEmptyMandatoryAdd, table,
				fmt.Sprintf("cannot add mandatory column %q to a table with %d rows", spec.Name, rows))
		}
		r := schema.ValidateAdd(table, c)
		if r.HasErrors() {
			return nil, r.Err()
		}
		p.warnings = append(p.warnings, r.Warnings...)
		if err := p.adds.AddColumn(c); err != nil {
			return nil, err
		}
		if code == nil {
			continue
		}
		p.lookups = append(p.lookups, *code)
		if constraint {
			if err := p.adds.AddForeignKey(codeForeignKey(table, c.Name)); err != nil {
				return nil, err
			}
			p.mappings = append(p.mappings, mappingChange{to: schema.CodeMappingAlias(table, c.Name), code: code.code})
		}
	}

	for _, spec := range req.ChangeColumns {
		if err := m.planChange(p, table, columns, rows, spec, protected); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// planChange adds the statements of one column change. The four lookup
// outcomes (kept, added, removed, moved by a rename) decide whether the
// foreign key is dropped before the change and added after it.
func (m *Manager) planChange(p *alterPlan, table string, columns []schema.Column, rows int64, spec ChangeColumnSpec, protected func(schema.Column) bool) error {
	d := m.dialect
	cur, ok := m.find(columns, spec.Name)
	switch {
	case !ok:
		return exttable.Validationf(spec.Name, exttable.CodeUnknownColumn, "column %q does not exist", spec.Name)
	case protected(cur):
		return exttable.Validationf(spec.Name, exttable.CodeProtectedColumn, "column %q cannot be changed", spec.Name)
	case spec.Code != "" && !strings.EqualFold(spec.Code, cur.Code):
		return exttable.Validationf(spec.Name, exttable.CodeInvalidCodeValue, "column %q does not reference code %q", spec.Name, spec.Code)
	}
	from := currentColumn(cur)
	to := from
	to.Nullable = !spec.Mandatory
	if spec.Type != "" {
		typ, size, scale, err := spec.Type.columnType(spec.Length)
		if err != nil {
			return fmt.Errorf("column %q: %w", spec.Name, err)
		}
		to.Type, to.Size, to.Scale = typ, size, scale
	} else if spec.Length > 0 {
		switch {
		case to.Type == sqltype.TypeText:
			to.Type, to.Size = sqltype.TypeVarchar, spec.Length
		case to.Type.IsString() && to.Type.HasPrecision(d):
			to.Size = spec.Length
		default:
			return exttable.Validationf(spec.Name, exttable.CodeInvalidValue, "column %q of type %s has no length", spec.Name, to.Type)
		}
	}
	if spec.After != "" {
		after, ok := m.find(columns, spec.After)
		if !ok {
			return exttable.Validationf("after", exttable.CodeUnknownColumn, "column %q does not exist", spec.After)
		}
		to.Position = ddl.After(after.Name)
	}

	oldCode, newCode := cur.Code, cur.Code
	if spec.NewCode != nil {
		newCode = *spec.NewCode
	}
	if newCode != "" && to.Type.Kind() != sqltype.KindInt {
		return exttable.Validationf(spec.Name, exttable.CodeInvalidCodeValue, "lookup column %q must be an integer", spec.Name)
	}
	name := m.logicalName(cur)
	if spec.NewName != "" {
		name = spec.NewName
	}
	to.Name = m.softFK.ColumnName(name, newCode)

	r := schema.ValidateChange(table, from, to, schema.AllowNullToNotNull())
	if r.HasErrors() {
		return r.Err()
	}
	p.warnings = append(p.warnings, r.Warnings...)

	var (
		constraint = m.softFK == schema.ConstraintBacked
		renamed    = from.Name != to.Name
		hadFK      = constraint && oldCode != ""
		hasFK      = constraint && newCode != ""
	)
	if from.Nullable && !to.Nullable && rows > 0 {
		lit, ok := from.Type.NeutralLiteral(d)
		if !ok || oldCode != "" {
			return exttable.NewDomainError(exttable.CodeNonEmptyMandatoryChange, table,
				fmt.Sprintf("column %q of a table with %d rows has no neutral value to replace NULLs", spec.Name, rows))
		}
		if err := p.fills.FillNulls(from.Name, lit); err != nil {
			return err
		}
	}
	if hadFK && (!hasFK || renamed) {
		if err := p.changes.DropForeignKey(schema.ForeignKeyName(table, from.Name)); err != nil {
			return err
		}
	}
	if err := p.changes.ChangeColumn(from, to); err != nil {
		return err
	}
	if hasFK && (!hadFK || renamed) {
		if err := p.changes.AddForeignKey(codeForeignKey(table, to.Name)); err != nil {
			return err
		}
	}

	oldAlias, newAlias := schema.CodeMappingAlias(table, from.Name), schema.CodeMappingAlias(table, to.Name)
	switch {
	case hadFK && !hasFK:
		p.mappings = append(p.mappings, mappingChange{from: oldAlias})
	case !hadFK && hasFK:
		p.mappings = append(p.mappings, mappingChange{to: newAlias, code: newCode})
	case hadFK && hasFK && (renamed || !strings.EqualFold(oldCode, newCode)):
		p.mappings = append(p.mappings, mappingChange{from: oldAlias, to: newAlias, code: newCode})
	}
	if newCode != "" && (!strings.EqualFold(oldCode, newCode) || hasFK && renamed) {
		p.lookups = append(p.lookups, codeColumn{column: to.Name, code: newCode})
	}
	return nil
}

// currentColumn converts an introspected header into a column definition.
func currentColumn(c schema.Column) ddl.Column {
	col := ddl.Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
	switch {
	case c.Type == sqltype.TypeDecimal:
		col.Size, col.Scale = c.Precision, c.Scale
	case c.Type == sqltype.TypeVarchar || c.Type == sqltype.TypeChar:
		col.Size = int(c.Length)
	}
	return col
}
