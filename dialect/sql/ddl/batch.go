package ddl

import (
	"fmt"
	"strings"

	"github.com/syssam/exttable/dialect"
)

// ForeignKey is a single-column foreign key constraint.
type ForeignKey struct {
	Symbol    string
	Column    string
	RefTable  string
	RefColumn string
}

// Table describes a table to create.
type Table struct {
	Name        string
	Columns     []Column
	PrimaryKey  []string
	ForeignKeys []ForeignKey
}

// CreateTable renders the CREATE TABLE statement of t.
func CreateTable(d dialect.Dialect, t Table) (string, error) {
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: table %q has no columns", t.Name)
	}
	lines := make([]string, 0, len(t.Columns)+len(t.ForeignKeys)+1)
	for _, c := range t.Columns {
		def, err := c.Definition(d)
		if err != nil {
			return "", err
		}
		lines = append(lines, d.Quote(c.Name)+" "+def)
	}
	if len(t.PrimaryKey) > 0 {
		lines = append(lines, "PRIMARY KEY ("+quoteList(d, strings.Join(t.PrimaryKey, ","))+")")
	}
	for _, fk := range t.ForeignKeys {
		lines = append(lines, fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
			d.Quote(fk.Symbol), d.Quote(fk.Column), d.Quote(fk.RefTable), d.Quote(fk.RefColumn)))
	}
	return Build(d, OpCreateTable, false, t.Name, strings.Join(lines, ", "))
}

// Batch accumulates the DDL of one logical change to a table. Clauses that
// the dialect can fuse are collected into a single ALTER TABLE statement;
// an operation that must run alone flushes the pending clauses first, so
// statements keep the order in which operations were added.
type Batch struct {
	dialect dialect.Dialect
	table   string
	clauses []string
	stmts   []string
}

// NewBatch returns an empty batch for table on d.
func NewBatch(d dialect.Dialect, table string) *Batch {
	return &Batch{dialect: d, table: table}
}

// Dialect returns the dialect of the batch.
func (b *Batch) Dialect() dialect.Dialect { return b.dialect }

// Table returns the table the batch alters.
func (b *Batch) Table() string { return b.table }

// Add appends op to the batch. params exclude the table name.
func (b *Batch) Add(op Op, params ...string) error {
	params = append([]string{b.table}, params...)
	if Embeddable(b.dialect, op) {
		s, err := Build(b.dialect, op, true, params...)
		if err != nil {
			return err
		}
		b.clauses = append(b.clauses, s)
		return nil
	}
	s, err := Build(b.dialect, op, false, params...)
	if err != nil {
		return err
	}
	b.flush()
	b.stmts = append(b.stmts, s)
	return nil
}

// AddStatement appends a complete statement, flushing pending clauses first.
func (b *Batch) AddStatement(stmt string) {
	b.flush()
	b.stmts = append(b.stmts, stmt)
}

func (b *Batch) flush() {
	if len(b.clauses) == 0 {
		return
	}
	b.stmts = append(b.stmts, "ALTER TABLE "+b.dialect.Quote(b.table)+" "+strings.Join(b.clauses, ", ")+";")
	b.clauses = nil
}

// Statements flushes pending clauses and returns the statements in order.
func (b *Batch) Statements() []string {
	b.flush()
	return b.stmts
}

// Empty reports whether nothing was added.
func (b *Batch) Empty() bool {
	return len(b.clauses) == 0 && len(b.stmts) == 0
}

// AddColumn appends an add-column clause.
func (b *Batch) AddColumn(c Column) error {
	def, err := c.PositionedDefinition(b.dialect)
	if err != nil {
		return err
	}
	return b.Add(OpAddColumn, c.Name, def)
}

// DropColumn appends a drop-column clause.
func (b *Batch) DropColumn(name string) error {
	return b.Add(OpDropColumn, name)
}

// AddForeignKey appends an add-constraint clause.
func (b *Batch) AddForeignKey(fk ForeignKey) error {
	return b.Add(OpAddForeignKey, fk.Symbol, fk.Column, fk.RefTable, fk.RefColumn)
}

// DropForeignKey appends a drop-constraint clause.
func (b *Batch) DropForeignKey(symbol string) error {
	return b.Add(OpDropForeignKey, symbol)
}

// AddIndex appends an index on columns.
func (b *Batch) AddIndex(name string, columns ...string) error {
	return b.Add(OpAddIndex, name, strings.Join(columns, ","))
}

// DropIndex appends an index removal.
func (b *Batch) DropIndex(name string) error {
	return b.Add(OpDropIndex, name)
}

// RenameColumn appends a column rename.
func (b *Batch) RenameColumn(from, to string) error {
	return b.Add(OpRenameColumn, from, to)
}

// FillNulls appends an UPDATE that replaces NULLs in column with literal.
func (b *Batch) FillNulls(column, literal string) error {
	return b.Add(OpFillNulls, column, literal)
}

// ChangeColumn appends the operations turning column from into to: any mix
// of rename, retype, nullability, default and position changes.
//
// Dialects with a combined clause get a single CHANGE (rename) or MODIFY
// carrying the full new definition. Elsewhere the rename runs first as its
// own statement and the remaining clauses target the new name; positioning
// is dropped. Nothing is added when the columns are equivalent.
func (b *Batch) ChangeColumn(from, to Column) error {
	var (
		d       = b.dialect
		renamed = from.Name != to.Name
		retyped = !from.sameType(to)
		nulls   = from.Nullable != to.Nullable
		defs    = !from.Default.Equal(to.Default)
		moved   = !to.Position.IsLast() && d.SupportsPositioning()
	)
	if !renamed && !retyped && !nulls && !defs && !moved {
		return nil
	}
	if d.SupportsCombinedRename() {
		def, err := to.PositionedDefinition(d)
		if err != nil {
			return err
		}
		if renamed {
			return b.Add(OpChangeColumn, from.Name, to.Name, def)
		}
		return b.Add(OpModifyColumn, to.Name, def)
	}
	if renamed {
		if err := b.RenameColumn(from.Name, to.Name); err != nil {
			return err
		}
	}
	if retyped {
		typ, err := to.TypeToken(d)
		if err != nil {
			return fmt.Errorf("ddl: column %q: %w", to.Name, err)
		}
		if err := b.Add(OpAlterColumnType, to.Name, typ); err != nil {
			return err
		}
	}
	if nulls {
		op := OpSetNotNull
		if to.Nullable {
			op = OpDropNotNull
		}
		if err := b.Add(op, to.Name); err != nil {
			return err
		}
	}
	if defs {
		if to.Default.IsAbsent() {
			return b.Add(OpDropDefault, to.Name)
		}
		lit, err := to.Default.Literal(d, to.Type)
		if err != nil {
			return fmt.Errorf("ddl: default of column %q: %w", to.Name, err)
		}
		return b.Add(OpSetDefault, to.Name, lit)
	}
	return nil
}
