package datatable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/exttable"
	"github.com/syssam/exttable/dialect"
	"github.com/syssam/exttable/dialect/sql/schema"
	"github.com/syssam/exttable/dialect/sql/sqltype"
)

func loanNotesColumns() []schema.Column {
	return []schema.Column{
		{Name: "id", Type: sqltype.TypeBigInt, PrimaryKey: true},
		{Name: "loan_id", Type: sqltype.TypeBigInt},
		{Name: "note", Type: sqltype.TypeText, Nullable: true},
		{Name: "title", Type: sqltype.TypeVarchar, Length: 100, Nullable: true},
		{Name: "priority", Type: sqltype.TypeBigInt, Nullable: true},
		{Name: "kind", Type: sqltype.TypeInteger, Nullable: true, Code: "NoteKind"},
		{Name: "due", Type: sqltype.TypeDate, Nullable: true},
	}
}

func TestPlanAlterStatements(t *testing.T) {
	loan, err := LookupAppTable("m_loan")
	require.NoError(t, err)
	tests := []struct {
		name  string
		d     dialect.Dialect
		rows  int64
		req   AlterRequest
		want  []string
		warns int
	}{
		{
			name: "FillsNullsBeforeMandatory",
			d:    dialect.MySQL,
			rows: 3,
			req:  AlterRequest{ChangeColumns: []ChangeColumnSpec{{Name: "note", Mandatory: true}}},
			want: []string{
				"UPDATE `t_loan_notes` SET `note` = '' WHERE `note` IS NULL;",
				"ALTER TABLE `t_loan_notes` MODIFY `note` TEXT NOT NULL;",
			},
			warns: 1,
		},
		{
			name: "FillsNullsPostgres",
			d:    dialect.Postgres,
			rows: 3,
			req:  AlterRequest{ChangeColumns: []ChangeColumnSpec{{Name: "priority", Mandatory: true}}},
			want: []string{
				`UPDATE "t_loan_notes" SET "priority" = 0 WHERE "priority" IS NULL;`,
				`ALTER TABLE "t_loan_notes" ALTER COLUMN "priority" SET NOT NULL;`,
			},
			warns: 1,
		},
		{
			name: "NoFillOnEmptyTable",
			d:    dialect.MySQL,
			req:  AlterRequest{ChangeColumns: []ChangeColumnSpec{{Name: "note", Mandatory: true}}},
			want: []string{
				"ALTER TABLE `t_loan_notes` MODIFY `note` TEXT NOT NULL;",
			},
			warns: 1,
		},
		{
			name: "Reposition",
			d:    dialect.MySQL,
			req:  AlterRequest{ChangeColumns: []ChangeColumnSpec{{Name: "priority", After: "loan_id"}}},
			want: []string{
				"ALTER TABLE `t_loan_notes` MODIFY `priority` BIGINT NULL AFTER `loan_id`;",
			},
		},
		{
			name: "RepositionIgnoredOnPostgres",
			d:    dialect.Postgres,
			req:  AlterRequest{ChangeColumns: []ChangeColumnSpec{{Name: "priority", After: "loan_id"}}},
		},
		{
			name: "ShrinkVarchar",
			d:    dialect.Postgres,
			req:  AlterRequest{ChangeColumns: []ChangeColumnSpec{{Name: "title", Length: 50}}},
			want: []string{
				`ALTER TABLE "t_loan_notes" ALTER COLUMN "title" TYPE VARCHAR(50);`,
			},
			warns: 1,
		},
		{
			name: "DropAddChangeOrder",
			d:    dialect.MySQL,
			req: AlterRequest{
				ChangeColumns: []ChangeColumnSpec{{Name: "title", Type: TypeText}},
				AddColumns:    []ColumnSpec{{Name: "urgent", Type: TypeBoolean}},
				DropColumns:   []DropColumnSpec{{Name: "kind"}},
			},
			want: []string{
				"ALTER TABLE `t_loan_notes` DROP FOREIGN KEY `fk_t_loan_notes_kind`, DROP COLUMN `kind`;",
				"ALTER TABLE `t_loan_notes` ADD `urgent` BOOLEAN NULL;",
				"ALTER TABLE `t_loan_notes` MODIFY `title` TEXT NULL;",
			},
			warns: 1,
		},
		{
			name: "MandatoryOnEmptyTable",
			d:    dialect.Postgres,
			req:  AlterRequest{AddColumns: []ColumnSpec{{Name: "urgent", Type: TypeBoolean, Mandatory: true}}},
			want: []string{
				`ALTER TABLE "t_loan_notes" ADD COLUMN "urgent" BOOLEAN NOT NULL;`,
			},
			warns: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := mockManager(t, tt.d)
			p, err := m.planAlter("t_loan_notes", loan, loanNotesColumns(), tt.rows, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.statements())
			assert.Len(t, p.warnings, tt.warns)
		})
	}
}

func TestPlanAlterErrors(t *testing.T) {
	loan, err := LookupAppTable("m_loan")
	require.NoError(t, err)
	code := "Priority"
	tests := []struct {
		name string
		req  AlterRequest
		code string
		rows int64
	}{
		{"DropUnknown", AlterRequest{DropColumns: []DropColumnSpec{{Name: "missing"}}}, exttable.CodeUnknownColumn, 0},
		{"DropLink", AlterRequest{DropColumns: []DropColumnSpec{{Name: "loan_id"}}}, exttable.CodeProtectedColumn, 0},
		{"DropKey", AlterRequest{DropColumns: []DropColumnSpec{{Name: "id"}}}, exttable.CodeProtectedColumn, 0},
		{"AddExisting", AlterRequest{AddColumns: []ColumnSpec{{Name: "Note", Type: TypeText}}}, exttable.CodeDuplicateColumn, 0},
		{"ChangeUnknown", AlterRequest{ChangeColumns: []ChangeColumnSpec{{Name: "missing"}}}, exttable.CodeUnknownColumn, 0},
		{"ChangeLink", AlterRequest{ChangeColumns: []ChangeColumnSpec{{Name: "loan_id", NewName: "x"}}}, exttable.CodeProtectedColumn, 0},
		{"ChangeAfterUnknown", AlterRequest{ChangeColumns: []ChangeColumnSpec{{Name: "note", After: "missing"}}}, exttable.CodeUnknownColumn, 0},
		{"LengthOnNumber", AlterRequest{ChangeColumns: []ChangeColumnSpec{{Name: "priority", Length: 10}}}, exttable.CodeInvalidValue, 0},
		{"WrongCurrentCode", AlterRequest{ChangeColumns: []ChangeColumnSpec{{Name: "kind", Code: "Other"}}}, exttable.CodeInvalidCodeValue, 0},
		{"CodeOnText", AlterRequest{ChangeColumns: []ChangeColumnSpec{{Name: "note", NewCode: &code}}}, exttable.CodeInvalidCodeValue, 0},
		{"UnsafeNewName", AlterRequest{ChangeColumns: []ChangeColumnSpec{{Name: "note", NewName: "a-b"}}}, exttable.CodeInvalidName, 0},
		{"MandatoryDateWithRows", AlterRequest{ChangeColumns: []ChangeColumnSpec{{Name: "due", Mandatory: true}}}, exttable.CodeNonEmptyMandatoryChange, 3},
		{"MandatoryLookupWithRows", AlterRequest{ChangeColumns: []ChangeColumnSpec{{Name: "kind", Mandatory: true}}}, exttable.CodeNonEmptyMandatoryChange, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := mockManager(t, dialect.MySQL)
			_, err := m.planAlter("t_loan_notes", loan, loanNotesColumns(), tt.rows, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, exttable.ErrorCode(err))
		})
	}
}

func TestPlanAlterNameEncoded(t *testing.T) {
	loan, err := LookupAppTable("m_loan")
	require.NoError(t, err)
	columns := []schema.Column{
		{Name: "id", Type: sqltype.TypeBigInt, PrimaryKey: true},
		{Name: "loan_id", Type: sqltype.TypeBigInt},
		{Name: "NoteKind_cd_kind", Type: sqltype.TypeInteger, Nullable: true, Code: "NoteKind"},
	}
	m, _ := mockManager(t, dialect.MySQL, WithSoftFK(schema.NameEncoded))

	p, err := m.planAlter("t_loan_notes", loan, columns, 5, AlterRequest{
		ChangeColumns: []ChangeColumnSpec{{Name: "kind", NewName: "category"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ALTER TABLE `t_loan_notes` CHANGE `NoteKind_cd_kind` `NoteKind_cd_category` INT NULL;",
	}, p.statements())
	assert.Empty(t, p.mappings)
	assert.Empty(t, p.lookups)

	other := "Priority"
	p, err = m.planAlter("t_loan_notes", loan, columns, 5, AlterRequest{
		ChangeColumns: []ChangeColumnSpec{{Name: "kind", NewCode: &other}},
		AddColumns:    []ColumnSpec{{Name: "status", Type: TypeDropdown, Code: "NoteStatus"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ALTER TABLE `t_loan_notes` ADD `NoteStatus_cd_status` INT NULL;",
		"ALTER TABLE `t_loan_notes` CHANGE `NoteKind_cd_kind` `Priority_cd_kind` INT NULL;",
	}, p.statements())
	assert.Empty(t, p.mappings)
	assert.Equal(t, []codeColumn{
		{column: "NoteStatus_cd_status", code: "NoteStatus"},
		{column: "Priority_cd_kind", code: "Priority"},
	}, p.lookups)
}
