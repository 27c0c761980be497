package datatable

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/exttable"
	"github.com/syssam/exttable/dialect"
	"github.com/syssam/exttable/dialect/sql"
	"github.com/syssam/exttable/dialect/sql/schema"
	"github.com/syssam/exttable/privacy"
)

func escape(query string) string {
	return "^" + regexp.QuoteMeta(query) + "$"
}

func mockManager(t *testing.T, d dialect.Dialect, opts ...Option) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewManager(sql.OpenDB(d, db), opts...), mock
}

var headerColumns = []string{
	"column_name", "data_type", "column_type", "is_nullable", "column_key",
	"character_maximum_length", "numeric_precision", "numeric_scale",
}

func expectRegistration(mock sqlmock.Sqlmock, d dialect.Dialect, table, app string) {
	rows := sqlmock.NewRows([]string{"registered_table_name", "application_table_name", "category"})
	if app != "" {
		rows.AddRow(table, app, CategoryDefault)
	}
	mock.ExpectQuery(escape("SELECT registered_table_name, application_table_name, category FROM x_registered_table WHERE registered_table_name = " + d.Placeholder(1))).
		WithArgs(table).
		WillReturnRows(rows)
}

func expectHeaders(mock sqlmock.Sqlmock, table string, rows *sqlmock.Rows) {
	mock.ExpectQuery(`FROM information_schema\.columns`).WithArgs(table).WillReturnRows(rows)
}

func expectMappings(mock sqlmock.Sqlmock, rows [][2]string, aliases ...driver.Value) {
	r := sqlmock.NewRows([]string{"column_alias_name", "code_name"})
	for _, row := range rows {
		r.AddRow(row[0], row[1])
	}
	mock.ExpectQuery(`FROM x_table_column_code_mappings m JOIN m_code c`).WithArgs(aliases...).WillReturnRows(r)
}

func expectRowCount(mock sqlmock.Sqlmock, d dialect.Dialect, table string, n int64) {
	mock.ExpectQuery(escape("SELECT COUNT(*) FROM " + d.Quote(table))).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
}

func expectCodeID(mock sqlmock.Sqlmock, code string, id int64) {
	mock.ExpectQuery(escape("SELECT id FROM m_code WHERE code_name = ?")).
		WithArgs(code).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
}

func expectExec(mock sqlmock.Sqlmock, stmts ...string) {
	for _, stmt := range stmts {
		mock.ExpectExec(escape(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
}

func expectPermissions(mock sqlmock.Sqlmock, d dialect.Dialect, table string) {
	var (
		values []string
		args   []driver.Value
	)
	for _, op := range privacy.EntryOps {
		for _, code := range []string{privacy.PermissionCode(op, table), privacy.CheckerPermissionCode(op, table)} {
			values = append(values, "("+d.Placeholders(len(args)+1, 4)+", "+d.BoolLiteral(false)+")")
			args = append(args, "datatable", code, string(op), table)
		}
	}
	mock.ExpectExec(escape("INSERT INTO m_permission (" + d.Quote("grouping") + ", code, action_name, entity_name, can_maker_checker) VALUES " +
		strings.Join(values, ", "))).
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, int64(len(values))))
}

// loanNotesMySQL is t_loan_notes after the "kind" lookup column was added.
func loanNotesMySQL() *sqlmock.Rows {
	return sqlmock.NewRows(headerColumns).
		AddRow("id", "bigint", "bigint", "NO", "PRI", nil, 19, 0).
		AddRow("loan_id", "bigint", "bigint", "NO", "MUL", nil, 19, 0).
		AddRow("note", "text", "text", "YES", "", 65535, nil, nil).
		AddRow("priority", "bigint", "bigint", "YES", "", nil, 19, 0).
		AddRow("kind", "int", "int", "YES", "", nil, 10, 0).
		AddRow("level", "int", "int", "YES", "", nil, 10, 0)
}

func expectLoanNotesMySQL(mock sqlmock.Sqlmock) {
	expectHeaders(mock, "t_loan_notes", loanNotesMySQL())
	expectMappings(mock, [][2]string{{"t_loan_notes_kind", "NoteKind"}, {"t_loan_notes_level", "Level"}},
		"t_loan_notes_loan_id", "t_loan_notes_priority", "t_loan_notes_kind", "t_loan_notes_level")
	mock.ExpectQuery(`FROM m_code_value cv`).
		WithArgs("Level", "NoteKind").
		WillReturnRows(sqlmock.NewRows([]string{"code_name", "id", "code_value", "code_score"}))
}

func loanNotesPostgres(link string) *sqlmock.Rows {
	return sqlmock.NewRows(headerColumns).
		AddRow("id", "bigint", "int8", "NO", "PRI", nil, 64, 0).
		AddRow(link, "bigint", "int8", "NO", "", nil, 64, 0).
		AddRow("note", "text", "text", "YES", "", nil, nil, nil)
}

func TestPlanCreate(t *testing.T) {
	def := Definition{
		DatatableName: "t_loan_notes",
		AppTableName:  "m_loan",
		MultiRow:      true,
		Columns: []ColumnSpec{
			{Name: "note", Type: TypeText, Mandatory: true},
			{Name: "priority", Type: TypeNumber},
			{Name: "status", Type: TypeDropdown, Code: "LoanNoteStatus"},
		},
	}
	p, err := PlanCreate(dialect.MySQL, schema.ConstraintBacked, def)
	require.NoError(t, err)
	assert.Equal(t, CategoryDefault, p.Category)
	assert.True(t, p.MultiRow)
	assert.Equal(t, []string{
		"CREATE TABLE `t_loan_notes` (" +
			"`id` BIGINT NOT NULL AUTO_INCREMENT, " +
			"`loan_id` BIGINT NOT NULL, " +
			"`note` TEXT NOT NULL, " +
			"`priority` BIGINT NULL, " +
			"`status` INT NULL, " +
			"PRIMARY KEY (`id`), " +
			"CONSTRAINT `fk_t_loan_notes_loan_id` FOREIGN KEY (`loan_id`) REFERENCES `m_loan` (`id`), " +
			"CONSTRAINT `fk_t_loan_notes_status` FOREIGN KEY (`status`) REFERENCES `m_code_value` (`id`)" +
			") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;",
		"ALTER TABLE `t_loan_notes` ADD INDEX `idx_t_loan_notes_loan_id` (`loan_id`);",
	}, p.Statements)

	p, err = PlanCreate(dialect.Postgres, schema.ConstraintBacked, def)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`CREATE TABLE "t_loan_notes" (` +
			`"id" BIGSERIAL NOT NULL, ` +
			`"loan_id" BIGINT NOT NULL, ` +
			`"note" TEXT NOT NULL, ` +
			`"priority" BIGINT NULL, ` +
			`"status" INTEGER NULL, ` +
			`PRIMARY KEY ("id"), ` +
			`CONSTRAINT "fk_t_loan_notes_loan_id" FOREIGN KEY ("loan_id") REFERENCES "m_loan" ("id"), ` +
			`CONSTRAINT "fk_t_loan_notes_status" FOREIGN KEY ("status") REFERENCES "m_code_value" ("id")` +
			`);`,
		`CREATE INDEX "idx_t_loan_notes_loan_id" ON "t_loan_notes" ("loan_id");`,
	}, p.Statements)
}

func TestPlanCreateSingleRowNameEncoded(t *testing.T) {
	p, err := PlanCreate(dialect.Postgres, schema.NameEncoded, Definition{
		DatatableName: "t_client_extra",
		AppTableName:  "m_client",
		Category:      CategorySpecialized,
		Columns: []ColumnSpec{
			{Name: "gender", Type: TypeDropdown, Code: "Gender"},
			{Name: "nick", Type: TypeString, Length: 40},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, CategorySpecialized, p.Category)
	assert.Equal(t, []string{
		`CREATE TABLE "t_client_extra" (` +
			`"client_id" BIGINT NOT NULL, ` +
			`"Gender_cd_gender" INTEGER NULL, ` +
			`"nick" VARCHAR(40) NULL, ` +
			`PRIMARY KEY ("client_id"), ` +
			`CONSTRAINT "fk_t_client_extra_client_id" FOREIGN KEY ("client_id") REFERENCES "m_client" ("id")` +
			`);`,
	}, p.Statements)
}

func TestPlanCreateErrors(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		code string
	}{
		{"unsafe_name", Definition{DatatableName: "t_x; DROP TABLE m_loan", AppTableName: "m_loan",
			Columns: []ColumnSpec{{Name: "note", Type: TypeText}}}, exttable.CodeInvalidName},
		{"unknown_app_table", Definition{DatatableName: "t_x", AppTableName: "m_staff",
			Columns: []ColumnSpec{{Name: "note", Type: TypeText}}}, exttable.CodeInvalidAppTable},
		{"duplicate_column", Definition{DatatableName: "t_x", AppTableName: "m_loan",
			Columns: []ColumnSpec{{Name: "note", Type: TypeText}, {Name: "NOTE", Type: TypeText}}}, ""},
		{"link_column_clash", Definition{DatatableName: "t_x", AppTableName: "m_loan",
			Columns: []ColumnSpec{{Name: "loan_id", Type: TypeNumber}}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PlanCreate(dialect.MySQL, schema.ConstraintBacked, tt.def)
			require.Error(t, err)
			if tt.code != "" {
				assert.Equal(t, tt.code, exttable.ErrorCode(err))
			}
		})
	}
}

func loanNotesDefinition() Definition {
	return Definition{
		DatatableName: "t_loan_notes",
		AppTableName:  "m_loan",
		MultiRow:      true,
		Columns: []ColumnSpec{
			{Name: "note", Type: TypeText, Mandatory: true},
			{Name: "priority", Type: TypeNumber},
			{Name: "status", Type: TypeDropdown, Code: "LoanNoteStatus"},
		},
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	m, mock := mockManager(t, dialect.MySQL)
	p, err := PlanCreate(dialect.MySQL, schema.ConstraintBacked, loanNotesDefinition())
	require.NoError(t, err)

	expectRegistration(mock, dialect.MySQL, "t_loan_notes", "")
	expectCodeID(mock, "LoanNoteStatus", 7)
	expectExec(mock, p.Statements...)
	mock.ExpectBegin()
	mock.ExpectExec(escape("INSERT INTO x_registered_table (registered_table_name, application_table_name, category) VALUES (?, ?, ?)")).
		WithArgs("t_loan_notes", "m_loan", CategoryDefault).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectPermissions(mock, dialect.MySQL, "t_loan_notes")
	mock.ExpectExec(escape("INSERT INTO x_table_column_code_mappings (column_alias_name, code_id) VALUES (?, ?)")).
		WithArgs("t_loan_notes_status", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, m.Create(ctx, loanNotesDefinition()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAlreadyRegistered(t *testing.T) {
	m, mock := mockManager(t, dialect.MySQL)
	expectRegistration(mock, dialect.MySQL, "t_loan_notes", "m_loan")

	err := m.Create(context.Background(), loanNotesDefinition())
	require.Error(t, err)
	assert.Equal(t, exttable.CodeAlreadyRegistered, exttable.ErrorCode(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUnknownCode(t *testing.T) {
	m, mock := mockManager(t, dialect.MySQL)
	expectRegistration(mock, dialect.MySQL, "t_loan_notes", "")
	mock.ExpectQuery(escape("SELECT id FROM m_code WHERE code_name = ?")).
		WithArgs("LoanNoteStatus").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := m.Create(context.Background(), loanNotesDefinition())
	require.True(t, exttable.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet(), "no DDL runs for an unknown code")
}

func TestCreateDropsTableWhenRegistrationFails(t *testing.T) {
	m, mock := mockManager(t, dialect.Postgres, WithSoftFK(schema.NameEncoded))
	def := loanNotesDefinition()
	p, err := PlanCreate(dialect.Postgres, schema.NameEncoded, def)
	require.NoError(t, err)

	expectRegistration(mock, dialect.Postgres, "t_loan_notes", "")
	mock.ExpectQuery(escape("SELECT id FROM m_code WHERE code_name = $1")).
		WithArgs("LoanNoteStatus").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	expectExec(mock, p.Statements...)
	mock.ExpectBegin()
	mock.ExpectExec(escape("INSERT INTO x_registered_table (registered_table_name, application_table_name, category) VALUES ($1, $2, $3)")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()
	expectExec(mock, `DROP TABLE "t_loan_notes";`)

	err = m.Create(context.Background(), def)
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection reset")
	assert.True(t, exttable.IsIntegrityError(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDenied(t *testing.T) {
	m, mock := mockManager(t, dialect.MySQL, WithPolicy(privacy.Policy{privacy.DenyOperationRule(privacy.OpRegister)}))
	err := m.Create(context.Background(), loanNotesDefinition())
	require.ErrorIs(t, err, privacy.Deny)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlterRejectsMandatoryColumnOnPopulatedTable(t *testing.T) {
	m, mock := mockManager(t, dialect.MySQL)
	expectRegistration(mock, dialect.MySQL, "t_loan_notes", "m_loan")
	expectLoanNotesMySQL(mock)
	expectRowCount(mock, dialect.MySQL, "t_loan_notes", 1)

	err := m.Alter(context.Background(), "t_loan_notes", AlterRequest{
		AddColumns: []ColumnSpec{{Name: "urgent", Type: TypeBoolean, Mandatory: true}},
	})
	require.Error(t, err)
	assert.True(t, exttable.IsDomainError(err))
	assert.Equal(t, exttable.CodeNonEmptyMandatoryAdd, exttable.ErrorCode(err))
	require.NoError(t, mock.ExpectationsWereMet(), "no statement runs")
}

func TestAlterRejectsDropOnPopulatedTable(t *testing.T) {
	m, mock := mockManager(t, dialect.MySQL)
	expectRegistration(mock, dialect.MySQL, "t_loan_notes", "m_loan")
	expectLoanNotesMySQL(mock)
	expectRowCount(mock, dialect.MySQL, "t_loan_notes", 4)

	err := m.Alter(context.Background(), "t_loan_notes", AlterRequest{
		DropColumns: []DropColumnSpec{{Name: "priority"}},
	})
	require.Error(t, err)
	assert.Equal(t, exttable.CodeNonEmptyColumnDrop, exttable.ErrorCode(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlterRenameAndResizePostgres(t *testing.T) {
	m, mock := mockManager(t, dialect.Postgres)
	expectRegistration(mock, dialect.Postgres, "t_loan_notes", "m_loan")
	expectHeaders(mock, "t_loan_notes", loanNotesPostgres("loan_id"))
	expectMappings(mock, nil, "t_loan_notes_loan_id")
	expectRowCount(mock, dialect.Postgres, "t_loan_notes", 1)
	expectExec(mock,
		`ALTER TABLE "t_loan_notes" RENAME COLUMN "note" TO "remark";`,
		`ALTER TABLE "t_loan_notes" ALTER COLUMN "remark" TYPE VARCHAR(500);`,
	)

	err := m.Alter(context.Background(), "t_loan_notes", AlterRequest{
		ChangeColumns: []ChangeColumnSpec{{Name: "note", NewName: "remark", Length: 500}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlterTagsStatementsWithChangeID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ddlChanges := map[string]int{}
	drv := sql.NewStatsDriver(sql.OpenDB(dialect.Postgres, db),
		sql.WithSlowThreshold(-1),
		sql.WithSlowHook(func(_ context.Context, st sql.Statement) {
			if st.Kind == sql.KindDDL {
				ddlChanges[st.ChangeID]++
			}
		}),
	)
	m := NewManager(drv)
	expectRegistration(mock, dialect.Postgres, "t_loan_notes", "m_loan")
	expectHeaders(mock, "t_loan_notes", loanNotesPostgres("loan_id"))
	expectMappings(mock, nil, "t_loan_notes_loan_id")
	expectRowCount(mock, dialect.Postgres, "t_loan_notes", 1)
	expectExec(mock,
		`ALTER TABLE "t_loan_notes" RENAME COLUMN "note" TO "remark";`,
		`ALTER TABLE "t_loan_notes" ALTER COLUMN "remark" TYPE VARCHAR(500);`,
	)

	err = m.Alter(context.Background(), "t_loan_notes", AlterRequest{
		ChangeColumns: []ChangeColumnSpec{{Name: "note", NewName: "remark", Length: 500}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, ddlChanges, 1)
	for id, n := range ddlChanges {
		assert.NotEmpty(t, id)
		assert.Equal(t, 2, n)
	}
	assert.Equal(t, int64(2), drv.Stats().Snapshot().Count[sql.KindDDL])
}

func TestPlanAlterPreview(t *testing.T) {
	m, mock := mockManager(t, dialect.Postgres)
	expectRegistration(mock, dialect.Postgres, "t_loan_notes", "m_loan")
	expectHeaders(mock, "t_loan_notes", sqlmock.NewRows(headerColumns).
		AddRow("id", "bigint", "int8", "NO", "PRI", nil, 64, 0).
		AddRow("loan_id", "bigint", "int8", "NO", "", nil, 64, 0).
		AddRow("title", "character varying", "varchar", "YES", "", 100, nil, nil))
	expectMappings(mock, nil, "t_loan_notes_loan_id")
	expectRowCount(mock, dialect.Postgres, "t_loan_notes", 3)

	pv, err := m.PlanAlter(context.Background(), "t_loan_notes", AlterRequest{
		AppTableName:  "m_client",
		ChangeColumns: []ChangeColumnSpec{{Name: "title", Length: 50}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet(), "nothing is executed")
	assert.Equal(t, []string{
		`ALTER TABLE "t_loan_notes" DROP CONSTRAINT "fk_t_loan_notes_loan_id";`,
		`DROP INDEX "idx_t_loan_notes_loan_id";`,
		`ALTER TABLE "t_loan_notes" RENAME COLUMN "loan_id" TO "client_id";`,
		`ALTER TABLE "t_loan_notes" ADD CONSTRAINT "fk_t_loan_notes_client_id" FOREIGN KEY ("client_id") REFERENCES "m_client" ("id");`,
		`CREATE INDEX "idx_t_loan_notes_client_id" ON "t_loan_notes" ("client_id");`,
		`ALTER TABLE "t_loan_notes" ALTER COLUMN "title" TYPE VARCHAR(50);`,
	}, pv.Statements)
	assert.True(t, pv.Breaking())
	assert.Contains(t, pv.Issues.String(), "[BREAKING]")
}

func TestAlterCodeLookups(t *testing.T) {
	m, mock := mockManager(t, dialect.MySQL)
	expectRegistration(mock, dialect.MySQL, "t_loan_notes", "m_loan")
	expectLoanNotesMySQL(mock)
	expectRowCount(mock, dialect.MySQL, "t_loan_notes", 0)
	expectCodeID(mock, "LoanNoteStatus", 11)
	expectCodeID(mock, "NoteKind", 12)
	expectCodeID(mock, "Priority", 13)
	expectExec(mock,
		"ALTER TABLE `t_loan_notes` ADD `status` INT NULL, "+
			"ADD CONSTRAINT `fk_t_loan_notes_status` FOREIGN KEY (`status`) REFERENCES `m_code_value` (`id`);",
		"ALTER TABLE `t_loan_notes` DROP FOREIGN KEY `fk_t_loan_notes_kind`, "+
			"CHANGE `kind` `category` INT NULL, "+
			"ADD CONSTRAINT `fk_t_loan_notes_category` FOREIGN KEY (`category`) REFERENCES `m_code_value` (`id`), "+
			"ADD CONSTRAINT `fk_t_loan_notes_priority` FOREIGN KEY (`priority`) REFERENCES `m_code_value` (`id`), "+
			"DROP FOREIGN KEY `fk_t_loan_notes_level`;",
	)
	mock.ExpectBegin()
	mock.ExpectExec(escape("INSERT INTO x_table_column_code_mappings (column_alias_name, code_id) VALUES (?, ?)")).
		WithArgs("t_loan_notes_status", 11).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(escape("UPDATE x_table_column_code_mappings SET column_alias_name = ?, code_id = ? WHERE column_alias_name = ?")).
		WithArgs("t_loan_notes_category", 12, "t_loan_notes_kind").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(escape("INSERT INTO x_table_column_code_mappings (column_alias_name, code_id) VALUES (?, ?)")).
		WithArgs("t_loan_notes_priority", 13).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(escape("DELETE FROM x_table_column_code_mappings WHERE column_alias_name IN (?)")).
		WithArgs("t_loan_notes_level").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	priority, none := "Priority", ""
	err := m.Alter(context.Background(), "t_loan_notes", AlterRequest{
		AddColumns: []ColumnSpec{{Name: "status", Type: TypeDropdown, Code: "LoanNoteStatus"}},
		ChangeColumns: []ChangeColumnSpec{
			{Name: "kind", NewName: "category"},
			{Name: "priority", NewCode: &priority},
			{Name: "level", NewCode: &none},
		},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func expectRetarget(mock sqlmock.Sqlmock) {
	expectExec(mock,
		`ALTER TABLE "t_loan_notes" DROP CONSTRAINT "fk_t_loan_notes_loan_id";`,
		`DROP INDEX "idx_t_loan_notes_loan_id";`,
		`ALTER TABLE "t_loan_notes" RENAME COLUMN "loan_id" TO "client_id";`,
		`ALTER TABLE "t_loan_notes" ADD CONSTRAINT "fk_t_loan_notes_client_id" FOREIGN KEY ("client_id") REFERENCES "m_client" ("id");`,
		`CREATE INDEX "idx_t_loan_notes_client_id" ON "t_loan_notes" ("client_id");`,
	)
	mock.ExpectBegin()
	mock.ExpectExec(escape("UPDATE x_registered_table SET application_table_name = $1 WHERE registered_table_name = $2")).
		WithArgs("m_client", "t_loan_notes").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestAlterRetargetsParent(t *testing.T) {
	m, mock := mockManager(t, dialect.Postgres)
	expectRegistration(mock, dialect.Postgres, "t_loan_notes", "m_loan")
	expectHeaders(mock, "t_loan_notes", loanNotesPostgres("loan_id"))
	expectMappings(mock, nil, "t_loan_notes_loan_id")
	expectRetarget(mock)

	require.NoError(t, m.Alter(context.Background(), "t_loan_notes", AlterRequest{AppTableName: "m_client"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlterRetargetKeepsRows(t *testing.T) {
	m, mock := mockManager(t, dialect.Postgres)
	expectRegistration(mock, dialect.Postgres, "t_loan_notes", "m_loan")
	expectHeaders(mock, "t_loan_notes", loanNotesPostgres("loan_id"))
	expectMappings(mock, nil, "t_loan_notes_loan_id")
	expectRowCount(mock, dialect.Postgres, "t_loan_notes", 2)
	expectRetarget(mock)
	expectExec(mock, `ALTER TABLE "t_loan_notes" ADD COLUMN "urgent" BOOLEAN NULL;`)

	err := m.Alter(context.Background(), "t_loan_notes", AlterRequest{
		AppTableName: "m_client",
		AddColumns:   []ColumnSpec{{Name: "urgent", Type: TypeBoolean}},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlterRetargetDanglingParent(t *testing.T) {
	m, mock := mockManager(t, dialect.Postgres)
	expectRegistration(mock, dialect.Postgres, "t_loan_notes", "m_loan")
	expectHeaders(mock, "t_loan_notes", loanNotesPostgres("loan_id"))
	expectMappings(mock, nil, "t_loan_notes_loan_id")
	expectExec(mock,
		`ALTER TABLE "t_loan_notes" DROP CONSTRAINT "fk_t_loan_notes_loan_id";`,
		`DROP INDEX "idx_t_loan_notes_loan_id";`,
		`ALTER TABLE "t_loan_notes" RENAME COLUMN "loan_id" TO "client_id";`,
	)
	mock.ExpectExec(escape(`ALTER TABLE "t_loan_notes" ADD CONSTRAINT "fk_t_loan_notes_client_id" FOREIGN KEY ("client_id") REFERENCES "m_client" ("id");`)).
		WillReturnError(&pgconn.PgError{Code: "23503", Detail: `Key (client_id)=(57) is not present in table "m_client".`})

	err := m.Alter(context.Background(), "t_loan_notes", AlterRequest{AppTableName: "m_client"})
	require.Error(t, err)
	assert.Equal(t, exttable.CodeInvalidReference, exttable.ErrorCode(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlterValidatesBeforeRetarget(t *testing.T) {
	m, mock := mockManager(t, dialect.Postgres)
	expectRegistration(mock, dialect.Postgres, "t_loan_notes", "m_loan")
	expectHeaders(mock, "t_loan_notes", loanNotesPostgres("loan_id"))
	expectMappings(mock, nil, "t_loan_notes_loan_id")
	expectRowCount(mock, dialect.Postgres, "t_loan_notes", 0)

	err := m.Alter(context.Background(), "t_loan_notes", AlterRequest{
		AppTableName: "m_client",
		AddColumns:   []ColumnSpec{{Name: "bad-name", Type: TypeText}},
	})
	require.Error(t, err)
	assert.Equal(t, exttable.CodeInvalidName, exttable.ErrorCode(err))
	require.NoError(t, mock.ExpectationsWereMet(), "no statement runs")
}

func TestAlterPlansAgainstRelinkedColumn(t *testing.T) {
	m, mock := mockManager(t, dialect.Postgres)
	expectRegistration(mock, dialect.Postgres, "t_loan_notes", "m_loan")
	expectHeaders(mock, "t_loan_notes", loanNotesPostgres("loan_id"))
	expectMappings(mock, nil, "t_loan_notes_loan_id")
	expectRowCount(mock, dialect.Postgres, "t_loan_notes", 0)

	err := m.Alter(context.Background(), "t_loan_notes", AlterRequest{
		AppTableName: "m_client",
		DropColumns:  []DropColumnSpec{{Name: "client_id"}},
	})
	require.Error(t, err)
	assert.Equal(t, exttable.CodeProtectedColumn, exttable.ErrorCode(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAlterUnregistered(t *testing.T) {
	m, mock := mockManager(t, dialect.MySQL)
	expectRegistration(mock, dialect.MySQL, "t_missing", "")

	err := m.Alter(context.Background(), "t_missing", AlterRequest{DropColumns: []DropColumnSpec{{Name: "x"}}})
	require.True(t, exttable.IsNotFound(err))

	err = m.Alter(context.Background(), "t_x`; --", AlterRequest{})
	assert.Equal(t, exttable.CodeInvalidName, exttable.ErrorCode(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func expectDeregisterChecks(mock sqlmock.Sqlmock, rows, checks int64) {
	expectRegistration(mock, dialect.MySQL, "t_loan_notes", "m_loan")
	expectRowCount(mock, dialect.MySQL, "t_loan_notes", rows)
	if rows > 0 {
		return
	}
	mock.ExpectQuery(escape("SELECT COUNT(*) FROM m_entity_datatable_check WHERE x_registered_table_name = ?")).
		WithArgs("t_loan_notes").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(checks))
}

func TestDeregister(t *testing.T) {
	m, mock := mockManager(t, dialect.MySQL)
	expectDeregisterChecks(mock, 0, 0)
	expectLoanNotesMySQL(mock)

	var codes []driver.Value
	for _, c := range permissionCodes("t_loan_notes") {
		codes = append(codes, c)
	}
	in := dialect.MySQL.Placeholders(1, len(codes))
	mock.ExpectBegin()
	mock.ExpectExec(escape("DELETE FROM m_role_permission WHERE permission_id IN (SELECT id FROM m_permission WHERE code IN (" + in + "))")).
		WithArgs(codes...).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(escape("DELETE FROM m_permission WHERE code IN (" + in + ")")).
		WithArgs(codes...).
		WillReturnResult(sqlmock.NewResult(0, 8))
	mock.ExpectExec(escape("DELETE FROM c_configuration WHERE name = ?")).
		WithArgs("t_loan_notes").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(escape("DELETE FROM x_registered_table WHERE registered_table_name = ?")).
		WithArgs("t_loan_notes").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(escape("DELETE FROM x_table_column_code_mappings WHERE column_alias_name IN (?, ?)")).
		WithArgs("t_loan_notes_kind", "t_loan_notes_level").
		WillReturnResult(sqlmock.NewResult(0, 2))
	expectExec(mock, "DROP TABLE `t_loan_notes`;")
	mock.ExpectCommit()

	require.NoError(t, m.Deregister(context.Background(), "t_loan_notes"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeregisterGuards(t *testing.T) {
	t.Run("Populated", func(t *testing.T) {
		m, mock := mockManager(t, dialect.MySQL)
		expectDeregisterChecks(mock, 1, 0)
		err := m.Deregister(context.Background(), "t_loan_notes")
		assert.Equal(t, exttable.CodeNonEmptyDeregister, exttable.ErrorCode(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("EntityCheck", func(t *testing.T) {
		m, mock := mockManager(t, dialect.MySQL)
		expectDeregisterChecks(mock, 0, 1)
		err := m.Deregister(context.Background(), "t_loan_notes")
		assert.Equal(t, exttable.CodeEntityCheckExists, exttable.ErrorCode(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("RollsBack", func(t *testing.T) {
		m, mock := mockManager(t, dialect.MySQL)
		expectDeregisterChecks(mock, 0, 0)
		expectLoanNotesMySQL(mock)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM m_role_permission`).WillReturnError(errors.New("lock wait timeout"))
		mock.ExpectRollback()
		err := m.Deregister(context.Background(), "t_loan_notes")
		assert.ErrorContains(t, err, "lock wait timeout")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetUsesCache(t *testing.T) {
	ctx := context.Background()
	m, mock := mockManager(t, dialect.Postgres, WithCache(exttable.NewMemoryCache(), time.Minute))
	expectRegistration(mock, dialect.Postgres, "t_loan_notes", "m_loan")
	expectHeaders(mock, "t_loan_notes", loanNotesPostgres("loan_id"))
	expectMappings(mock, nil, "t_loan_notes_loan_id")
	expectRegistration(mock, dialect.Postgres, "t_loan_notes", "m_loan")

	for range 2 {
		dt, err := m.Get(ctx, "t_loan_notes")
		require.NoError(t, err)
		assert.Equal(t, "m_loan", dt.AppTable)
		assert.True(t, dt.MultiRow)
		require.Len(t, dt.Columns, 3)
		assert.Equal(t, "note", dt.Columns[2].Name)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSkipsDeniedTables(t *testing.T) {
	hidden := privacy.RuleFunc(func(_ context.Context, target privacy.Target) error {
		if target.Table == "t_secret" {
			return privacy.Denyf("%s is hidden", target.Table)
		}
		return privacy.Skip
	})
	m, mock := mockManager(t, dialect.MySQL, WithPolicy(privacy.Policy{hidden}))
	mock.ExpectQuery(escape("SELECT registered_table_name, application_table_name, category FROM x_registered_table ORDER BY application_table_name, registered_table_name")).
		WillReturnRows(sqlmock.NewRows([]string{"registered_table_name", "application_table_name", "category"}).
			AddRow("t_client_extra", "m_client", 200).
			AddRow("t_secret", "m_loan", 100))
	expectHeaders(mock, "t_client_extra", sqlmock.NewRows(headerColumns).
		AddRow("client_id", "bigint", "bigint", "NO", "PRI", nil, 19, 0).
		AddRow("nick", "varchar", "varchar(40)", "YES", "", 40, nil, nil))

	tables, err := m.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "t_client_extra", tables[0].Table)
	assert.Equal(t, CategorySpecialized, tables[0].Category)
	assert.False(t, tables[0].MultiRow)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = m.List(context.Background(), "m_staff")
	assert.Equal(t, exttable.CodeInvalidAppTable, exttable.ErrorCode(err))
}
