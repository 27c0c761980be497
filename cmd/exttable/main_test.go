package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/exttable/datatable"
	"github.com/syssam/exttable/dialect/sql/schema"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeDefinition(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loan_notes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
datatableName: t_loan_notes
apptableName: m_loan
multiRow: true
columns:
  - {name: note, type: text, mandatory: true}
  - {name: priority, type: number}
`), 0o600))
	return path
}

func TestDDLCreate(t *testing.T) {
	path := writeDefinition(t)

	out, err := run(t, "ddl", "create", "-f", path, "--dialect", "postgres")
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE "t_loan_notes" (`+
		`"id" BIGSERIAL NOT NULL, `+
		`"loan_id" BIGINT NOT NULL, `+
		`"note" TEXT NOT NULL, `+
		`"priority" BIGINT NULL, `+
		`PRIMARY KEY ("id"), `+
		`CONSTRAINT "fk_t_loan_notes_loan_id" FOREIGN KEY ("loan_id") REFERENCES "m_loan" ("id")`+
		`);`+"\n"+
		`CREATE INDEX "idx_t_loan_notes_loan_id" ON "t_loan_notes" ("loan_id");`+"\n", out)
}

func TestDDLCreateRequiresFile(t *testing.T) {
	_, err := run(t, "ddl", "create")
	require.Error(t, err)
}

func TestDDLCreateRejectsBadConfig(t *testing.T) {
	path := writeDefinition(t)
	_, err := run(t, "ddl", "create", "-f", path, "--dialect", "oracle")
	require.Error(t, err)
}

func TestCommandsNeedDSN(t *testing.T) {
	t.Setenv("EXTTABLE_DSN", "")
	_, err := run(t, "describe", "t_loan_notes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no dsn configured")
}

func TestDDLAlterNeedsDSN(t *testing.T) {
	t.Setenv("EXTTABLE_DSN", "")
	path := filepath.Join(t.TempDir(), "alter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dropColumns:\n  - name: note\n"), 0o600))
	_, err := run(t, "ddl", "alter", "t_loan_notes", "-f", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no dsn configured")
}

func TestPrintPreview(t *testing.T) {
	var out bytes.Buffer
	printPreview(&out, &datatable.AlterPreview{
		Statements: []string{`ALTER TABLE "t_loan_notes" ALTER COLUMN "title" TYPE VARCHAR(50);`},
		Issues: schema.ValidationResult{Warnings: []*schema.Issue{{
			Table: "t_loan_notes", Column: "title", Message: "column size reducing from 100 to 50 may truncate data", Breaking: true,
		}}},
	})
	assert.Equal(t, `ALTER TABLE "t_loan_notes" ALTER COLUMN "title" TYPE VARCHAR(50);
-- Warnings:
--   - t_loan_notes.title: column size reducing from 100 to 50 may truncate data [BREAKING]
`, out.String())

	out.Reset()
	printPreview(&out, &datatable.AlterPreview{Statements: []string{"DROP INDEX x;"}})
	assert.Equal(t, "DROP INDEX x;\n", out.String())
}

func TestParseAssignments(t *testing.T) {
	values, err := parseAssignments([]string{"note=late fee waived", "priority=2", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"note": "late fee waived", "priority": "2", "empty": ""}, values)

	_, err = parseAssignments([]string{"novalue"})
	require.Error(t, err)
}
