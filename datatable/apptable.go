package datatable

import (
	"slices"
	"strings"

	"github.com/syssam/exttable"
	"github.com/syssam/exttable/dialect"
)

// AppTable is an application table extension tables may be attached to.
type AppTable struct {
	// Name of the application table.
	Name string
	// LinkColumn is the parent link column of attached extension tables.
	LinkColumn string
	// RefTable is the table the link column references; m_center rows live
	// in m_group.
	RefTable string
	// officeJoin selects the office hierarchy of a parent row; empty for
	// tables without an owning office.
	officeJoin string
}

var appTables = []AppTable{
	{Name: "m_client", LinkColumn: "client_id", RefTable: "m_client",
		officeJoin: "m_client p JOIN m_office o ON o.id = p.office_id"},
	{Name: "m_group", LinkColumn: "group_id", RefTable: "m_group",
		officeJoin: "m_group p JOIN m_office o ON o.id = p.office_id"},
	{Name: "m_center", LinkColumn: "group_id", RefTable: "m_group",
		officeJoin: "m_group p JOIN m_office o ON o.id = p.office_id"},
	{Name: "m_office", LinkColumn: "office_id", RefTable: "m_office",
		officeJoin: "m_office p JOIN m_office o ON o.id = p.id"},
	{Name: "m_loan", LinkColumn: "loan_id", RefTable: "m_loan",
		officeJoin: "m_loan p LEFT JOIN m_client c ON c.id = p.client_id LEFT JOIN m_group g ON g.id = p.group_id " +
			"JOIN m_office o ON o.id = COALESCE(c.office_id, g.office_id)"},
	{Name: "m_savings_account", LinkColumn: "savings_account_id", RefTable: "m_savings_account",
		officeJoin: "m_savings_account p LEFT JOIN m_client c ON c.id = p.client_id LEFT JOIN m_group g ON g.id = p.group_id " +
			"JOIN m_office o ON o.id = COALESCE(c.office_id, g.office_id)"},
	{Name: "m_product_loan", LinkColumn: "product_loan_id", RefTable: "m_product_loan"},
	{Name: "m_savings_product", LinkColumn: "savings_product_id", RefTable: "m_savings_product"},
}

// AppTables returns the names of the application tables, in catalog order.
func AppTables() []string {
	names := make([]string, len(appTables))
	for i, t := range appTables {
		names[i] = t.Name
	}
	return names
}

// LookupAppTable returns the catalog entry of name. Unknown names are an
// input validation error.
func LookupAppTable(name string) (AppTable, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if i := slices.IndexFunc(appTables, func(t AppTable) bool { return t.Name == name }); i >= 0 {
		return appTables[i], nil
	}
	return AppTable{}, exttable.Validationf("apptableName", exttable.CodeInvalidAppTable, "%q is not an application table", name)
}

// Scoped reports whether parent rows belong to an office.
func (t AppTable) Scoped() bool { return t.officeJoin != "" }

// ParentQuery returns the query selecting the office hierarchy of the parent
// row with the given id, or a constant for unscoped tables. No row means the
// parent does not exist.
func (t AppTable) ParentQuery(d dialect.Dialect) string {
	if !t.Scoped() {
		return "SELECT '' FROM " + d.Quote(t.RefTable) + " WHERE id = " + d.Placeholder(1)
	}
	return "SELECT o.hierarchy FROM " + t.officeJoin + " WHERE p.id = " + d.Placeholder(1)
}
