package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/syssam/exttable/datatable"
	"github.com/syssam/exttable/datatable/entry"
	"github.com/syssam/exttable/migrate"
)

// decodeFile reads a YAML (or JSON) document into v.
func decodeFile(path string, v any) error {
	if path == "" {
		return fmt.Errorf("a definition file is required (-f)")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newDDLCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Render statements without changing a database",
	}
	var file, alterFile string
	create := &cobra.Command{
		Use:   "create",
		Short: "Print the statements creating the table of a definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var def datatable.Definition
			if err := decodeFile(file, &def); err != nil {
				return err
			}
			p, err := datatable.PlanCreate(a.cfg.SQLDialect(), a.cfg.SoftFKStrategy(), def)
			if err != nil {
				return err
			}
			for _, stmt := range p.Statements {
				fmt.Fprintln(cmd.OutOrStdout(), stmt)
			}
			return nil
		},
	}
	create.Flags().StringVarP(&file, "file", "f", "", "table definition (YAML or JSON)")
	alter := &cobra.Command{
		Use:   "alter <table>",
		Short: "Print the statements an alter request would run against the live table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req datatable.AlterRequest
			if err := decodeFile(alterFile, &req); err != nil {
				return err
			}
			m, done, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			pv, err := m.PlanAlter(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			printPreview(cmd.OutOrStdout(), pv)
			return nil
		},
	}
	alter.Flags().StringVarP(&alterFile, "file", "f", "", "alter request (YAML or JSON)")
	cmd.AddCommand(create, alter)
	return cmd
}

// printPreview writes the statements of pv followed by its issues as SQL
// comments.
func printPreview(w io.Writer, pv *datatable.AlterPreview) {
	for _, stmt := range pv.Statements {
		fmt.Fprintln(w, stmt)
	}
	if !pv.Issues.HasWarnings() {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(pv.Issues.String(), "\n"), "\n") {
		fmt.Fprintln(w, "--", line)
	}
}

func newCreateCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create and register an extension table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var def datatable.Definition
			if err := decodeFile(file, &def); err != nil {
				return err
			}
			m, done, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			if err := m.Create(cmd.Context(), def); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", def.DatatableName)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "table definition (YAML or JSON)")
	return cmd
}

func newAlterCmd(a *app) *cobra.Command {
	var (
		file  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "alter <table>",
		Short: "Apply column changes to an extension table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req datatable.AlterRequest
			if err := decodeFile(file, &req); err != nil {
				return err
			}
			m, done, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			if !force {
				pv, err := m.PlanAlter(cmd.Context(), args[0], req)
				if err != nil {
					return err
				}
				if pv.Breaking() {
					printPreview(cmd.ErrOrStderr(), pv)
					return fmt.Errorf("%s: the change may lose data; rerun with --force to apply it", args[0])
				}
			}
			if err := m.Alter(cmd.Context(), args[0], req); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "altered %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "alter request (YAML or JSON)")
	cmd.Flags().BoolVar(&force, "force", false, "apply breaking changes")
	return cmd
}

func newDropCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <table>",
		Short: "Deregister and drop an empty extension table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, done, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			if err := m.Deregister(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", args[0])
			return nil
		},
	}
}

func newDescribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <table>",
		Short: "Print the registration and column headers of a table as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, done, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			dt, err := m.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), dt)
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	var appTable string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered extension tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, done, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			tables, err := m.List(cmd.Context(), appTable)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tables)
		},
	}
	cmd.Flags().StringVar(&appTable, "app", "", "only tables attached to this application table")
	return cmd
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the bookkeeping tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			drv, err := a.open()
			if err != nil {
				return err
			}
			defer drv.Close()
			versions, err := migrate.Up(cmd.Context(), drv.DB(), a.cfg.SQLDialect(), a.logger)
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "bookkeeping tables are up to date")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s), now at version %d\n", len(versions), versions[len(versions)-1])
			return nil
		},
	}
}

// parseAssignments reads key=value arguments.
func parseAssignments(args []string) (map[string]string, error) {
	values := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		values[k] = v
	}
	return values, nil
}

func newEntryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entry",
		Short: "Read and write the rows of an extension table",
	}
	service := func(cmd *cobra.Command) (*entry.Service, func(), error) {
		m, done, err := a.manager(cmd.Context())
		if err != nil {
			return nil, nil, err
		}
		return entry.NewService(m, entry.WithLogger(a.logger)), done, nil
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <table> <parent-id>",
		Short: "Print the entries of a parent row as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("parent id: %w", err)
			}
			s, done, err := service(cmd)
			if err != nil {
				return err
			}
			defer done()
			rs, err := s.Get(cmd.Context(), args[0], parentID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rs)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "insert <table> <parent-id> key=value...",
		Short: "Add an entry to a parent row",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			parentID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("parent id: %w", err)
			}
			values, err := parseAssignments(args[2:])
			if err != nil {
				return err
			}
			s, done, err := service(cmd)
			if err != nil {
				return err
			}
			defer done()
			res, err := s.Insert(cmd.Context(), args[0], parentID, values)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	})
	return cmd
}
