package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"gred/internal/dblib"
	"gred/internal/grid"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags ConnectionFlags
	var command string

	rootCmd := &cobra.Command{
		Use:   "gred [dbname] [table]",
		Short: "gred is an editable result grid for databases",
		Long: `gred shows the result of a query as a grid and writes cell edits and row
deletes back to the table the query read from.

Examples:
  gred shop users
  gred shop -c "select * from users where name = 'eric'"
  gred ./local.db`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGrid(cmd.Context(), args, flags, command)
		},
	}

	rootCmd.Flags().BoolP("help", "", false, "help for gred")
	addConnectionFlags(rootCmd, &flags)
	rootCmd.Flags().StringVarP(&command, "command", "c", "", "SQL command to execute")

	rootCmd.AddCommand(newResolveCmd(), newSynthCmd(), newSplitCmd(), newExportCmd())
	return rootCmd
}

func addConnectionFlags(cmd *cobra.Command, flags *ConnectionFlags) {
	cmd.Flags().StringVarP(&flags.Database, "database", "d", "", "Database name")
	cmd.Flags().StringVarP(&flags.Host, "host", "h", "", "Database host")
	cmd.Flags().StringVarP(&flags.Port, "port", "p", "", "Database port")
	cmd.Flags().StringVarP(&flags.Username, "username", "U", "", "Database username")
	cmd.Flags().StringVarP(&flags.Password, "password", "W", "", "Database password")
}

// startup loads the settings and brings up logging and telemetry. The
// returned func flushes both.
func startup() (*Settings, zerolog.Logger, func(), error) {
	settings, err := LoadSettings()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	InitBreadcrumbs(100)
	log, closeLog := newLogger()

	markFirstRun(settings, log)

	telemetryEnabled = settings.TelemetryEnabled && settings.SentryDSN != ""
	if telemetryEnabled {
		if err := InitSentry(settings.SentryDSN); err != nil {
			log.Warn().Err(err).Msg("telemetry disabled")
			telemetryEnabled = false
		}
	}

	return settings, log, func() {
		if telemetryEnabled {
			FlushAndShutdown()
		}
		closeLog()
	}, nil
}

func connect(ctx context.Context, name string, flags ConnectionFlags) (dblib.ConnSpec, error) {
	config, err := loadConfig()
	if err != nil {
		return dblib.ConnSpec{}, fmt.Errorf("error loading config: %w", err)
	}
	spec, err := resolveConnection(ctx, config, name, flags)
	if err != nil {
		return dblib.ConnSpec{}, fmt.Errorf("failed to connect to '%s': %w", name, err)
	}
	return spec, nil
}

func runGrid(ctx context.Context, args []string, flags ConnectionFlags, command string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	settings, log, shutdown, err := startup()
	if err != nil {
		return err
	}
	defer shutdown()

	spec, err := connect(ctx, args[0], flags)
	if err != nil {
		return err
	}

	var query string
	switch {
	case command != "":
		if query, err = dblib.CleanSingleStatement(command); err != nil {
			return err
		}
	case len(args) == 2:
		query = selectAllQuery(settings.SessionOptions(spec.Type).Dialect, args[1])
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dispatch := &programDispatcher{}
	runner := grid.NewRunner(runCtx, dispatch, settings.MaxWorkers, log)
	model := NewModel(args[0], spec, settings, runner, dispatch, log, query)

	p := tea.NewProgram(model, tea.WithAltScreen())
	dispatch.program = p

	_, runErr := p.Run()

	// Give writes already sent a moment to land before the connections go.
	done := make(chan struct{})
	go func() {
		runner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("abandoning in-flight statements")
	}

	if runErr != nil {
		CaptureError(runErr)
		return fmt.Errorf("error running program: %w", runErr)
	}
	return nil
}

func newResolveCmd() *cobra.Command {
	var strict, sources bool
	cmd := &cobra.Command{
		Use:   "resolve <sql>",
		Short: "Print the table a query's rows would be written back to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if sources {
				tables, err := dblib.SourceTables(args[0])
				if err != nil {
					return err
				}
				for _, t := range tables {
					fmt.Fprintln(out, t)
				}
				return nil
			}
			if strict {
				t, err := dblib.ResolveStrict(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, t)
				return nil
			}
			t, ok := dblib.Resolve(args[0])
			if !ok {
				return dblib.ErrUnresolvedTable
			}
			fmt.Fprintln(out, t)
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Only accept single-table SELECTs, checked by a SQL parser")
	cmd.Flags().BoolVar(&sources, "sources", false, "List every table the query reads")
	return cmd
}

type synthOptions struct {
	table   string
	query   string
	column  string
	value   string
	null    bool
	dialect string
}

func (o synthOptions) target() (dblib.TableIdentity, dblib.Dialect, error) {
	d, _, err := dblib.ParseDialect(o.dialect)
	if err != nil {
		return dblib.TableIdentity{}, d, err
	}
	switch {
	case o.table != "":
		return dblib.ParseTableIdentity(o.table), d, nil
	case o.query != "":
		t, ok := dblib.Resolve(o.query)
		if !ok {
			return t, d, dblib.ErrUnresolvedTable
		}
		return t, d, nil
	}
	return dblib.TableIdentity{}, d, errors.New("one of --table or --query is required")
}

// readSnapshots decodes one JSON object or an array of them.
func readSnapshots(r io.Reader) ([]dblib.RowSnapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var snaps []dblib.RowSnapshot
		if err := json.Unmarshal([]byte(trimmed), &snaps); err != nil {
			return nil, fmt.Errorf("could not parse row snapshots: %w", err)
		}
		return snaps, nil
	}
	var snap dblib.RowSnapshot
	if err := json.Unmarshal([]byte(trimmed), &snap); err != nil {
		return nil, fmt.Errorf("could not parse row snapshot: %w", err)
	}
	return []dblib.RowSnapshot{snap}, nil
}

func newSynthCmd() *cobra.Command {
	var opts synthOptions
	cmd := &cobra.Command{
		Use:   "synth update|delete",
		Short: "Print the statement for a JSON row snapshot read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, d, err := opts.target()
			if err != nil {
				return err
			}
			snaps, err := readSnapshots(cmd.InOrStdin())
			if err != nil {
				return err
			}

			var stmt string
			switch args[0] {
			case "update":
				if len(snaps) != 1 {
					return fmt.Errorf("update takes exactly one row, got %d", len(snaps))
				}
				if opts.column == "" {
					return errors.New("--column is required")
				}
				var value any = opts.value
				if opts.null {
					value = nil
				}
				stmt, err = dblib.BuildUpdate(d, table, opts.column, value, snaps[0])
			case "delete":
				var stmts []string
				stmts, err = dblib.BuildDeletes(d, table, snaps)
				stmt = dblib.JoinStatements(stmts)
			default:
				return fmt.Errorf("unknown statement kind %q", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stmt)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.table, "table", "t", "", "Target table")
	cmd.Flags().StringVarP(&opts.query, "query", "q", "", "Query to take the target table from")
	cmd.Flags().StringVar(&opts.column, "column", "", "Column to update")
	cmd.Flags().StringVar(&opts.value, "value", "", "New value")
	cmd.Flags().BoolVar(&opts.null, "null", false, "Set the column to NULL")
	cmd.Flags().StringVar(&opts.dialect, "dialect", "backtick", "Identifier quoting: backtick or double_quote")
	return cmd
}

func newSplitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "split",
		Short: "Split a SQL script from stdin into one statement per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			for _, stmt := range dblib.SplitStatements(string(data)) {
				fmt.Fprintln(cmd.OutOrStdout(), stmt+";")
			}
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var flags ConnectionFlags
	var command, output string
	cmd := &cobra.Command{
		Use:   "export <dbname>",
		Short: "Write a query result to a CSV or XLSX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if command == "" || output == "" {
				return errors.New("both --command and --output are required")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			_, log, shutdown, err := startup()
			if err != nil {
				return err
			}
			defer shutdown()

			spec, err := connect(ctx, args[0], flags)
			if err != nil {
				return err
			}
			return exportQuery(log.WithContext(ctx), spec, command, output, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolP("help", "", false, "help for export")
	addConnectionFlags(cmd, &flags)
	cmd.Flags().StringVarP(&command, "command", "c", "", "SQL query to export")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (.csv or .xlsx)")
	return cmd
}

// exportQuery fetches script and writes its last result set to output.
func exportQuery(ctx context.Context, spec dblib.ConnSpec, script, output string, progressOut io.Writer) error {
	res, err := grid.Fetch(ctx, spec, script, nil)
	if err != nil {
		return err
	}
	if res.SQL == "" {
		return errors.New("the command returned no rows to export")
	}
	breadcrumbs.RecordDatabase(BreadcrumbExport, filepath.Base(output), res.SQL)

	progress := func(n int) {
		fmt.Fprintf(progressOut, "exported %d/%d rows\n", n, len(res.Rows))
	}
	sheet := strings.TrimSuffix(filepath.Base(output), filepath.Ext(output))
	if err := writeExport(output, sheet, res.Columns, res.Rows, nil, progress); err != nil {
		CaptureError(err)
		return err
	}
	fmt.Fprintf(progressOut, "exported %d rows to %s\n", len(res.Rows), output)
	return nil
}
