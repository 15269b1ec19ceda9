package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/graknol/declarative-sqlite-go/internal/ddbengine"
	"github.com/graknol/declarative-sqlite-go/internal/migrate"
	"github.com/graknol/declarative-sqlite-go/internal/query"
	"github.com/graknol/declarative-sqlite-go/internal/sqlconn"
	"github.com/graknol/declarative-sqlite-go/internal/stream"
)

// streamWindow bounds how long `.stream <table>` tails before returning
// control to the prompt.
const streamWindow = 5 * time.Second

type repl struct {
	engine *ddbengine.Engine
	dbPath string
	rl     *readline.Instance

	manager     *stream.Manager
	managerOnce sync.Once

	shutdownOnce sync.Once
}

func newREPL(engine *ddbengine.Engine, dbPath string) (*repl, error) {
	os.MkdirAll(".ddbctl", 0o755)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mddbctl>\033[0m ",
		HistoryFile:     ".ddbctl/history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("readline: %w", err)
	}
	return &repl{engine: engine, dbPath: dbPath, rl: rl}, nil
}

func (r *repl) streamManager() *stream.Manager {
	r.managerOnce.Do(func() { r.manager = stream.NewManager(r.engine) })
	return r.manager
}

func (r *repl) run() error {
	r.printWelcome()
	for {
		line, err := r.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				break
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := r.dispatch(line); err != nil {
			fmt.Printf("\033[31mError: %v\033[0m\n", err)
		}
	}
	r.shutdown()
	return nil
}

func (r *repl) dispatch(line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".exit", ".quit":
		r.shutdown()
		os.Exit(0)
	case ".help":
		r.printHelp()
	case ".tables":
		r.cmdTables()
	case ".dirty":
		return r.cmdDirty()
	case ".migrate":
		if len(fields) >= 2 && fields[1] == "plan" {
			return r.cmdMigratePlan()
		}
		fmt.Println("usage: .migrate plan")
	case ".stream":
		if len(fields) < 2 {
			fmt.Println("usage: .stream <table>")
			return nil
		}
		return r.cmdStream(fields[1])
	default:
		fmt.Printf("unknown command %q (try .help)\n", fields[0])
	}
	return nil
}

func (r *repl) cmdTables() {
	schema := r.engine.Schema()
	fmt.Println("\033[33mTables:\033[0m")
	for _, t := range schema.Tables {
		fmt.Printf("  %s (%s)\n", t.Name, strings.Join(t.AllColumnNames(), ", "))
	}
	if len(schema.Views) > 0 {
		fmt.Println("\033[33mViews:\033[0m")
		for _, v := range schema.Views {
			fmt.Printf("  %s\n", v.Name)
		}
	}
}

func (r *repl) cmdDirty() error {
	rows, err := r.engine.Dirty().Export()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("no pending dirty rows")
		return nil
	}
	for _, d := range rows {
		kind := "update"
		if d.Data == nil {
			kind = "delete"
		} else if d.IsFullRow {
			kind = "insert"
		}
		fmt.Printf("  %s %s/%s @ %s  %v\n", kind, d.Table, d.RowID, d.HLC.String(), d.Data)
	}
	return nil
}

func (r *repl) cmdMigratePlan() error {
	plan, err := migrate.Diff(r.engine.Conn(), r.engine.Schema())
	if err != nil {
		return err
	}
	fmt.Println(plan.Summary())
	return nil
}

func (r *repl) cmdStream(table string) error {
	if _, ok := r.engine.Schema().Table(table); !ok {
		return fmt.Errorf("unknown table %q", table)
	}

	q := query.From(table).SelectWildcard("").Build()
	identity := func(row sqlconn.Row) (sqlconn.Row, error) { return row, nil }

	sq, err := stream.NewStreamingQuery(r.streamManager(), q, identity)
	if err != nil {
		return err
	}

	fmt.Printf("tailing %s for %s (Ctrl-C to stop early)...\n", table, streamWindow)
	done := make(chan struct{})
	unsub := sq.Listen(func(rows []sqlconn.Row) {
		fmt.Printf("  [%s] %d row(s)\n", time.Now().Format("15:04:05"), len(rows))
	})
	go func() {
		time.Sleep(streamWindow)
		close(done)
	}()
	<-done
	unsub()
	return nil
}

func (r *repl) printWelcome() {
	fmt.Println()
	fmt.Println("\033[36mddbctl\033[0m - engine inspector")
	where := r.dbPath
	if where == "" {
		where = "(in-memory)"
	}
	fmt.Printf("\033[90mDB: %s\033[0m\n", where)
	fmt.Println("Type .help for commands.")
	fmt.Println()
}

func (r *repl) printHelp() {
	fmt.Print(`
` + "\033[33mCommands:\033[0m" + `
  .tables           list declared tables and views
  .dirty            list pending dirty-row export entries
  .migrate plan     diff the live database against the demo schema
  .stream <table>   tail a table's streaming query for a few seconds
  .help             show this list again
  .exit             quit
`)
}

func (r *repl) shutdown() {
	r.shutdownOnce.Do(func() {
		fmt.Println("\n\033[90mbye\033[0m")
		if r.manager != nil {
			r.manager.Dispose()
		}
		r.rl.Close()
		r.engine.Close()
	})
}
