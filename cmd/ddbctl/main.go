// Command ddbctl is a read-only interactive inspector over an opened
// engine: table/view listing, pending dirty-row export, migration-plan
// preview, and a bounded live tail of one table's streaming query. It is
// not a code generator — it never emits typed record source, only drives
// an already-built engine.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/graknol/declarative-sqlite-go/internal/ddbengine"
)

const version = "0.1.0"

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version")
		dbPath      = flag.String("db", "", "SQLite file to open (default: in-memory)")
		seed        = flag.Bool("seed", false, "Insert a few sample rows into a fresh database")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `ddbctl v%s - engine inspector

Usage: ddbctl [options]

Options:
`, version)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Commands once connected:
  .tables           list declared tables and views
  .dirty            list pending dirty-row export entries
  .migrate plan     diff the live database against the inspector's demo schema
  .stream <table>   tail a table's streaming query for a few seconds
  .help             show this list again
  .exit             quit

Examples:
  ddbctl                  Open an in-memory demo database
  ddbctl --db ./app.db    Inspect an existing database file
  ddbctl --seed           Open in-memory and insert sample rows
`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("ddbctl v%s\n", version)
		return
	}

	schema := demoSchema()

	var (
		engine *ddbengine.Engine
		err    error
	)
	if *dbPath == "" {
		engine, err = ddbengine.OpenMemory(schema, ddbengine.Options{Name: "ddbctl"})
	} else {
		engine, err = ddbengine.Open(*dbPath, schema, ddbengine.Options{Name: "ddbctl"})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *seed {
		if err := seedDemoData(engine); err != nil {
			fmt.Fprintf(os.Stderr, "Error seeding demo data: %v\n", err)
		}
	}

	watchClose := watchDBFile(*dbPath)
	defer watchClose()

	repl, err := newREPL(engine, *dbPath)
	if err != nil {
		engine.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		repl.shutdown()
	}()

	if err := repl.run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
