package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"iot-environment-server/internal/config"
	"iot-environment-server/internal/db"
	"iot-environment-server/internal/migrate"
	"iot-environment-server/internal/modules/environment"
	"iot-environment-server/internal/modules/environment/repository"
)

const usage = `usage: %s <command>
  migrate          apply pending schema migrations
  count            print the number of stored readings
  import <file>    store newline-delimited reading records ("-" for stdin)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(2)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg, slog.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			slog.Error("db close", "err", closeErr)
		}
	}()

	if err := run(ctx, os.Args[1:], repository.NewRepository(conn), func() error { return migrate.Run(ctx, conn) }, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, repo repository.EnvironmentRepository, migrateFn func() error, stdin io.Reader, stdout io.Writer) error {
	switch args[0] {
	case "migrate":
		if err := migrateFn(); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "migrations applied")
		return nil

	case "count":
		n, err := repo.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, n)
		return nil

	case "import":
		if len(args) < 2 {
			return fmt.Errorf("missing file argument")
		}
		in := stdin
		if args[1] != "-" {
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		if err := migrateFn(); err != nil {
			return err
		}
		stored, err := importRecords(ctx, environment.NewIngestor(repo, slog.Default()), in)
		fmt.Fprintf(stdout, "imported %d readings\n", stored)
		return err

	default:
		return fmt.Errorf("unknown command")
	}
}

// importRecords stores every non-blank line and stops at the first failure.
func importRecords(ctx context.Context, ing *environment.Ingestor, in io.Reader) (int, error) {
	sc := bufio.NewScanner(in)
	stored := 0
	for line := 1; sc.Scan(); line++ {
		payload := bytes.TrimSpace(sc.Bytes())
		if len(payload) == 0 {
			continue
		}
		if _, err := ing.Ingest(ctx, payload); err != nil {
			return stored, fmt.Errorf("line %d: %w", line, err)
		}
		stored++
	}
	return stored, sc.Err()
}
