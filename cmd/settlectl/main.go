package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"paysettle/cmd/internal/secret"
	"paysettle/config"
	"paysettle/core/types"
	"paysettle/integrations/exports"
	"paysettle/native/authority"
	"paysettle/native/exchange"
	"paysettle/services/settled/journal"
	"paysettle/services/settled/server"
)

const (
	tokenCommand  = "token"
	exportCommand = "export"
	deriveCommand = "derive"
	vaultCommand  = "vault"

	defaultSecretEnv = "PAYSETTLE_JWT_SECRET"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	case exportCommand:
		err = runExport(os.Args[2:], os.Stdout)
	case deriveCommand:
		err = runDerive(os.Args[2:], os.Stdout)
	case vaultCommand:
		err = runVault(os.Args[2:], os.Stdout)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	subject := fs.String("subject", "", "Base58 identity the token authenticates")
	scopes := fs.String("scopes", server.ScopeSettle, "Comma separated scopes to grant")
	issuer := fs.String("issuer", "paysettle", "Token issuer")
	audience := fs.String("audience", "settled", "Token audience")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable holding the signing secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return issueToken(secret.NewSource(*secretEnv, "JWT signing secret"), *subject, *scopes, *issuer, *audience, *ttl, time.Now(), out)
}

func issueToken(src *secret.Source, subject, scopes, issuer, audience string, ttl time.Duration, now time.Time, out io.Writer) error {
	id, err := types.ParseAddress(strings.TrimSpace(subject))
	if err != nil {
		return fmt.Errorf("subject: %w", err)
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	granted := splitList(scopes)
	if len(granted) == 0 {
		return errors.New("at least one scope is required")
	}
	key, err := src.Get()
	if err != nil {
		return err
	}
	token, err := server.IssueToken([]byte(key), issuer, audience, id, granted, ttl, now)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func runExport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(exportCommand, flag.ContinueOnError)
	journalPath := fs.String("journal", "./paysettle-data/journal.db", "Path to the settlement journal")
	format := fs.String("format", "csv", "Export format: csv, jsonl or parquet")
	output := fs.String("out", "", "Output file (defaults to stdout)")
	orderID := fs.String("order", "", "Only export events for this order id")
	eventType := fs.String("type", "", "Only export events of this type")
	after := fs.Int64("after", 0, "Only export events after this sequence number")
	limit := fs.Int("limit", 0, "Maximum number of events to export (0 exports all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	filter := journal.Filter{OrderID: *orderID, Type: *eventType, AfterSeq: *after, Limit: *limit}
	return exportJournal(context.Background(), *journalPath, *format, *output, filter, out)
}

func exportJournal(ctx context.Context, path, format, output string, filter journal.Filter, out io.Writer) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	j, err := journal.Open(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer j.Close()

	records, err := readAll(ctx, j, filter)
	if err != nil {
		return err
	}
	data, checksum, err := exports.Settlements(format, records)
	if err != nil {
		return err
	}
	if output == "" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	_, err = fmt.Fprintf(out, "wrote %d events to %s (sha256 %s)\n", len(records), output, checksum)
	return err
}

// readAll pages through the journal so exports are not capped by the
// per-call list limit.
func readAll(ctx context.Context, j *journal.Journal, filter journal.Filter) ([]journal.Record, error) {
	const page = 500
	want := filter.Limit
	var records []journal.Record
	for {
		filter.Limit = page
		if want > 0 && want-len(records) < page {
			filter.Limit = want - len(records)
		}
		batch, err := j.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
		if len(batch) < filter.Limit || (want > 0 && len(records) >= want) {
			return records, nil
		}
		filter.AfterSeq = batch[len(batch)-1].Sequence
	}
}

func runDerive(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(deriveCommand, flag.ContinueOnError)
	module := fs.String("module", "", "Base58 module id (defaults to the built-in settlement module)")
	seed := fs.String("seed", "authority", "Treasury derivation seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id := config.DefaultModuleID()
	if strings.TrimSpace(*module) != "" {
		parsed, err := types.ParseAddress(strings.TrimSpace(*module))
		if err != nil {
			return fmt.Errorf("module: %w", err)
		}
		id = parsed
	}
	_, err := fmt.Fprintf(out, "module   %s\nseed     %s\nauthority %s\n", id, *seed, authority.Derive(id, []byte(*seed)))
	return err
}

func runVault(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(vaultCommand, flag.ContinueOnError)
	protocol := fs.String("protocol", "", "Exchange protocol name")
	pool := fs.String("pool", "", "Base58 pool id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*protocol) == "" {
		return errors.New("protocol is required")
	}
	id, err := types.ParseAddress(strings.TrimSpace(*pool))
	if err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	_, err = fmt.Fprintln(out, exchange.VaultAuthority(strings.TrimSpace(*protocol), id))
	return err
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: settlectl <command> [flags]

Commands:
  %-8s issue a bearer token for the settled API
  %-8s export journal events as csv, jsonl or parquet
  %-8s print the treasury authority for a module and seed
  %-8s print the vault authority for an exchange pool
`, tokenCommand, exportCommand, deriveCommand, vaultCommand)
}
