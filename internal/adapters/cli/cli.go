package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"ximopet/internal/app"
	"ximopet/internal/report"
)

// ErrUsage is returned when the command line is malformed.
var ErrUsage = errors.New("usage")

// ErrDiverged is returned by verify when at least one key is out of step with its batches.
var ErrDiverged = errors.New("stock integrity check failed")

const usageText = `Available commands:
  stock [location_id]                       current balances
  batches <item_id> <location_id>           batches in FIFO order
  preview <item_id> <location_id> <date> <quantity>
  verify [<item_id> <location_id>]          integrity check (all keys when omitted)
  recompute <item_id> <location_id>         rebuild a balance and lift its hold
  export <file.xlsx> [location_id]          stock workbook
  rules                                     workflow allow-list
  schema [name]                             request JSON schemas`

// Run executes a one-shot CLI command, writing results to out.
// args is os.Args[1:]; the first element is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: no command\n%s", ErrUsage, usageText)
	}

	switch args[0] {
	case "stock", "st":
		location, err := optionalID(args[1:], "location_id")
		if err != nil {
			return err
		}
		result, err := svc.GetStock(ctx, location)
		if err != nil {
			return err
		}
		printStock(out, result)

	case "batches", "b":
		item, location, err := keyArgs(args[1:])
		if err != nil {
			return err
		}
		result, err := svc.ListBatches(ctx, item, location)
		if err != nil {
			return err
		}
		printBatches(out, result)

	case "preview":
		if len(args) < 5 {
			return fmt.Errorf("%w: app preview <item_id> <location_id> <date> <quantity>", ErrUsage)
		}
		item, location, err := keyArgs(args[1:3])
		if err != nil {
			return err
		}
		plan, err := svc.PreviewAllocation(ctx, app.PreviewAllocationRequest{
			ItemID: item, LocationID: location, Date: args[3], Quantity: app.Amount(args[4]),
		})
		if err != nil {
			return err
		}
		return printJSON(out, plan)

	case "verify", "v":
		var (
			result *app.IntegrityResult
			err    error
		)
		if len(args) > 1 {
			item, location, kerr := keyArgs(args[1:])
			if kerr != nil {
				return kerr
			}
			result, err = svc.Verify(ctx, item, location)
		} else {
			result, err = svc.VerifyAll(ctx)
		}
		if result != nil {
			printIntegrity(out, result)
			if result.Diverged > 0 {
				return fmt.Errorf("%w: %d key(s) diverged and are on hold", ErrDiverged, result.Diverged)
			}
		}
		return err

	case "recompute":
		item, location, err := keyArgs(args[1:])
		if err != nil {
			return err
		}
		result, err := svc.Recompute(ctx, item, location)
		if err != nil {
			return err
		}
		printIntegrity(out, result)

	case "export":
		if len(args) < 2 {
			return fmt.Errorf("%w: app export <file.xlsx> [location_id]", ErrUsage)
		}
		location, err := optionalID(args[2:], "location_id")
		if err != nil {
			return err
		}
		snap, err := report.Collect(ctx, svc, location)
		if err != nil {
			return err
		}
		f, err := os.Create(args[1])
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", args[1], err)
		}
		if err := report.Write(f, snap); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close %s: %w", args[1], err)
		}
		fmt.Fprintf(out, "Wrote %d balances and %d batches to %s\n", len(snap.Stock), len(snap.Batches), args[1])

	case "rules":
		return printJSON(out, svc.TransitionRules())

	case "schema":
		if len(args) < 2 {
			for _, name := range app.RequestSchemaNames() {
				fmt.Fprintln(out, name)
			}
			return nil
		}
		schema, ok := app.RequestSchema(args[1])
		if !ok {
			return fmt.Errorf("%w: unknown schema %q (run: app schema)", ErrUsage, args[1])
		}
		return printJSON(out, schema)

	default:
		return fmt.Errorf("%w: unknown command %s\n%s", ErrUsage, args[0], usageText)
	}
	return nil
}

// ── Argument parsing ─────────────────────────────────────────────────────────

func parseID(s, name string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", ErrUsage, name, s)
	}
	return id, nil
}

func optionalID(args []string, name string) (int64, error) {
	if len(args) == 0 {
		return 0, nil
	}
	return parseID(args[0], name)
}

func keyArgs(args []string) (item, location int64, err error) {
	if len(args) < 2 {
		return 0, 0, fmt.Errorf("%w: <item_id> <location_id> required", ErrUsage)
	}
	if item, err = parseID(args[0], "item_id"); err != nil {
		return 0, 0, err
	}
	if location, err = parseID(args[1], "location_id"); err != nil {
		return 0, 0, err
	}
	return item, location, nil
}

// ── Output ───────────────────────────────────────────────────────────────────

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStock(out io.Writer, result *app.StockResult) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ITEM\tLOCATION\tQUANTITY\tHOLD\t")
	for _, row := range result.Rows {
		hold := ""
		if row.Hold {
			hold = "yes"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t\n", row.ItemID, row.LocationID, row.Quantity.String(), hold)
	}
	_ = tw.Flush()
}

func printBatches(out io.Writer, result *app.BatchListResult) {
	fmt.Fprintf(out, "Item %d at location %d\n", result.Key.ItemID, result.Key.LocationID)
	fmt.Fprintln(out, strings.Repeat("-", 72))
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "BATCH\tDATE\tIN\tUSED\tMUTATED\tAVAILABLE\tUNIT COST\t")
	for _, b := range result.Batches {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			b.ID, b.BatchDate.Format("2006-01-02"),
			b.QuantityIn, b.QuantityUsed, b.QuantityMutated, b.Available, b.UnitCost.StringFixed(2))
	}
	_ = tw.Flush()
}

func printIntegrity(out io.Writer, result *app.IntegrityResult) {
	for _, r := range result.Reports {
		status := "ok"
		if r.Diverged {
			status = "DIVERGED"
		}
		fmt.Fprintf(out, "item %d location %d: stored=%s computed=%s %s\n",
			r.Key.ItemID, r.Key.LocationID, r.Stored, r.Computed, status)
	}
	fmt.Fprintf(out, "%d key(s) checked, %d diverged\n", len(result.Reports), result.Diverged)
}
