package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/marmos91/voltclient/pkg/volt"
)

var execCmd = &cobra.Command{
	Use:   "exec <procedure> [arg...]",
	Short: "Invoke a stored procedure and print its result tables",
	Long: `Invoke a stored procedure with the given arguments.

Arguments are coerced from their literal form: integers become BIGINT,
numbers with a decimal point or an exponent (e.g. 1e5) become FLOAT,
"null" (any case) becomes NULL, and
everything else is passed as STRING. Prefix an argument with "str:" to
force a string (e.g. str:42).

Procedure names starting with @ go through the system-procedure path and
must be on the client's allow-list.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client, _, err := connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Close(closeCtx)
	}()

	proc := args[0]
	params := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		params = append(params, coerceArg(a))
	}

	start := time.Now()
	var resp *volt.Response
	if strings.HasPrefix(proc, "@") {
		resp, err = client.CallSystem(ctx, proc, params, callOptions()...)
	} else {
		resp, err = client.Call(ctx, proc, params, callOptions()...)
	}
	if err != nil {
		if resp != nil && resp.StatusString != "" {
			return fmt.Errorf("%s: %s", err, resp.StatusString)
		}
		return err
	}

	for i, t := range resp.Tables {
		if i > 0 {
			cmd.Println()
		}
		renderTable(t)
	}
	cmd.Printf("\n%d table(s), round trip %s (cluster %s)\n",
		len(resp.Tables), time.Since(start).Round(time.Millisecond), resp.ClusterRoundTrip)
	return nil
}

// coerceArg maps a CLI literal to a parameter value.
func coerceArg(s string) any {
	if strings.HasPrefix(s, "str:") {
		return strings.TrimPrefix(s, "str:")
	}
	if strings.EqualFold(s, "null") {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if strings.ContainsAny(s, ".eE") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

// renderTable prints one result table.
func renderTable(t *volt.Table) {
	w := tablewriter.NewWriter(os.Stdout)
	header := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = fmt.Sprintf("%s (%s)", c.Name, strings.ToLower(c.Type.String()))
	}
	w.SetHeader(header)
	w.SetAutoFormatHeaders(false)
	w.SetAutoWrapText(false)

	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = renderCell(v)
		}
		w.Append(cells)
	}
	w.Render()
}

func renderCell(v any) string {
	switch c := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("0x%x", c)
	case time.Time:
		return c.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return c.String()
	default:
		return fmt.Sprint(c)
	}
}
