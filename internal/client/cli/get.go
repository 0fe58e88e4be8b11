package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/projflow/internal/client/client"
)

// Get fetches path from the backend with the current identity token and
// prints the JSON response.
func (a *App) Get(ctx context.Context, path string) error {
	var raw json.RawMessage
	if err := a.api.Get(ctx, path, &raw); err != nil {
		var reqErr *client.RequestError
		if errors.As(err, &reqErr) {
			fmt.Fprintln(a.out, "Error:", reqErr.Message)
			for field, msg := range reqErr.Fields {
				fmt.Fprintf(a.out, "  %s: %s\n", field, msg)
			}
		} else {
			fmt.Fprintln(a.out, "Error:", err)
		}
		return err
	}

	if len(raw) == 0 {
		fmt.Fprintln(a.out, "(empty response)")
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Fprintln(a.out, string(raw))
		return nil
	}
	fmt.Fprintln(a.out, pretty.String())
	return nil
}
