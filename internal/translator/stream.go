package translator

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteEvent writes payload as one SSE data frame.
func WriteEvent(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}
