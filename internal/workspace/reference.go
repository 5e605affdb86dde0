package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"mediadesk/internal/fileutil"
)

// Reference is the saved pointer to the chosen workspace root.
type Reference struct {
	Root    string    `json:"root"`
	Name    string    `json:"name"`
	SavedAt time.Time `json:"saved_at"`
}

func loadReference(path string) (Reference, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Reference{}, false, nil
		}
		return Reference{}, false, fmt.Errorf("read workspace reference: %w", err)
	}
	var ref Reference
	if err := json.Unmarshal(data, &ref); err != nil {
		return Reference{}, false, fmt.Errorf("parse workspace reference: %w", err)
	}
	if strings.TrimSpace(ref.Root) == "" {
		return Reference{}, false, nil
	}
	return ref, true, nil
}

func saveReference(path string, ref Reference) error {
	data, err := json.MarshalIndent(ref, "", "  ")
	if err != nil {
		return fmt.Errorf("encode workspace reference: %w", err)
	}
	return fileutil.WriteFileAtomic(path, data, 0o644)
}

func forgetReference(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove workspace reference: %w", err)
	}
	return nil
}
