package queue

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const untitled = "Untitled"

var titleCaser = cases.Title(language.Und, cases.NoLower)

// TitleFromFilename derives a display title from a file name:
// "board_meeting-2024.m4a" becomes "Board Meeting 2024".
func TitleFromFilename(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == string(filepath.Separator) {
		return untitled
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(base)
	words := strings.Fields(base)
	if len(words) == 0 {
		return untitled
	}
	return titleCaser.String(strings.Join(words, " "))
}
