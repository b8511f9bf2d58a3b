package changeset

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff renders a line-based unified diff between the committed content
// and the staged replacement, labeled a/<doc_id> → b/<doc_id> for the reviewer.
func UnifiedDiff(docID, before, after string) (string, error) {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + docID,
		ToFile:   "b/" + docID,
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("diff %s: %w", docID, err)
	}
	return diff, nil
}
