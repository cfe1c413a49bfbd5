package extract

import (
	"fmt"
	"strings"

	"github.com/lu4p/cat"
)

// extractOffice handles word-processor formats (.docx, .odt, .rtf); cat detects the
// concrete format from the content.
func extractOffice(content []byte, ext string) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", strings.TrimPrefix(ext, "."), err)
	}
	return strings.TrimSpace(text), nil
}
