package clip

import (
	"fmt"
	"strings"

	"github.com/shelfline/curator-cli/internal/model"
)

// Descriptions builds the text variants a candidate image is compared
// against. The best match across all variants is the candidate's score.
func Descriptions(p *model.Product) []string {
	texts := []string{
		strings.TrimSpace(fmt.Sprintf("A product photo of %s %s", p.Brand, p.Title)),
	}
	if p.Variant != "" {
		texts = append(texts, strings.TrimSpace(fmt.Sprintf("A package of %s %s", p.Brand, p.Variant)))
	}
	if p.SizeText != "" {
		texts = append(texts, strings.TrimSpace(fmt.Sprintf("%s %s %s", p.Brand, p.Title, p.SizeText)))
	}
	return texts
}
