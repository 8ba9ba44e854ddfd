package importer

import (
	"context"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/model"
	"github.com/shelfline/curator-cli/internal/store"
)

// reportStatuses fixes the summary row order.
var reportStatuses = []model.ImageStatus{
	model.StatusNotProcessed,
	model.StatusPending,
	model.StatusApproved,
	model.StatusDeclined,
	model.StatusNotFound,
}

var productHeader = []string{
	"SKU", "Barcode", "Brand", "Title", "Variant", "Size",
	"Status", "Confidence", "Source", "Image Path", "Updated",
}

// Export writes an xlsx status report: a summary sheet with per-status
// counts and a products sheet with one row per product.
func Export(ctx context.Context, st store.Store, path string) error {
	counts, err := st.CountByStatus(ctx)
	if err != nil {
		return eris.Wrap(err, "importer: count by status")
	}
	products, err := st.ListProducts(ctx, store.ProductFilter{})
	if err != nil {
		return eris.Wrap(err, "importer: list products")
	}
	sort.Slice(products, func(i, j int) bool { return products[i].SKU < products[j].SKU })

	f := xlsx.NewFile()

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "importer: add summary sheet")
	}
	addRow(summary, "Status", "Count")
	total := 0
	for _, status := range reportStatuses {
		addRow(summary, string(status), strconv.Itoa(counts[status]))
		total += counts[status]
	}
	addRow(summary, "total", strconv.Itoa(total))

	sheet, err := f.AddSheet("Products")
	if err != nil {
		return eris.Wrap(err, "importer: add products sheet")
	}
	addRow(sheet, productHeader...)
	for _, p := range products {
		updated := ""
		if !p.UpdatedAt.IsZero() {
			updated = p.UpdatedAt.UTC().Format("2006-01-02 15:04:05")
		}
		addRow(sheet,
			p.SKU, p.Barcode, p.Brand, p.Title, p.Variant, p.SizeText,
			string(p.Status), strconv.FormatFloat(p.Confidence, 'f', 1, 64),
			p.Source, p.ImagePath, updated,
		)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "importer: save report")
	}

	zap.L().Info("importer: report exported",
		zap.String("path", path),
		zap.Int("products", len(products)),
	)
	return nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().Value = v
	}
}
