// Package importer loads product catalogs from xlsx/csv files and writes
// xlsx status reports. Column detection is header-name based so exports
// from different retailer systems import without manual mapping.
package importer

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/shelfline/curator-cli/internal/model"
	"github.com/shelfline/curator-cli/internal/store"
)

// columnAliases maps each product field to the header names catalog
// exports use for it. Matching folds case and surrounding space.
var columnAliases = map[string][]string{
	"sku":     {"sku", "item code", "itemcode", "product code", "article", "code"},
	"barcode": {"barcode", "ean", "gtin", "upc"},
	"brand":   {"brand", "brand name", "supplier brand"},
	"title":   {"title", "description", "product name", "product", "name"},
	"variant": {"variant", "flavour", "flavor", "type"},
	"size":    {"size", "pack size", "size text", "unit size"},
}

// Result summarizes one catalog import.
type Result struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Import reads the catalog at path into the store. The format follows the
// file extension: .xlsx or .csv. Rows without a SKU or title are skipped.
func Import(ctx context.Context, st store.Store, path string) (*Result, error) {
	var rows [][]string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSX(path)
	case ".csv":
		rows, err = readCSV(path)
	default:
		return nil, eris.Errorf("importer: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.New("importer: file has no rows")
	}

	cols, err := detectColumns(rows[0])
	if err != nil {
		return nil, err
	}

	result := &Result{}
	var products []model.Product
	for _, row := range rows[1:] {
		p := model.Product{
			SKU:      cell(row, cols["sku"]),
			Barcode:  cell(row, cols["barcode"]),
			Brand:    cell(row, cols["brand"]),
			Title:    cell(row, cols["title"]),
			Variant:  cell(row, cols["variant"]),
			SizeText: cell(row, cols["size"]),
			Status:   model.StatusNotProcessed,
		}
		if p.SKU == "" || p.Title == "" {
			result.Skipped++
			continue
		}
		products = append(products, p)
	}

	n, err := st.UpsertProducts(ctx, products)
	if err != nil {
		return nil, eris.Wrap(err, "importer: upsert products")
	}
	result.Imported = int(n)

	zap.L().Info("importer: catalog imported",
		zap.String("path", path),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// detectColumns maps field names to column indexes from the header row.
// SKU and title columns are required.
func detectColumns(header []string) (map[string]int, error) {
	cols := map[string]int{}
	for field, aliases := range columnAliases {
		cols[field] = -1
		for i, h := range header {
			if matchesAlias(h, aliases) {
				cols[field] = i
				break
			}
		}
	}
	if cols["sku"] < 0 {
		return nil, eris.New("importer: no SKU column found")
	}
	if cols["title"] < 0 {
		return nil, eris.New("importer: no title column found")
	}
	return cols, nil
}

func matchesAlias(header string, aliases []string) bool {
	h := strings.ToLower(strings.TrimSpace(header))
	for _, a := range aliases {
		if h == a {
			return true
		}
	}
	return false
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "importer: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("importer: xlsx has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, c := range row.Cells {
			cells[j] = c.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "importer: open csv")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "importer: read csv row")
		}
		rows = append(rows, record)
	}
	return rows, nil
}
