package resolver

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

var reportHeader = []string{
	"place_id",
	"place_name",
	"status",
	"reason",
	"gpid",
	"similarity",
	"lat",
	"lng",
	"nearby_results",
	"text_results",
	"num_candidates",
	"candidates_json",
	"error",
}

// WriteReport writes one row per outcome to path. A .xlsx extension writes a
// workbook; anything else writes CSV.
func WriteReport(path string, outcomes []Outcome) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return writeXLSX(path, outcomes)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "resolver: create report %s", path)
	}
	if err := WriteCSV(f, outcomes); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrap(f.Close(), "resolver: close report")
}

// WriteCSV writes the report as CSV to w.
func WriteCSV(w io.Writer, outcomes []Outcome) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return eris.Wrap(err, "resolver: write report header")
	}
	for i := range outcomes {
		if err := cw.Write(reportRow(&outcomes[i])); err != nil {
			return eris.Wrap(err, "resolver: write report row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "resolver: flush report")
}

func writeXLSX(path string, outcomes []Outcome) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("gpid_resolution")
	if err != nil {
		return eris.Wrap(err, "resolver: add report sheet")
	}

	addRow := func(cells []string) {
		row := sheet.AddRow()
		for _, v := range cells {
			row.AddCell().SetString(v)
		}
	}
	addRow(reportHeader)
	for i := range outcomes {
		addRow(reportRow(&outcomes[i]))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "resolver: save report %s", path)
	}
	return nil
}

func reportRow(o *Outcome) []string {
	candidates := "[]"
	if len(o.Candidates) > 0 {
		if b, err := json.Marshal(o.Candidates); err == nil {
			candidates = string(b)
		}
	}
	errText := ""
	if o.Err != nil {
		errText = o.Err.Error()
	}
	return []string{
		o.PlaceID,
		o.PlaceName,
		string(o.Status),
		o.Reason,
		o.GPID,
		formatFloat(o.Similarity, 3),
		formatFloat(o.Lat, 6),
		formatFloat(o.Lng, 6),
		strconv.Itoa(o.Nearby),
		strconv.Itoa(o.Text),
		strconv.Itoa(len(o.Candidates)),
		candidates,
		errText,
	}
}

func formatFloat(v *float64, prec int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}
