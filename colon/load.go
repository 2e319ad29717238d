package colon

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Record is one row of the colon data.
type Record struct {
	ID       int
	Study    int
	Rx       Treatment
	Sex      Sex
	Age      float64
	Obstruct Flag
	Perfor   Flag
	Adhere   Flag
	Nodes    float64
	Status   bool
	Differ   Differentiation
	Extent   Extent
	Surg     SurgeryDelay
	Node4    Flag
	Time     float64
	EType    EventType
}

// Columns that must be present in the header.  Other columns, such as
// "study" or an unnamed row-number column, are ignored if unknown.
var requiredColumns = []string{"id", "rx", "sex", "age", "obstruct", "perfor", "adhere",
	"nodes", "status", "differ", "extent", "surg", "node4", "time", "etype"}

func isNA(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "NA", ".", "NaN":
		return true
	}
	return false
}

// Load reads the colon data from a CSV or XLSX file, chosen by the file
// extension.
func Load(path string, log *slog.Logger) ([]Record, error) {

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("colon: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(f, log)
	case ".csv", ".txt":
		return ReadCSV(f, log)
	default:
		return nil, fmt.Errorf("colon: unsupported file type '%s'", filepath.Ext(path))
	}
}

// ReadCSV reads comma separated colon data with a header row.
func ReadCSV(r io.Reader, log *slog.Logger) ([]Record, error) {

	rdr := csv.NewReader(r)
	rdr.TrimLeadingSpace = true
	rows, err := rdr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("colon: reading CSV: %w", err)
	}

	return parseRows(rows, log)
}

// ReadXLSX reads colon data from the first sheet of a workbook.
func ReadXLSX(r io.Reader, log *slog.Logger) ([]Record, error) {

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("colon: opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("colon: workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("colon: reading sheet '%s': %w", sheets[0], err)
	}

	return parseRows(rows, log)
}

func parseRows(rows [][]string, log *slog.Logger) ([]Record, error) {

	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	if len(rows) < 2 {
		return nil, fmt.Errorf("colon: need a header row and at least one data row")
	}

	pos := make(map[string]int)
	for j, h := range rows[0] {
		pos[strings.ToLower(strings.Trim(strings.TrimSpace(h), `"`))] = j
	}
	for _, c := range requiredColumns {
		if _, ok := pos[c]; !ok {
			return nil, fmt.Errorf("colon: column '%s' not found", c)
		}
	}

	var recs []Record
	var dropped int
	for i, row := range rows[1:] {
		rec, complete, err := parseRow(row, pos)
		if err != nil {
			return nil, fmt.Errorf("colon: line %d: %w", i+2, err)
		}
		if !complete {
			dropped++
			continue
		}
		recs = append(recs, rec)
	}

	log.Info("read colon data",
		slog.Int("records", len(recs)),
		slog.Int("incomplete", dropped))

	if len(recs) == 0 {
		return nil, fmt.Errorf("colon: no complete records")
	}

	return recs, nil
}

// parseRow returns false if a required value is missing.
func parseRow(row []string, pos map[string]int) (Record, bool, error) {

	var rec Record

	get := func(name string) string {
		j := pos[name]
		if j >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[j])
	}

	for _, c := range requiredColumns {
		if isNA(get(c)) {
			return rec, false, nil
		}
	}

	var err error
	num := func(name string) float64 {
		if err != nil {
			return 0
		}
		var x float64
		x, err = strconv.ParseFloat(get(name), 64)
		if err != nil {
			err = fmt.Errorf("column '%s': %w", name, err)
		} else if math.IsNaN(x) || math.IsInf(x, 0) {
			err = fmt.Errorf("column '%s' is not finite", name)
		}
		return x
	}
	code := func(name string, lo, hi int) int {
		x := num(name)
		if err != nil {
			return 0
		}
		k := int(x)
		if float64(k) != x || k < lo || k > hi {
			err = fmt.Errorf("column '%s' has code %v, expected %d..%d", name, x, lo, hi)
		}
		return k
	}

	rec.ID = code("id", 0, math.MaxInt32)
	if _, ok := pos["study"]; ok && !isNA(get("study")) {
		rec.Study = code("study", 0, math.MaxInt32)
	}
	rec.Sex = Sex(code("sex", 0, 1))
	rec.Age = num("age")
	rec.Obstruct = code("obstruct", 0, 1) == 1
	rec.Perfor = code("perfor", 0, 1) == 1
	rec.Adhere = code("adhere", 0, 1) == 1
	rec.Nodes = num("nodes")
	rec.Status = code("status", 0, 1) == 1
	rec.Differ = Differentiation(code("differ", 1, 3))
	rec.Extent = Extent(code("extent", 1, 4))
	rec.Surg = SurgeryDelay(code("surg", 0, 1))
	rec.Node4 = code("node4", 0, 1) == 1
	rec.Time = num("time")
	rec.EType = EventType(code("etype", 1, 2))
	if err != nil {
		return rec, false, err
	}

	rec.Rx, err = ParseTreatment(strings.Trim(get("rx"), `"`))
	if err != nil {
		return rec, false, err
	}
	if rec.Time < 0 {
		return rec, false, fmt.Errorf("negative time %v", rec.Time)
	}

	return rec, true, nil
}
