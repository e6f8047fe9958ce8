package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"pynthchain/integrations/exports"
)

const checksumHeader = "X-Pynth-Checksum"

// handleExport renders closed fee periods as csv, jsonl or parquet. Pass
// open=true to include the period still accruing.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeOpen := false
	if raw := q.Get("open"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: open: %v", errBadRequest, err))
			return
		}
		includeOpen = v
	}
	rows := exports.Rows(s.node.FeePeriods(), includeOpen)

	format := q.Get("format")
	if format == "" {
		format = "csv"
	}
	switch format {
	case "csv":
		data, checksum, err := exports.FeePeriodsCSV(rows)
		s.writeExport(w, "text/csv", "fee-periods.csv", data, checksum, err)
	case "jsonl":
		data, checksum, err := exports.FeePeriodsJSONL(rows)
		s.writeExport(w, "application/x-ndjson", "fee-periods.jsonl", data, checksum, err)
	case "parquet":
		data, err := s.parquet(rows)
		s.writeExport(w, "application/vnd.apache.parquet", "fee-periods.parquet", data, "", err)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: unsupported format %q", errBadRequest, format))
	}
}

func (s *Server) parquet(rows []exports.FeePeriodRow) ([]byte, error) {
	dir := s.exportDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, "fee-periods-*.parquet")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := exports.WriteFeePeriodsParquet(path, rows); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Clean(path))
}

func (s *Server) writeExport(w http.ResponseWriter, contentType, name string, data []byte, checksum string, err error) {
	if err != nil {
		s.logger.Error("fee period export failed", "file", name, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("export failed"))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if checksum != "" {
		w.Header().Set(checksumHeader, checksum)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
