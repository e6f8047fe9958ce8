package exports

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	nativecommon "pynthchain/native/common"
	"pynthchain/native/feepool"
)

func samplePeriods() []feepool.FeePeriod {
	start := time.Unix(1_700_000_000, 0).UTC()
	return []feepool.FeePeriod{
		{ID: 3, StartingDebtIndex: 9, StartTime: start.Add(14 * 24 * time.Hour)},
		{
			ID:                  2,
			StartingDebtIndex:   4,
			StartTime:           start.Add(7 * 24 * time.Hour),
			FeesToDistribute:    nativecommon.Units(40),
			FeesClaimed:         nativecommon.Units(10),
			RewardsToDistribute: nativecommon.Units(100),
			FeesBurned:          nativecommon.Fraction(5, 2),
			NetworkDebtShare:    nativecommon.Fraction(1, 2),
		},
		{ID: 0},
	}
}

func TestRowsSkipOpenAndEmptyPeriods(t *testing.T) {
	rows := Rows(samplePeriods(), false)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].PeriodID != 2 || rows[0].FeesBurned != "2.5" || rows[0].RewardsClaimed != "0" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
	if got := len(Rows(samplePeriods(), true)); got != 2 {
		t.Fatalf("expected open period included, got %d rows", got)
	}
}

func TestFeePeriodsCSV(t *testing.T) {
	data, checksum, err := FeePeriodsCSV(Rows(samplePeriods(), false))
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(checksum) != 64 {
		t.Fatalf("unexpected checksum %q", checksum)
	}
	output := string(data)
	if !strings.HasPrefix(output, strings.Join(feePeriodHeader, ",")) {
		t.Fatalf("missing header: %s", output)
	}
	if !strings.Contains(output, "2,4,2023-11-21T22:13:20Z,40,10,100,0,2.5,0.5") {
		t.Fatalf("unexpected record: %s", output)
	}
}

func TestFeePeriodsJSONL(t *testing.T) {
	data, checksum, err := FeePeriodsJSONL(Rows(samplePeriods(), true))
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if checksum == "" || bytes.Count(data, []byte("\n")) != 2 {
		t.Fatalf("unexpected payload: %s", data)
	}
	if !strings.Contains(string(data), "\"network_debt_share\":\"0.5\"") {
		t.Fatalf("missing share: %s", data)
	}
}

func TestWriteFeePeriodsParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "periods.parquet")
	if err := WriteFeePeriodsParquet(path, Rows(samplePeriods(), true)); err != nil {
		t.Fatalf("parquet: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) < 8 || string(data[:4]) != "PAR1" || string(data[len(data)-4:]) != "PAR1" {
		t.Fatalf("not a parquet file")
	}

	file, err := local.NewLocalFileReader(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()
	pr, err := reader.NewParquetReader(file, new(FeePeriodRow), 1)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer pr.ReadStop()
	if n := pr.GetNumRows(); n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
	got := make([]FeePeriodRow, 2)
	if err := pr.Read(&got); err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if got[1].PeriodID != 2 || got[1].FeesBurned != "2.5" || got[1].NetworkDebtShare != "0.5" {
		t.Fatalf("unexpected row: %+v", got[1])
	}
	if got[0].PeriodID != 3 || got[0].StartTime != "2023-11-28T22:13:20Z" {
		t.Fatalf("unexpected open row: %+v", got[0])
	}
}
