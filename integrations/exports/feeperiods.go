package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	nativecommon "pynthchain/native/common"
	"pynthchain/native/feepool"
)

var feePeriodHeader = []string{
	"period_id", "starting_debt_index", "start_time",
	"fees_to_distribute", "fees_claimed", "rewards_to_distribute", "rewards_claimed",
	"fees_burned", "network_debt_share",
}

// FeePeriodRow is the flattened export form of a fee period. Amounts are
// decimal strings in whole-token units.
type FeePeriodRow struct {
	PeriodID            int64  `json:"period_id" parquet:"name=period_id, type=INT64"`
	StartingDebtIndex   int64  `json:"starting_debt_index" parquet:"name=starting_debt_index, type=INT64"`
	StartTime           string `json:"start_time" parquet:"name=start_time, type=UTF8, encoding=PLAIN_DICTIONARY"`
	FeesToDistribute    string `json:"fees_to_distribute" parquet:"name=fees_to_distribute, type=UTF8, encoding=PLAIN_DICTIONARY"`
	FeesClaimed         string `json:"fees_claimed" parquet:"name=fees_claimed, type=UTF8, encoding=PLAIN_DICTIONARY"`
	RewardsToDistribute string `json:"rewards_to_distribute" parquet:"name=rewards_to_distribute, type=UTF8, encoding=PLAIN_DICTIONARY"`
	RewardsClaimed      string `json:"rewards_claimed" parquet:"name=rewards_claimed, type=UTF8, encoding=PLAIN_DICTIONARY"`
	FeesBurned          string `json:"fees_burned" parquet:"name=fees_burned, type=UTF8, encoding=PLAIN_DICTIONARY"`
	NetworkDebtShare    string `json:"network_debt_share" parquet:"name=network_debt_share, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

// Rows flattens periods, skipping the open period (index 0) unless
// includeOpen is set.
func Rows(periods []feepool.FeePeriod, includeOpen bool) []FeePeriodRow {
	rows := make([]FeePeriodRow, 0, len(periods))
	for i, p := range periods {
		if i == 0 && !includeOpen {
			continue
		}
		if p.ID == 0 {
			continue
		}
		rows = append(rows, FeePeriodRow{
			PeriodID:            int64(p.ID),
			StartingDebtIndex:   int64(p.StartingDebtIndex),
			StartTime:           formatTime(p.StartTime),
			FeesToDistribute:    amount(p.FeesToDistribute),
			FeesClaimed:         amount(p.FeesClaimed),
			RewardsToDistribute: amount(p.RewardsToDistribute),
			RewardsClaimed:      amount(p.RewardsClaimed),
			FeesBurned:          amount(p.FeesBurned),
			NetworkDebtShare:    amount(p.NetworkDebtShare),
		})
	}
	return rows
}

// FeePeriodsCSV serialises rows and returns the payload with its SHA-256
// checksum.
func FeePeriodsCSV(rows []FeePeriodRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	w := csv.NewWriter(buffer)
	if err := w.Write(feePeriodHeader); err != nil {
		return nil, "", err
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatInt(row.PeriodID, 10),
			strconv.FormatInt(row.StartingDebtIndex, 10),
			row.StartTime,
			row.FeesToDistribute,
			row.FeesClaimed,
			row.RewardsToDistribute,
			row.RewardsClaimed,
			row.FeesBurned,
			row.NetworkDebtShare,
		}
		if err := w.Write(record); err != nil {
			return nil, "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}
	return withChecksum(buffer.Bytes())
}

// FeePeriodsJSONL serialises rows as JSON Lines.
func FeePeriodsJSONL(rows []FeePeriodRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range rows {
		if err := encoder.Encode(row); err != nil {
			return nil, "", err
		}
	}
	return withChecksum(buffer.Bytes())
}

// WriteFeePeriodsParquet writes rows to a Snappy-compressed Parquet file.
func WriteFeePeriodsParquet(path string, rows []FeePeriodRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(FeePeriodRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range rows {
		if err := pw.Write(&rows[i]); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("exports: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("exports: close parquet file: %w", err)
	}
	return nil
}

func withChecksum(data []byte) ([]byte, string, error) {
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return nativecommon.FormatUnits(v)
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}
