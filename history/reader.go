package history

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-freebook/models"
)

// LoadBookIDs returns the book IDs recorded in filename, oldest first.
// A missing file yields no IDs. Dual history is read from its JSONL side.
func LoadBookIDs(format, filename string) ([]string, error) {
	path, jsonl, err := historySource(format, filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	if jsonl {
		return readJSONIDs(f)
	}
	return readCSVIDs(f)
}

// historySource picks the file a reader should parse for format.
func historySource(format, filename string) (string, bool, error) {
	switch format {
	case "csv":
		return filename, false, nil
	case "json":
		return filename, true, nil
	case "dual":
		return DualJSONPath(filename), true, nil
	default:
		return "", false, fmt.Errorf("unsupported format: %s", format)
	}
}

func readCSVIDs(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var ids []string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return ids, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv history: %w", err)
		}
		if len(row) == 0 || row[0] == csvHeader[0] || strings.TrimSpace(row[0]) == "" {
			continue
		}
		ids = append(ids, row[0])
	}
}

func readJSONIDs(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	var ids []string
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var record models.ClaimRecord
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			return nil, fmt.Errorf("decode json history line %d: %w", line, err)
		}
		if record.BookID != "" {
			ids = append(ids, record.BookID)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan json history: %w", err)
	}
	return ids, nil
}

// LoadRecords returns every record in filename, oldest first. A missing
// file yields no records. Dual history is read from its JSONL side.
func LoadRecords(format, filename string) ([]*models.ClaimRecord, error) {
	path, jsonl, err := historySource(format, filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	if jsonl {
		return readJSONRecords(f)
	}
	return readCSVRecords(f)
}

func readCSVRecords(r io.Reader) ([]*models.ClaimRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(csvHeader)

	var records []*models.ClaimRecord
	for line := 1; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv history: %w", err)
		}
		if row[0] == csvHeader[0] {
			continue
		}
		bytes, err := strconv.ParseInt(row[5], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("csv history line %d: bytes: %w", line, err)
		}
		claimedAt, err := time.Parse(time.RFC3339, row[6])
		if err != nil {
			return nil, fmt.Errorf("csv history line %d: claimed_at: %w", line, err)
		}
		records = append(records, &models.ClaimRecord{
			BookID:    row[0],
			Title:     row[1],
			ClaimURL:  row[2],
			Format:    row[3],
			FilePath:  row[4],
			Bytes:     bytes,
			ClaimedAt: claimedAt,
		})
	}
}

func readJSONRecords(r io.Reader) ([]*models.ClaimRecord, error) {
	scanner := bufio.NewScanner(r)
	var records []*models.ClaimRecord
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var record models.ClaimRecord
		if err := json.Unmarshal([]byte(text), &record); err != nil {
			return nil, fmt.Errorf("decode json history line %d: %w", line, err)
		}
		records = append(records, &record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan json history: %w", err)
	}
	return records, nil
}
