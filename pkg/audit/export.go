package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
)

// ExportActivityCSV renders activity entries as CSV with a header row
func ExportActivityCSV(entries []*ActivityLog) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"Timestamp",
		"TenantID",
		"UserID",
		"Action",
		"ResourceType",
		"ResourceID",
		"Description",
		"IPAddress",
		"Method",
		"Path",
		"UserAgent",
		"Metadata",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		metadata := ""
		if len(entry.Metadata) > 0 {
			data, err := json.Marshal(entry.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to encode metadata: %w", err)
			}
			metadata = string(data)
		}

		row := []string{
			strconv.FormatInt(entry.ID, 10),
			entry.CreatedAt.Format("2006-01-02 15:04:05"),
			formatInt64Ptr(entry.TenantID),
			formatInt64Ptr(entry.UserID),
			string(entry.Action),
			entry.ResourceType,
			entry.ResourceID,
			entry.Description,
			entry.IPAddress,
			entry.Method,
			entry.Path,
			entry.UserAgent,
			metadata,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func formatInt64Ptr(val *int64) string {
	if val == nil {
		return ""
	}
	return strconv.FormatInt(*val, 10)
}
