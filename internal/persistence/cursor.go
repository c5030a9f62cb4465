// Package persistence contains helpers shared by repository implementations.
package persistence

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ReportCursor is the keyset position for paginating the report listing,
// newest first.
type ReportCursor struct {
	CreatedAt time.Time
	Kind      string
	ObjectID  int64
}

// EncodeReportCursor serialises the cursor to an opaque token.
func EncodeReportCursor(c *ReportCursor) string {
	if c == nil {
		return ""
	}
	raw := fmt.Sprintf("%s|%s|%d", c.CreatedAt.UTC().Format(time.RFC3339Nano), c.Kind, c.ObjectID)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// DecodeReportCursor parses the encoded cursor token.
func DecodeReportCursor(token string) (*ReportCursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(string(decoded), "|", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, err
	}
	objectID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor object id: %w", err)
	}
	return &ReportCursor{CreatedAt: ts, Kind: parts[1], ObjectID: objectID}, nil
}
