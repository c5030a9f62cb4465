package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReportCursorRoundTrip(t *testing.T) {
	cursor := &ReportCursor{
		CreatedAt: time.Date(2026, time.March, 14, 8, 0, 0, 123456789, time.UTC),
		Kind:      "ride",
		ObjectID:  111,
	}

	token := EncodeReportCursor(cursor)
	require.NotEmpty(t, token)

	decoded, err := DecodeReportCursor(token)
	require.NoError(t, err)
	require.True(t, cursor.CreatedAt.Equal(decoded.CreatedAt))
	require.Equal(t, cursor.Kind, decoded.Kind)
	require.Equal(t, cursor.ObjectID, decoded.ObjectID)
}

func TestReportCursorEmpty(t *testing.T) {
	require.Empty(t, EncodeReportCursor(nil))

	decoded, err := DecodeReportCursor("")
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestReportCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeReportCursor("not-base64!!")
	require.Error(t, err)

	_, err = DecodeReportCursor("bm90LWEtY3Vyc29y") // "not-a-cursor"
	require.Error(t, err)
}
