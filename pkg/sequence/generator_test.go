package sequence

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatCode(t *testing.T) {
	require.Equal(t, "PT-261019-001AB", FormatCode("PT", "261019", 1, "AB"))
	require.Equal(t, "PT-261019-00ZAB", FormatCode("PT", "261019", 35, "AB"))
	require.Equal(t, "PT-261019-1000AB", FormatCode("PT", "261019", 36*36*36, "AB"))
}

func TestDailyKey(t *testing.T) {
	day := time.Date(2026, 10, 19, 23, 0, 0, 0, time.UTC)
	require.Equal(t, "seq:PT:261019", DailyKey(PrefixPointTransaction, day))
}

func TestRandomCode(t *testing.T) {
	code, err := RandomCode(PrefixJob)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(code, "JOB-"))
	require.Len(t, strings.Split(code, "-")[2], 6)
}
