package textutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeSpace(t *testing.T) {
	require.Equal(t, "配達 完了", NormalizeSpace("  配達 \t\n 完了  "))
	require.Equal(t, "", NormalizeSpace("   \n\t "))
	require.Equal(t, "unchanged", NormalizeSpace("unchanged"))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", Truncate("short", 80))

	long := strings.Repeat("狀", 100)
	got := Truncate(long, 80)
	require.Equal(t, 80, len([]rune(got)))
	require.True(t, strings.HasSuffix(got, "..."))
	require.Equal(t, strings.Repeat("狀", 77), strings.TrimSuffix(got, "..."))

	exact := strings.Repeat("a", 80)
	require.Equal(t, exact, Truncate(exact, 80))
}

func TestContainsAny(t *testing.T) {
	keywords := []string{"送達", "投遞", "退回"}
	require.True(t, ContainsAny("2025/08/20 已投遞成功", keywords))
	require.False(t, ContainsAny("2025/08/20 資料處理中", []string{"送達"}))
	require.False(t, ContainsAny("anything", nil))
}

func TestFirstDateLine(t *testing.T) {
	body := "頁面標題\n查詢結果\n2025/08/20 15:04 已送達 台北郵局\n其他內容"
	require.Equal(t, "2025/08/20 15:04 已送達 台北郵局", FirstDateLine(body))

	require.Equal(t, "2025-1-2 處理中", FirstDateLine("x\n2025-1-2 處理中"))
	require.Equal(t, "", FirstDateLine("no dates here"))
}

func TestFirstEnglishDateLine(t *testing.T) {
	body := "SPX Express\nParcel has arrived\n20 Aug 2025 10:31 Delivered to store\nfooter"
	require.Equal(t, "20 Aug 2025 10:31 Delivered to store", FirstEnglishDateLine(body))

	require.Equal(t, "2 jan 2026 shipped", FirstEnglishDateLine("2 jan 2026 shipped"))
	require.Equal(t, "", FirstEnglishDateLine("20 Xyz 2025"))
}
