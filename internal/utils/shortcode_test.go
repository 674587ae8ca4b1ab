package utils_test

import (
	"strings"
	"testing"
	"time"

	"github.com/Monthlyaway/linktrack/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func TestValidCustomCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{"simple", "promo", true},
		{"mixed charset", "Sale_2024-x", true},
		{"max length", strings.Repeat("a", 20), true},
		{"too long", strings.Repeat("a", 21), false},
		{"empty", "", false},
		{"spaces", "has spaces", false},
		{"slash", "a/b", false},
		{"unicode", "héllo", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, utils.ValidCustomCode(tt.code))
		})
	}
}

func TestRandomSource_Alphabet(t *testing.T) {
	src := utils.NewRandomSource(8)

	for i := 0; i < 200; i++ {
		code, err := src.Next()
		require.NoError(t, err)
		require.Len(t, code, 8)
		for _, c := range code {
			assert.Contains(t, utils.CodeAlphabet, string(c))
		}
	}
}

func TestRandomSource_MinimumLength(t *testing.T) {
	code, err := utils.NewRandomSource(2).Next()
	require.NoError(t, err)
	assert.Len(t, code, utils.MinCodeLength)
}

func TestRandomSource_MaximumLength(t *testing.T) {
	code, err := utils.NewRandomSource(32).Next()
	require.NoError(t, err)
	assert.Len(t, code, utils.MaxCustomCodeLength)
	assert.True(t, utils.ValidCustomCode(code))
}

func TestRandomSource_Distinct(t *testing.T) {
	src := utils.NewRandomSource(8)
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		code, err := src.Next()
		require.NoError(t, err)
		seen[code] = struct{}{}
	}
	assert.Len(t, seen, 1000)
}

func TestSnowflakeSource(t *testing.T) {
	ids, err := utils.NewIDNode(1, 1)
	require.NoError(t, err)
	src := utils.NewSnowflakeSource(ids)

	a, err := src.Next()
	require.NoError(t, err)
	b, err := src.Next()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.GreaterOrEqual(t, len(a), utils.MinCodeLength)
	assert.True(t, utils.ValidCustomCode(a))
}

func TestEncodeBase36(t *testing.T) {
	tests := []struct {
		num  int64
		want string
	}{
		{-5, "0"},
		{0, "0"},
		{35, "z"},
		{36, "10"},
		{1296, "100"},
		{1<<63 - 1, "1y2p0ij32e8e7"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, utils.EncodeBase36(tt.num), tt.num)
	}
}

func TestNewIDNode_RejectsOutOfRange(t *testing.T) {
	_, err := utils.NewIDNode(32, 0)
	assert.Error(t, err)
	_, err = utils.NewIDNode(0, -1)
	assert.Error(t, err)
}

func TestMockClock(t *testing.T) {
	start := baseTime
	clock := utils.NewMockClock(start)

	clock.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), clock.Now())

	clock.Set(start)
	assert.Equal(t, start, clock.Now())
}
