package worker

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"forbidden runs", `a<>b:"c/\|?*d`, "a_b_c_d"},
		{"whitespace", "  a \t\n b  ", "a b"},
		{"empty", "", "msg"},
		{"only spaces", "   ", "msg"},
		{"nfc", "\u1112\u1161\u11ab", "\ud55c"},
		{"truncate", strings.Repeat("가", 130), strings.Repeat("가", 120)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SafeName(tc.in))
		})
	}
}

func TestUniqueEMLName(t *testing.T) {
	now := time.Unix(1700000000, 0)
	pattern := regexp.MustCompile(`^(.+)__([0-9a-f]{12})\.eml$`)

	a := UniqueEMLName(1, "<id@x>", "Re: report?", now)
	m := pattern.FindStringSubmatch(a)
	require.NotNil(t, m, a)
	assert.Equal(t, "Re_ report_", m[1])

	// 같은 Message-ID 라도 순번이 다르면 다른 이름
	b := UniqueEMLName(2, "<id@x>", "Re: report?", now)
	assert.NotEqual(t, a, b)

	assert.True(t, strings.HasPrefix(UniqueEMLName(3, "", "", now), "no_subject__"))
}

func TestQuarantineName(t *testing.T) {
	name := NewQuarantineName(1764721594, "host/1")
	assert.Regexp(t, `^1764721594_host_1_\d{6}\.eml\.gz$`, name)

	sec, ok := extractUnixFromFilename(name)
	assert.True(t, ok)
	assert.Equal(t, int64(1764721594), sec)

	_, ok = extractUnixFromFilename("notes.txt")
	assert.False(t, ok)
}

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "00:00:00", formatETA(0))
	assert.Equal(t, "01:02:03", formatETA(time.Hour+2*time.Minute+3*time.Second))
	assert.Equal(t, "27:00:00", formatETA(27*time.Hour))
}

func TestProgress(t *testing.T) {
	start := time.Unix(0, 0)
	clock := start
	p := newProgress(1000, func() time.Time { return clock })

	clock = start.Add(10 * time.Second)
	pct, rate, eta := p.at(250)
	assert.InDelta(t, 25.0, pct, 1e-9)
	assert.InDelta(t, 25.0, rate, 1e-9)
	assert.Equal(t, 30*time.Second, eta)

	_, _, eta = p.at(1000)
	assert.Zero(t, eta)
}
