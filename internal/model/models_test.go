package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestElapsed(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, ""},
		{200 * time.Millisecond, "1s"},
		{30 * time.Second, "30s"},
		{65 * time.Second, "1m 5s"},
		{2*time.Hour + 3*time.Second, "2h 3s"},
		{time.Hour + 59*time.Minute + 1500*time.Millisecond, "1h 59m 2s"},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, Elapsed(c.in), "elapsed for %s", c.in)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("Failed")
	assert.NoError(t, err)
	assert.Equal(t, StatusFailed, s)

	s, err = ParseStatus("7")
	assert.NoError(t, err)
	assert.Equal(t, Status(7), s)
	assert.Equal(t, "custom(7)", s.String())

	_, err = ParseStatus("unknown")
	assert.Error(t, err)

	_, err = ParseStatus("-1")
	assert.Error(t, err)
}
