package progressbar

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualProgressBar(t *testing.T) {
	var out bytes.Buffer
	p := NewManualProgressBar(&out, 10, 4)
	assert.Equal(t, 0.0, p.Fraction())

	p.Increment()
	assert.Equal(t, 0.25, p.Fraction())
	p.Add(10)
	assert.Equal(t, 1.0, p.Fraction())
	p.Set(2)
	assert.Equal(t, 0.5, p.Fraction())

	bar := p.String()
	assert.Equal(t, 5, strings.Count(bar, "█"))
	assert.Contains(t, bar, "50.00%")

	require.NoError(t, p.Display())
	assert.Contains(t, out.String(), "50.00%")
	require.NoError(t, p.Close())
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
}
