package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	o := CaptureOptions{URL: "http://127.0.0.1:8080/chart", OutputPath: "out.png"}
	require.NoError(t, o.normalize())
	assert.Equal(t, DefaultWidth, o.Width)
	assert.Equal(t, DefaultHeight, o.Height)
	assert.Equal(t, 30*time.Second, o.Timeout)

	o = CaptureOptions{URL: "u", OutputPath: "o", Width: 400, Height: 300, Timeout: time.Second}
	require.NoError(t, o.normalize())
	assert.Equal(t, 400, o.Width)
	assert.Equal(t, 300, o.Height)
	assert.Equal(t, time.Second, o.Timeout)
}

func TestCaptureRequiresURLAndOutput(t *testing.T) {
	assert.Error(t, CaptureChartPNG(context.Background(), CaptureOptions{OutputPath: "x.png"}))
	assert.Error(t, CaptureChartPNG(context.Background(), CaptureOptions{URL: "http://x"}))
}
