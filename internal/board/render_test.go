package board

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPNG(t *testing.T) {
	r := NewRenderer("")
	rows := []Row{
		{Rank: 1, Name: "alice", Value: 1532},
		{Rank: 2, Name: "bob", Value: 1490},
		{Rank: 2, Name: "carol", Value: 1490},
		{Rank: 4, Name: "a very long display name that will not fit in the card at all", Value: 1200},
	}
	data, err := r.RenderPNG(context.Background(), "[chess] leaderboard", rows)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, cardWidth, img.Bounds().Dx())
	want := margin*2 + titleHeight + gapToRows + len(rows)*(rowHeight+rowGap) - rowGap
	assert.Equal(t, want, img.Bounds().Dy())

	// 배경 픽셀은 불투명
	_, _, _, a := img.At(1, 1).RGBA()
	assert.Equal(t, uint32(0xffff), a)
}

func TestRenderPNGErrors(t *testing.T) {
	r := NewRenderer("")
	_, err := r.RenderPNG(context.Background(), "empty", nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.RenderPNG(ctx, "x", []Row{{Rank: 1, Name: "a", Value: 1}})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewRenderer("/nonexistent/font.ttf").RenderPNG(context.Background(), "x", []Row{{Rank: 1}})
	assert.Error(t, err)
}

func TestRenderMedal(t *testing.T) {
	img, err := renderMedal(1, 32)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, 32, img.Bounds().Dx())

	again, err := renderMedal(1, 32)
	require.NoError(t, err)
	assert.Same(t, img, again)

	none, err := renderMedal(4, 32)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestTruncateWithEllipsis(t *testing.T) {
	face, err := loadFace("", 18)
	require.NoError(t, err)
	assert.Equal(t, "short", truncateWithEllipsis(face, " short ", 500))
	cut := truncateWithEllipsis(face, "abcdefghijklmnopqrstuvwxyz", 60)
	assert.True(t, len(cut) < 26)
	assert.Contains(t, cut, "...")
}
