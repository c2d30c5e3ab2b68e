package catalog

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDump = `{
  "resourceId": {"kind": "youtube#channel", "channelId": "UC1"},
  "title": "Dump Channel",
  "description": "All about dumps",
  "thumbnails": {
    "default": {"url": "https://yt3/a88.jpg", "width": 88, "height": 88},
    "high": {"url": "https://yt3/a800.jpg", "width": 800, "height": 800},
    "medium": {"url": "https://yt3/a240.jpg", "width": 240, "height": 240}
  },
  "videos": [
    {
      "resourceId": {"kind": "youtube#video", "videoId": "vid1"},
      "title": "First",
      "description": "one",
      "publishedAt": "2023-05-01T10:00:00Z",
      "thumbnails": {
        "standard": {"url": "https://i/sd.jpg", "width": 640, "height": 480},
        "wide": {"url": "https://i/wide.jpg", "width": 480, "height": 640}
      }
    },
    {
      "resourceId": {"kind": "youtube#video", "videoId": "vid2"},
      "title": "Second",
      "description": "",
      "publishedAt": "2023-05-02T10:00:00",
      "thumbnails": null
    }
  ]
}`

func TestDecodeDump(t *testing.T) {
	listing, err := DecodeDump(strings.NewReader(sampleDump))
	require.NoError(t, err)

	assert.Equal(t, "UC1", listing.ID)
	assert.Equal(t, "Dump Channel", listing.Name)
	assert.Equal(t, "All about dumps", listing.Description)
	assert.Len(t, listing.Thumbnails, 3)
	assert.Equal(t, "https://yt3/a800.jpg", listing.Thumbnails["high"].URL)

	require.Len(t, listing.Videos, 2)
	first := listing.Videos[0]
	assert.Equal(t, "vid1", first.ID)
	assert.True(t, time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC).Equal(first.Published))
	require.Len(t, first.Thumbnails, 2)
	assert.Equal(t, "https://i/sd.jpg", first.Thumbnails[0].URL, "document order is kept")
	assert.Equal(t, "https://i/wide.jpg", first.Thumbnails[1].URL)

	second := listing.Videos[1]
	assert.True(t, time.Date(2023, 5, 2, 10, 0, 0, 0, time.UTC).Equal(second.Published))
	assert.Empty(t, second.Thumbnails)
}

func TestDecodeDumpWithoutVideos(t *testing.T) {
	listing, err := DecodeDump(strings.NewReader(`{"resourceId": {"channelId": "UC1"}, "title": "x", "videos": null}`))
	require.NoError(t, err)
	assert.Empty(t, listing.Videos)
}

func TestDecodeDumpErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"missing channel id", `{"title": "x"}`},
		{"bad timestamp", `{"resourceId": {"channelId": "UC1"}, "videos": [{"resourceId": {"videoId": "v"}, "publishedAt": "yesterday"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDump(strings.NewReader(tt.body))
			assert.ErrorIs(t, err, ErrInvalidDump)
		})
	}
}
