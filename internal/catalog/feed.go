package catalog

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/owntube/owntube/internal/metrics"
	"github.com/owntube/owntube/pkg/models"
)

// Feed reads the syndication feed of a channel
type Feed struct {
	client  *http.Client
	baseURL string
}

// NewFeed creates a Feed client. baseURL is the feed endpoint that accepts a
// channel_id query parameter.
func NewFeed(client *http.Client, baseURL string, timeout time.Duration) *Feed {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Feed{client: client, baseURL: baseURL}
}

// FetchRemoteListing returns the channel's current listing in feed order.
// Any non-success response fails with a FeedFetchError; retrying is up to
// the caller.
func (f *Feed) FetchRemoteListing(ctx context.Context, channelID string) (*models.RemoteChannel, error) {
	listing, err := f.fetch(ctx, channelID)
	metrics.RecordFeedFetch(err)
	return listing, err
}

func (f *Feed) fetch(ctx context.Context, channelID string) (*models.RemoteChannel, error) {
	feedURL := fmt.Sprintf("%s?channel_id=%s", f.baseURL, url.QueryEscape(channelID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, &FeedFetchError{ChannelID: channelID, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FeedFetchError{ChannelID: channelID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FeedFetchError{ChannelID: channelID, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)}
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, &FeedFetchError{ChannelID: channelID, Err: fmt.Errorf("parse atom feed: %w", err)}
	}

	return feed.toRemote(channelID), nil
}

// atomFeed is the subset of a YouTube Atom feed we read
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Author  atomAuthor  `xml:"author"`
	Entries []atomEntry `xml:"entry"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomEntry struct {
	VideoID     string          `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	Title       string          `xml:"title"`
	Published   time.Time       `xml:"published"`
	Description string          `xml:"group>description"`
	Thumbnails  []atomThumbnail `xml:"group>thumbnail"`
}

type atomThumbnail struct {
	URL    string `xml:"url,attr"`
	Width  int    `xml:"width,attr"`
	Height int    `xml:"height,attr"`
}

func (f *atomFeed) toRemote(channelID string) *models.RemoteChannel {
	name := f.Author.Name
	if name == "" {
		name = f.Title
	}

	listing := &models.RemoteChannel{
		ID:     channelID,
		Name:   name,
		Videos: make([]models.RemoteVideo, 0, len(f.Entries)),
	}
	for _, entry := range f.Entries {
		rv := models.RemoteVideo{
			ID:          entry.VideoID,
			Title:       entry.Title,
			Description: entry.Description,
			Published:   entry.Published,
		}
		for _, thumb := range entry.Thumbnails {
			rv.Thumbnails = append(rv.Thumbnails, models.RemoteThumbnail(thumb))
		}
		listing.Videos = append(listing.Videos, rv)
	}
	return listing
}
