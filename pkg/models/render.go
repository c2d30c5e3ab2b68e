package models

import "time"

// RenderTimeFormat is the timestamp layout used in rendered structures
const RenderTimeFormat = time.RFC3339

// RenderChannel returns the public fields of a channel
func RenderChannel(c *Channel) map[string]interface{} {
	return map[string]interface{}{
		"id":          c.ID,
		"name":        c.Name,
		"description": c.Description,
	}
}

// RenderVideo returns the public fields of a video. When expand is true and
// the owning channel is loaded, the channel is rendered in place of its id.
func RenderVideo(v *Video, expand bool) map[string]interface{} {
	m := map[string]interface{}{
		"id":             v.ID,
		"title":          v.Title,
		"description":    v.Description,
		"published_date": v.PublishedDate.UTC().Format(RenderTimeFormat),
		"duration":       v.Duration,
		"width":          v.Width,
		"height":         v.Height,
		"fps":            v.FPS,
		"chapters":       v.Chapters,
	}

	if expand && v.Channel != nil {
		m["channel"] = RenderChannel(v.Channel)
	} else {
		m["channel"] = v.ChannelID
	}

	return m
}

// RenderVariant returns the public fields of a downloaded variant, optionally
// expanding the owning video.
func RenderVariant(d *DownloadedVariant, expand bool) map[string]interface{} {
	m := map[string]interface{}{
		"id":        d.ID,
		"width":     d.Width,
		"height":    d.Height,
		"fps":       d.FPS,
		"filesize":  d.Filesize,
		"extension": d.Extension,
		"path":      d.StoragePath(),
	}

	if expand && d.Video != nil {
		m["video"] = RenderVideo(d.Video, false)
	} else {
		m["video"] = d.VideoID
	}

	return m
}
