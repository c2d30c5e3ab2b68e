package database

import (
	"context"
	"fmt"
)

// Table names and their natural key columns
const (
	ChannelsTable = "channels"
	VideosTable   = "videos"
	VariantsTable = "downloaded_videos"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS channels (
		cid         VARCHAR(64) PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS videos (
		vid            VARCHAR(32) PRIMARY KEY,
		channel_cid    VARCHAR(64) NOT NULL REFERENCES channels (cid),
		title          TEXT NOT NULL,
		description    TEXT,
		published_date VARCHAR(19) NOT NULL,
		duration       DOUBLE PRECISION,
		width          INTEGER,
		height         INTEGER,
		fps            DOUBLE PRECISION,
		chapters       TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS videos_channel_published_idx ON videos (channel_cid, published_date)`,
	`CREATE TABLE IF NOT EXISTS downloaded_videos (
		id        VARCHAR(36) PRIMARY KEY,
		vid       VARCHAR(32) NOT NULL REFERENCES videos (vid),
		width     INTEGER NOT NULL,
		height    INTEGER NOT NULL,
		fps       DOUBLE PRECISION NOT NULL,
		filesize  BIGINT NOT NULL,
		extension VARCHAR(8) NOT NULL,
		UNIQUE (vid, height)
	)`,
}

// Migrate creates the tables when they do not exist yet
func Migrate(ctx context.Context, exec Executor) error {
	for _, stmt := range schema {
		if err := exec.Exec(ctx, stmt); err != nil {
			return storageError("migrate", "", fmt.Errorf("%w\n%s", err, stmt))
		}
	}
	return nil
}
