// Package ingestion accepts newly posted activities from the owning stream
// service and publishes them to Kafka, where the indexer picks them up.
// Ids are assigned upstream and only ever grow, which is what lets search
// page by watermark.
package ingestion

import (
	"time"

	"github.com/lmco/activitysearch/internal/stream/hydrate"
	"github.com/lmco/activitysearch/internal/stream/index"
)

// PostRequest is the JSON body accepted by the ingestion endpoint. The yaml
// tags let seed fixtures describe activities in the same shape.
type PostRequest struct {
	ID                   int64     `json:"id" yaml:"id"`
	StreamID             int64     `json:"stream_id" yaml:"stream_id"`
	Recipient            string    `json:"recipient" yaml:"recipient"`
	RecipientParentOrgID int64     `json:"recipient_parent_org_id" yaml:"recipient_parent_org_id"`
	Author               string    `json:"author" yaml:"author"`
	Content              string    `json:"content" yaml:"content"`
	Public               bool      `json:"public" yaml:"public"`
	PostedAt             time.Time `json:"posted_at" yaml:"posted_at"`
}

type PostResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// ActivityPosted is the Kafka payload consumed by the indexer.
type ActivityPosted struct {
	PostRequest
	IngestedAt time.Time `json:"ingested_at"`
}

// Document is the indexed projection of the activity.
func (e ActivityPosted) Document() index.Document {
	return index.Document{
		ID:          e.ID,
		Content:     e.Content,
		Recipient:   e.Recipient,
		ParentOrgID: e.RecipientParentOrgID,
		Public:      e.Public,
	}
}

// Activity is the record later returned by hydration.
func (e ActivityPosted) Activity() hydrate.Activity {
	return hydrate.Activity{
		ID:        e.ID,
		StreamID:  e.StreamID,
		Recipient: e.Recipient,
		Author:    e.Author,
		Content:   e.Content,
		Public:    e.Public,
		PostedAt:  e.PostedAt,
	}
}
