package xapi

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"frameworks/bosun/pkg/logging"
)

// dryRunHistory is how many recorded posts Published keeps.
const dryRunHistory = 100

// DryRunPublisher logs instead of posting and hands out synthetic ids so
// threading code paths still run in development mode.
type DryRunPublisher struct {
	logger logging.Logger

	mu        sync.Mutex
	published []DryRunPost
}

type DryRunPost struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Text     string `json:"text"`
}

func NewDryRunPublisher(logger logging.Logger) *DryRunPublisher {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &DryRunPublisher{logger: logger}
}

func (d *DryRunPublisher) PublishPrimary(_ context.Context, text string) (PublishResult, error) {
	return d.record("", text), nil
}

func (d *DryRunPublisher) PublishReply(_ context.Context, text, parentID string) (PublishResult, error) {
	return d.record(parentID, text), nil
}

func (d *DryRunPublisher) record(parentID, text string) PublishResult {
	post := DryRunPost{ID: "dry-" + uuid.NewString(), ParentID: parentID, Text: text}
	d.mu.Lock()
	d.published = append(d.published, post)
	if len(d.published) > dryRunHistory {
		d.published = append(d.published[:0:0], d.published[len(d.published)-dryRunHistory:]...)
	}
	d.mu.Unlock()

	d.logger.WithFields(logging.Fields{
		"post_id":   post.ID,
		"parent_id": parentID,
		"length":    len(text),
		"text":      text,
	}).Info("Dry run: post not sent")
	return PublishResult{ID: post.ID}
}

// Published returns a copy of the most recent posts, oldest first.
func (d *DryRunPublisher) Published() []DryRunPost {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DryRunPost(nil), d.published...)
}
