package models

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Category is the closed enumeration of content a generation can produce.
type Category string

const (
	CategorySocialPost         Category = "social_post"
	CategoryBlogArticle        Category = "blog_article"
	CategoryEmailCampaign      Category = "email_campaign"
	CategoryAdCopy             Category = "ad_copy"
	CategoryPromotional        Category = "promotional"
	CategoryProductDescription Category = "product_description"
)

// Categories lists every category in its fixed order. The order breaks ties
// when computing the most used category.
var Categories = []Category{
	CategorySocialPost,
	CategoryBlogArticle,
	CategoryEmailCampaign,
	CategoryAdCopy,
	CategoryPromotional,
	CategoryProductDescription,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type ContentStatus string

const (
	StatusDraft     ContentStatus = "draft"
	StatusScheduled ContentStatus = "scheduled"
	StatusCompleted ContentStatus = "completed"
	StatusFailed    ContentStatus = "failed"
)

// ContentItem is one generated unit. IDs are snowflakes, so ordering by ID
// agrees with ordering by creation time within one node.
type ContentItem struct {
	ID             snowflake.ID      `json:"id"`
	AccountID      string            `json:"accountId"`
	Category       Category          `json:"category"`
	Title          string            `json:"title"`
	Inputs         map[string]string `json:"inputs,omitempty"`
	Payload        string            `json:"payload"`
	Status         ContentStatus     `json:"status"`
	CreditsCharged int64             `json:"creditsCharged"`
	CorrelationID  string            `json:"correlationId"`
	ScheduledFor   *time.Time        `json:"scheduledFor,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}
