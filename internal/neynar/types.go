package neynar

// Wire types for the Neynar v2 REST API. Only the fields the bot consumes
// are decoded; missing fields default to zero values at this boundary and
// are never propagated as absent downstream.

// Author is the cast author as returned inside feed and cast objects.
type Author struct {
	FID         uint64 `json:"fid"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	PfpURL      string `json:"pfp_url"`
}

// Embed is a media or URL attachment on a cast.
type Embed struct {
	URL string `json:"url"`
}

// Reactions carries the like/recast tallies on a cast.
type Reactions struct {
	LikesCount   int `json:"likes_count"`
	RecastsCount int `json:"recasts_count"`
}

// Replies carries the reply count on a cast.
type Replies struct {
	Count int `json:"count"`
}

// Cast is a single Farcaster cast.
type Cast struct {
	Hash      string    `json:"hash"`
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	Timestamp string    `json:"timestamp"`
	Embeds    []Embed   `json:"embeds"`
	Reactions Reactions `json:"reactions"`
	Replies   Replies   `json:"replies"`
}

// Next holds the opaque continuation cursor of a paginated response.
type Next struct {
	Cursor string `json:"cursor"`
}

// FeedResponse is the body of GET /farcaster/feed/for_you.
type FeedResponse struct {
	Casts []Cast `json:"casts"`
	Next  Next   `json:"next"`
}

// Notification is a single entry of GET /farcaster/notifications.
type Notification struct {
	Type      string `json:"type"`
	Timestamp string `json:"most_recent_timestamp"`
	Cast      *Cast  `json:"cast"`
}

// NotificationsResponse is the body of GET /farcaster/notifications.
type NotificationsResponse struct {
	Notifications []Notification `json:"notifications"`
	Next          Next           `json:"next"`
}

// ConversationResponse is the body of GET /farcaster/cast/conversation.
type ConversationResponse struct {
	Conversation struct {
		Cast struct {
			Cast
			DirectReplies []Cast `json:"direct_replies"`
		} `json:"cast"`
	} `json:"conversation"`
}

// Signer is a delegated signing credential as reported by the remote
// service. Status is one of generated, pending_approval, approved,
// revoked.
type Signer struct {
	SignerUUID  string `json:"signer_uuid"`
	PublicKey   string `json:"public_key"`
	Status      string `json:"status"`
	ApprovalURL string `json:"signer_approval_url"`
}

// PublishCastRequest is the body of POST /farcaster/cast.
type PublishCastRequest struct {
	SignerUUID string `json:"signer_uuid"`
	Text       string `json:"text"`
	Parent     string `json:"parent,omitempty"`
	ChannelID  string `json:"channel_id,omitempty"`
}

// PublishCastResponse is the body returned by POST /farcaster/cast.
type PublishCastResponse struct {
	Success bool `json:"success"`
	Cast    Cast `json:"cast"`
}

// PublishReactionRequest is the body of POST /farcaster/reaction.
type PublishReactionRequest struct {
	SignerUUID   string `json:"signer_uuid"`
	ReactionType string `json:"reaction_type"`
	Target       string `json:"target"`
}

// registerSignedKeyRequest is the body of POST /farcaster/signer/signed_key.
type registerSignedKeyRequest struct {
	SignerUUID string `json:"signer_uuid"`
	AppFID     uint64 `json:"app_fid"`
	Deadline   int64  `json:"deadline"`
	Signature  string `json:"signature"`
}
