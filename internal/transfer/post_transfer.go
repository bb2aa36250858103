package transfer

// PostCreation is the request body for creating or editing a draft.
type PostCreation struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Hashtags     []string `json:"hashtags"`
	VideoURL     string   `json:"video_url"`
	VideoBytes   int64    `json:"video_bytes"`
	ThumbnailURL string   `json:"thumbnail_url"`
	AccountIDs   []int64  `json:"account_ids"`
}

// ScheduleRequest carries the publish time for a scheduled post, in the
// frontend's datetime-local format.
type ScheduleRequest struct {
	ScheduledAt string `json:"scheduled_at"`
}
