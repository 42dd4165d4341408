package core

import "time"

// Post is a single piece of platform-specific campaign content.
type Post struct {
	Platform     string   `json:"platform"`
	Content      string   `json:"content"`
	Hashtags     []string `json:"hashtags,omitempty"`
	CallToAction string   `json:"call_to_action,omitempty"`
	ImagePrompt  string   `json:"image_prompt,omitempty"`
	ImageRef     string   `json:"image_ref,omitempty"`
}

// Artifact is a generated visual asset referenced by posts.
type Artifact struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Prompt   string `json:"prompt"`
	Platform string `json:"platform,omitempty"`
	Style    string `json:"style,omitempty"`
}

// Response is the per-turn envelope front ends consume. Text is always
// present; the rest depends on where the session is in the sequence.
type Response struct {
	SessionID        string     `json:"session_id"`
	Text             string     `json:"text"`
	Suggestions      []string   `json:"suggestions,omitempty"`
	Artifacts        []Artifact `json:"artifacts,omitempty"`
	Stage            Stage      `json:"-"`
	StageName        string     `json:"stage"`
	Progress         float64    `json:"progress"`
	CampaignComplete bool       `json:"campaign_complete"`
}

// Campaign is the finalized export package assembled from a completed
// session's context.
type Campaign struct {
	SessionID       string     `json:"session_id"`
	Business        string     `json:"business"`
	Industry        string     `json:"industry,omitempty"`
	Audience        string     `json:"audience"`
	Objective       string     `json:"objective"`
	BrandVoice      string     `json:"brand_voice,omitempty"`
	StrategySummary string     `json:"strategy_summary"`
	ContentPillars  []string   `json:"content_pillars,omitempty"`
	KeyMessages     []string   `json:"key_messages,omitempty"`
	Platforms       []string   `json:"platforms,omitempty"`
	Posts           []Post     `json:"posts"`
	Artifacts       []Artifact `json:"artifacts,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// BuildCampaign assembles the export package from a session's context.
func BuildCampaign(sessionID string, cm *ContextModel) Campaign {
	return Campaign{
		SessionID:       sessionID,
		Business:        cm.Text(SlotBusinessDescription),
		Industry:        cm.Text(SlotIndustry),
		Audience:        cm.Text(SlotTargetAudience),
		Objective:       cm.Text(SlotObjective),
		BrandVoice:      cm.Text(SlotBrandVoice),
		StrategySummary: cm.Text(SlotStrategySummary),
		ContentPillars:  cm.List(SlotContentPillars),
		KeyMessages:     cm.List(SlotKeyMessages),
		Platforms:       cm.List(SlotPlatforms),
		Posts:           cm.Posts(SlotPosts),
		Artifacts:       cm.Artifacts(SlotVisuals),
		CreatedAt:       time.Now().UTC(),
	}
}
