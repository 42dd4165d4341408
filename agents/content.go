package agents

import (
	"context"

	"github.com/campaignkit/campaignkit/core"
	"github.com/campaignkit/campaignkit/services"
)

const contentSystem = "You are a social media content creator. Draft platform-native posts " +
	"that follow the agreed strategy, brand voice, and content pillars. Give each post an " +
	"image_prompt describing its visual. Write posts ready to publish, not outlines."

// ContentCreator drafts the campaign posts, then hands them to the visual
// collaborator to illustrate.
type ContentCreator struct {
	llm    services.LLMService
	visual *Visual
}

// NewContentCreator builds the content agent. visual may be nil to skip
// image generation entirely.
func NewContentCreator(llm services.LLMService, visual *Visual) *ContentCreator {
	return &ContentCreator{llm: llm, visual: visual}
}

func (c *ContentCreator) Stage() core.Stage { return core.StageContentCreation }

func (c *ContentCreator) Process(ctx context.Context, in *Input) (*Result, error) {
	system := contentSystem + deltaInstructions("posts")
	reply, err := c.llm.Complete(ctx, buildPrompt(in), services.CompleteOptions{
		System:      system,
		Temperature: 0.9,
		MaxTokens:   8192,
	})
	if err != nil {
		return nil, err
	}

	message, delta, complete := parseModelOutput(reply)

	res := &Result{Message: message, Delta: delta}

	postsVal, ok := delta[core.SlotPosts]
	if !ok {
		res.Suggestions = []string{"Draft posts for all platforms", "Start with one post"}
		return res, nil
	}

	// Visual failures are not fatal here: posts without images still make a
	// reviewable campaign.
	if c.visual != nil {
		posts := postsVal.Posts
		if arts, err := c.visual.Illustrate(ctx, posts); err == nil && len(arts) > 0 {
			delta[core.SlotPosts] = core.PostsValue(posts)
			delta[core.SlotVisuals] = core.ArtifactsValue(arts)
			res.Artifacts = arts
		}
	}

	res.Message = message + "\n\n" + renderPosts(delta[core.SlotPosts].Posts)
	res.StageComplete = complete || len(postsVal.Posts) > 0
	res.Suggestions = []string{"These look great", "Rewrite the first post"}
	return res, nil
}
