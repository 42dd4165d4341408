package agents

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campaignkit/campaignkit/core"
	"github.com/campaignkit/campaignkit/services"
)

// Visual generates image assets for drafted posts. It implements the same
// contract as every other agent but normally runs as a collaborator inside
// content creation rather than owning a turn of its own.
type Visual struct {
	image services.ImageService
	log   zerolog.Logger
}

// NewVisual builds the visual agent.
func NewVisual(image services.ImageService, log zerolog.Logger) *Visual {
	return &Visual{image: image, log: log}
}

func (v *Visual) Stage() core.Stage { return core.StageContentCreation }

// Process renders an asset for every post in the context that carries an
// image prompt but no image yet, and rewrites the posts slot with the
// references attached.
func (v *Visual) Process(ctx context.Context, in *Input) (*Result, error) {
	posts := in.Context.Posts(core.SlotPosts)
	if len(posts) == 0 {
		return &Result{Message: "No drafted posts to illustrate yet.", StageComplete: true}, nil
	}

	updated := make([]core.Post, len(posts))
	copy(updated, posts)
	arts, err := v.Illustrate(ctx, updated)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Message:       "I've attached visuals to your drafted posts.",
		Artifacts:     arts,
		StageComplete: true,
	}
	if len(arts) > 0 {
		res.Delta = core.Delta{
			core.SlotPosts:   core.PostsValue(updated),
			core.SlotVisuals: core.ArtifactsValue(arts),
		}
	}
	return res, nil
}

// Illustrate fills ImageRef in place for each post that needs one and
// returns the generated artifacts. Per-post failures are logged and skipped;
// an error is returned only when every attempt failed, so one flaky render
// does not sink a whole content batch.
func (v *Visual) Illustrate(ctx context.Context, posts []core.Post) ([]core.Artifact, error) {
	var (
		arts    []core.Artifact
		lastErr error
		tried   int
	)
	for i := range posts {
		if posts[i].ImagePrompt == "" || posts[i].ImageRef != "" {
			continue
		}
		tried++
		img, err := v.image.Generate(ctx, services.ImageRequest{
			Prompt:   posts[i].ImagePrompt,
			Platform: posts[i].Platform,
		})
		if err != nil {
			lastErr = err
			v.log.Warn().Err(err).Str("platform", posts[i].Platform).Msg("[visual] image generation failed")
			continue
		}
		art := core.Artifact{
			ID:       uuid.NewString(),
			URL:      img.URL,
			Prompt:   posts[i].ImagePrompt,
			Platform: posts[i].Platform,
		}
		posts[i].ImageRef = art.ID
		arts = append(arts, art)
	}
	if tried > 0 && len(arts) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return arts, nil
}
