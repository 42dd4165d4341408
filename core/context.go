package core

import "fmt"

// Slot names one structured fact accumulated about the user's business and
// campaign. The slot set is closed; deltas naming anything else are rejected.
type Slot string

const (
	SlotCampaignIdea        Slot = "campaign_idea"
	SlotBusinessDescription Slot = "business_description"
	SlotIndustry            Slot = "industry"
	SlotTargetAudience      Slot = "target_audience"
	SlotBrandVoice          Slot = "brand_voice"
	SlotSellingPoints       Slot = "unique_selling_points"
	SlotCompetitors         Slot = "competitors"
	SlotObjective           Slot = "objective"
	SlotPlatforms           Slot = "platforms"
	SlotBudget              Slot = "budget"
	SlotStrategySummary     Slot = "strategy_summary"
	SlotContentPillars      Slot = "content_pillars"
	SlotKeyMessages         Slot = "key_messages"
	SlotPosts               Slot = "generated_posts"
	SlotVisuals             Slot = "generated_visuals"
	SlotPreferences         Slot = "user_preferences"
)

// ValueKind tags the variant held by a SlotValue.
type ValueKind int

const (
	KindText ValueKind = iota
	KindList
	KindPosts
	KindArtifacts
)

// slotSchema pins each slot to its value kind. Deltas are validated against
// it before any write, so free-form model output cannot corrupt the context.
var slotSchema = map[Slot]ValueKind{
	SlotCampaignIdea:        KindText,
	SlotBusinessDescription: KindText,
	SlotIndustry:            KindText,
	SlotTargetAudience:      KindText,
	SlotBrandVoice:          KindText,
	SlotSellingPoints:       KindList,
	SlotCompetitors:         KindList,
	SlotObjective:           KindText,
	SlotPlatforms:           KindList,
	SlotBudget:              KindText,
	SlotStrategySummary:     KindText,
	SlotContentPillars:      KindList,
	SlotKeyMessages:         KindList,
	SlotPosts:               KindPosts,
	SlotVisuals:             KindArtifacts,
	SlotPreferences:         KindList,
}

// SlotValue is the tagged value stored in a slot, along with the stage that
// wrote it. Exactly one variant field is populated, per the slot's kind.
// Unlocked marks the slot as eligible for overwrite by an earlier stage after
// a refinement; it lives on the value so it survives persistence and is
// cleared when the slot is rewritten.
type SlotValue struct {
	Kind      ValueKind  `json:"kind"`
	Text      string     `json:"text,omitempty"`
	List      []string   `json:"list,omitempty"`
	Posts     []Post     `json:"posts,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	WrittenBy Stage      `json:"written_by"`
	Unlocked  bool       `json:"unlocked,omitempty"`
}

// TextValue builds a text slot value.
func TextValue(s string) SlotValue { return SlotValue{Kind: KindText, Text: s} }

// ListValue builds a string-list slot value.
func ListValue(items ...string) SlotValue { return SlotValue{Kind: KindList, List: items} }

// PostsValue builds a slot value holding generated posts.
func PostsValue(posts []Post) SlotValue { return SlotValue{Kind: KindPosts, Posts: posts} }

// ArtifactsValue builds a slot value holding generated visual artifacts.
func ArtifactsValue(arts []Artifact) SlotValue {
	return SlotValue{Kind: KindArtifacts, Artifacts: arts}
}

func (v SlotValue) empty() bool {
	switch v.Kind {
	case KindText:
		return v.Text == ""
	case KindList:
		return len(v.List) == 0
	case KindPosts:
		return len(v.Posts) == 0
	case KindArtifacts:
		return len(v.Artifacts) == 0
	}
	return true
}

// Delta is the set of slot writes produced by one stage agent call. A delta
// is applied all-or-nothing: one invalid entry rejects the whole set.
type Delta map[Slot]SlotValue

// ContextModel is the structured memory of a session: a map from slot to
// value plus the stage that wrote each value. It is not safe for concurrent
// use; the orchestrator serializes access per session.
type ContextModel struct {
	slots map[Slot]SlotValue
}

// NewContextModel returns an empty context.
func NewContextModel() *ContextModel {
	return &ContextModel{slots: make(map[Slot]SlotValue)}
}

// RestoreContextModel rebuilds a context from its persisted slot map.
func RestoreContextModel(slots map[Slot]SlotValue) *ContextModel {
	cm := NewContextModel()
	for k, v := range slots {
		cm.slots[k] = v
	}
	return cm
}

// Get returns the value stored in slot, if any.
func (c *ContextModel) Get(slot Slot) (SlotValue, bool) {
	v, ok := c.slots[slot]
	return v, ok
}

// Has reports whether slot holds a non-empty value.
func (c *ContextModel) Has(slot Slot) bool {
	v, ok := c.slots[slot]
	return ok && !v.empty()
}

// Text returns the text stored in slot, or "" when absent.
func (c *ContextModel) Text(slot Slot) string {
	return c.slots[slot].Text
}

// List returns the string list stored in slot, or nil when absent.
func (c *ContextModel) List(slot Slot) []string {
	return c.slots[slot].List
}

// Posts returns the posts stored in slot, or nil when absent.
func (c *ContextModel) Posts(slot Slot) []Post {
	return c.slots[slot].Posts
}

// Artifacts returns the artifacts stored in slot, or nil when absent.
func (c *ContextModel) Artifacts(slot Slot) []Artifact {
	return c.slots[slot].Artifacts
}

// Len returns the number of populated slots.
func (c *ContextModel) Len() int { return len(c.slots) }

// Validate checks a single slot write against the schema without applying it.
func Validate(slot Slot, v SlotValue) error {
	kind, ok := slotSchema[slot]
	if !ok {
		return &ValidationError{Slot: slot, Reason: "unknown slot"}
	}
	if v.Kind != kind {
		return &ValidationError{Slot: slot, Reason: fmt.Sprintf("expected kind %d, got %d", kind, v.Kind)}
	}
	if v.empty() {
		return &ValidationError{Slot: slot, Reason: "empty value"}
	}
	return nil
}

// Apply merges a delta written by the given stage. Every entry is validated
// first: an unknown slot, a kind mismatch, an empty value, or a write to a
// slot owned by a later stage rejects the whole delta and leaves the context
// untouched. An earlier-stage write is allowed only for slots unlocked by a
// refinement (see Unlock). On success the written slots are stamped with the
// writing stage and any unlock marks on them are consumed.
func (c *ContextModel) Apply(delta Delta, by Stage) error {
	if !by.Valid() {
		return &ValidationError{Reason: fmt.Sprintf("invalid writing stage %d", int(by))}
	}
	for slot, v := range delta {
		if err := Validate(slot, v); err != nil {
			return err
		}
		if cur, ok := c.slots[slot]; ok && by.Before(cur.WrittenBy) && !cur.Unlocked {
			return &ValidationError{
				Slot:   slot,
				Reason: fmt.Sprintf("written by %s, cannot be overwritten from %s", cur.WrittenBy, by),
			}
		}
	}
	for slot, v := range delta {
		v.WrittenBy = by
		v.Unlocked = false
		c.slots[slot] = v
	}
	return nil
}

// Unlock marks every slot written at or after the given stage as eligible for
// overwrite by earlier stages. Called when a review-time refinement sends the
// session back to an earlier stage. Marks persist with the context until the
// slot is rewritten, so a refinement that takes several turns keeps its
// eligibility across save/load cycles.
func (c *ContextModel) Unlock(from Stage) {
	for slot, v := range c.slots {
		if !v.WrittenBy.Before(from) {
			v.Unlocked = true
			c.slots[slot] = v
		}
	}
}

// Clone returns an independent snapshot of the context. Unlock marks carry
// over so a refinement target agent can rewrite what it owns.
func (c *ContextModel) Clone() *ContextModel {
	cm := NewContextModel()
	for k, v := range c.slots {
		cm.slots[k] = v
	}
	return cm
}

// Slots returns a copy of the slot map for persistence.
func (c *ContextModel) Slots() map[Slot]SlotValue {
	out := make(map[Slot]SlotValue, len(c.slots))
	for k, v := range c.slots {
		out[k] = v
	}
	return out
}
