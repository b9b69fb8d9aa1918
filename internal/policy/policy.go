package policy

import (
	"fmt"
)

// Scope controls whether duplicate matching considers the whole community or
// only the channel the image was posted in.
type Scope string

const (
	// ScopeServer matches against every record in the community.
	ScopeServer Scope = "server"
	// ScopeChannel matches only against records from the same channel.
	ScopeChannel Scope = "channel"
)

// CheckMode controls whether a repost by the original author counts as a
// duplicate.
type CheckMode string

const (
	// CheckModeStrict flags every match regardless of author.
	CheckModeStrict CheckMode = "strict"
	// CheckModeOwnerAllowed lets the original poster repost their own image.
	CheckModeOwnerAllowed CheckMode = "owner_allowed"
)

// Defaults mirroring the settings new communities start with.
const (
	DefaultHashSize            = 8
	DefaultSimilarityThreshold = 5
	DefaultReactionEmoji       = "⚠️" // warning sign
	DefaultCatchUpLimit        = 100
	DefaultScanLimit           = 1000

	// MaxSimilarityThreshold bounds the threshold so a misconfigured
	// community cannot make everything match everything.
	MaxSimilarityThreshold = 20
	// MinHashSize and MaxHashSize bound the perceptual hash detail level.
	MinHashSize = 4
	MaxHashSize = 32
)

// DefaultReplyTemplate is the reply sent on a duplicate when the community
// has not customized it. See RenderReply for the placeholder set.
const DefaultReplyTemplate = "{emoji} Hold on, {mention}! Image `{filename}` similar to recent submission (ID: `{identifier}`, Dist: {distance}{original_user_info}).{jump_link}"

// Policy holds the per-community duplicate-detection settings. The core
// consumes policies read-only; a policy is read atomically per operation so a
// concurrent change never applies mid-decision.
type Policy struct {
	// HashSize is the perceptual hash detail level. The fingerprint width is
	// HashSize*HashSize bits. Changing it does not re-hash existing records;
	// records of a different width are simply skipped during matching.
	// Default: 8, Range: 4-32
	HashSize int `json:"hash_size"`

	// SimilarityThreshold is the maximum Hamming distance treated as a match.
	// 0 means exact match only. Default: 5, Range: 0-20
	SimilarityThreshold int `json:"similarity_threshold"`

	// Scope selects server-wide or per-channel matching. Records keep the
	// partition they were written under; switching scope does not migrate
	// them. Default: server
	Scope Scope `json:"duplicate_scope"`

	// CheckMode selects strict or owner-allowed matching. Default: strict
	CheckMode CheckMode `json:"duplicate_check_mode"`

	// MaxAgeDays limits matching to records newer than this many days.
	// 0 means no time limit. Default: 0
	MaxAgeDays int `json:"duplicate_check_duration_days"`

	// FlagUnknownOwner controls owner_allowed behavior when the stored
	// original has no recorded author: true flags the repost, false lets it
	// pass. Default: false (pass)
	FlagUnknownOwner bool `json:"flag_unknown_owner"`

	// ExemptAuthors lists user IDs whose posts are never acted on. Their
	// images are still recorded as matchable originals.
	ExemptAuthors []string `json:"allowed_users"`

	// MonitoredChannels restricts live checking and catch-up to these
	// channel IDs. Empty means all channels.
	MonitoredChannels []string `json:"allowed_channel_ids"`

	// ReactToDuplicates adds ReactionEmoji to flagged messages. Default: true
	ReactToDuplicates bool `json:"react_to_duplicates"`

	// DeleteDuplicates deletes flagged messages. Default: false
	DeleteDuplicates bool `json:"delete_duplicates"`

	// ReplyToDuplicates replies to flagged messages using ReplyTemplate.
	// Default: true
	ReplyToDuplicates bool `json:"reply_on_duplicate"`

	// ReactionEmoji is the reaction applied to flagged messages.
	ReactionEmoji string `json:"duplicate_reaction_emoji"`

	// ReplyTemplate is the reply body. See RenderReply for placeholders.
	ReplyTemplate string `json:"duplicate_reply_template"`

	// LogChannelID is the channel duplicate events are logged to. Empty
	// disables log-channel output.
	LogChannelID string `json:"log_channel_id"`

	// CatchUpOnStartup enables the startup store-repair pass for this
	// community. Default: false
	CatchUpOnStartup bool `json:"enable_catchup_on_startup"`

	// CatchUpLimitPerChannel caps how many missed messages the startup pass
	// examines per channel. Default: 100
	CatchUpLimitPerChannel int `json:"catchup_limit_per_channel"`
}

// Default returns the settings a community starts with on first contact.
func Default() Policy {
	return Policy{
		HashSize:               DefaultHashSize,
		SimilarityThreshold:    DefaultSimilarityThreshold,
		Scope:                  ScopeServer,
		CheckMode:              CheckModeStrict,
		MaxAgeDays:             0,
		FlagUnknownOwner:       false,
		ReactToDuplicates:      true,
		DeleteDuplicates:       false,
		ReplyToDuplicates:      true,
		ReactionEmoji:          DefaultReactionEmoji,
		ReplyTemplate:          DefaultReplyTemplate,
		CatchUpOnStartup:       false,
		CatchUpLimitPerChannel: DefaultCatchUpLimit,
	}
}

// Normalize coerces out-of-range values back to usable ones, the way the
// legacy config loader did: a community with a hand-edited config file keeps
// running instead of failing to load.
func (p *Policy) Normalize() {
	if p.HashSize < MinHashSize {
		p.HashSize = DefaultHashSize
	}
	if p.HashSize > MaxHashSize {
		p.HashSize = MaxHashSize
	}
	if p.SimilarityThreshold < 0 {
		p.SimilarityThreshold = 0
	}
	if p.SimilarityThreshold > MaxSimilarityThreshold {
		p.SimilarityThreshold = MaxSimilarityThreshold
	}
	if p.Scope != ScopeServer && p.Scope != ScopeChannel {
		p.Scope = ScopeServer
	}
	if p.CheckMode != CheckModeStrict && p.CheckMode != CheckModeOwnerAllowed {
		p.CheckMode = CheckModeStrict
	}
	if p.MaxAgeDays < 0 {
		p.MaxAgeDays = 0
	}
	if p.ReactionEmoji == "" {
		p.ReactionEmoji = DefaultReactionEmoji
	}
	if p.ReplyTemplate == "" {
		p.ReplyTemplate = DefaultReplyTemplate
	}
	if p.CatchUpLimitPerChannel <= 0 {
		p.CatchUpLimitPerChannel = DefaultCatchUpLimit
	}
}

// Validate checks that every field is within its documented range. Unlike
// Normalize it rejects instead of correcting; it is used on operator-supplied
// updates where silently changing the value would be surprising.
func (p Policy) Validate() error {
	if p.HashSize < MinHashSize || p.HashSize > MaxHashSize {
		return fmt.Errorf("hash_size must be between %d and %d (got %d)", MinHashSize, MaxHashSize, p.HashSize)
	}
	if p.SimilarityThreshold < 0 || p.SimilarityThreshold > MaxSimilarityThreshold {
		return fmt.Errorf("similarity_threshold must be between 0 and %d (got %d)", MaxSimilarityThreshold, p.SimilarityThreshold)
	}
	if p.Scope != ScopeServer && p.Scope != ScopeChannel {
		return fmt.Errorf("duplicate_scope must be %q or %q (got %q)", ScopeServer, ScopeChannel, p.Scope)
	}
	if p.CheckMode != CheckModeStrict && p.CheckMode != CheckModeOwnerAllowed {
		return fmt.Errorf("duplicate_check_mode must be %q or %q (got %q)", CheckModeStrict, CheckModeOwnerAllowed, p.CheckMode)
	}
	if p.MaxAgeDays < 0 {
		return fmt.Errorf("duplicate_check_duration_days cannot be negative (got %d)", p.MaxAgeDays)
	}
	if p.CatchUpLimitPerChannel <= 0 {
		return fmt.Errorf("catchup_limit_per_channel must be positive (got %d)", p.CatchUpLimitPerChannel)
	}
	if len(p.ReplyTemplate) > 1500 {
		return fmt.Errorf("duplicate_reply_template too long (%d chars, max 1500)", len(p.ReplyTemplate))
	}
	return nil
}

// IsExempt reports whether the author is on the community's exempt list.
func (p Policy) IsExempt(authorID string) bool {
	for _, id := range p.ExemptAuthors {
		if id == authorID {
			return true
		}
	}
	return false
}

// MonitorsChannel reports whether live checking applies to the channel. An
// empty monitored list means every channel is checked.
func (p Policy) MonitorsChannel(channelID string) bool {
	if len(p.MonitoredChannels) == 0 {
		return true
	}
	for _, id := range p.MonitoredChannels {
		if id == channelID {
			return true
		}
	}
	return false
}
