package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	MediaText  = "text"
	MediaVideo = "video"
	MediaAudio = "audio"
	MediaImage = "image"
)

const (
	ParseGeneric      = "generic"
	ParseStructured   = "structured"
	ParseJSON         = "json"
	ParseSocialMedia  = "social_media"
	ParseVideoScript  = "video_script"
	ParsePrayerPoints = "prayer_points"
)

const (
	OnParseErrorAbort = "abort"
	OnParseErrorSkip  = "skip"
)

// PromptTemplate is one step of an account's generation chain.
type PromptTemplate struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	AccountID        snowflake.ID  `gorm:"not null;index;index:ix_templates_account_active,priority:1" json:"account_id"`
	Name             string        `gorm:"type:text;not null" json:"name"`
	Category         string        `gorm:"type:text;not null" json:"category"`
	MediaType        string        `gorm:"type:text;not null" json:"media_type"`
	ParsingMethod    string        `gorm:"type:text;not null" json:"parsing_method"`
	OnParseError     string        `gorm:"type:text;not null;default:'abort'" json:"on_parse_error"`
	CurrentVersionID *snowflake.ID `json:"current_version_id,omitempty"`
	ExecutionOrder   int           `gorm:"not null;default:0" json:"execution_order"`
	IsActive         bool          `gorm:"not null;default:true;index:ix_templates_account_active,priority:2" json:"is_active"`
	CreatedAt        time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null" json:"updated_at"`
}

func (PromptTemplate) TableName() string { return "prompt_templates" }

func (t PromptTemplate) OwnerAccountID() snowflake.ID { return t.AccountID }

// PromptTemplateVersion is an immutable prompt body. Generations keep a
// reference to the version they used.
type PromptTemplateVersion struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID     snowflake.ID      `gorm:"not null;index" json:"account_id"`
	TemplateID    snowflake.ID      `gorm:"not null;uniqueIndex:ux_template_version,priority:1" json:"template_id"`
	VersionNumber int               `gorm:"not null;uniqueIndex:ux_template_version,priority:2" json:"version_number"`
	PromptContent string            `gorm:"type:text;not null" json:"prompt_content"`
	SystemMessage *string           `gorm:"type:text" json:"system_message,omitempty"`
	Parameters    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"parameters"`
	Notes         *string           `gorm:"type:text" json:"notes,omitempty"`
	CreatedBy     string            `gorm:"type:text;not null;default:''" json:"created_by"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
}

func (PromptTemplateVersion) TableName() string { return "prompt_template_versions" }

func (v PromptTemplateVersion) OwnerAccountID() snowflake.ID { return v.AccountID }

// ChainStep is a template bound to the version that will render it.
type ChainStep struct {
	Template PromptTemplate        `json:"template"`
	Version  PromptTemplateVersion `json:"version"`
}

// MaxOutputTokens reads the maxOutputTokens parameter, falling back to def.
func (v PromptTemplateVersion) MaxOutputTokens(def int32) int32 {
	switch n := v.Parameters["maxOutputTokens"].(type) {
	case float64:
		if n > 0 {
			return int32(n)
		}
	case int:
		if n > 0 {
			return int32(n)
		}
	case int64:
		if n > 0 {
			return int32(n)
		}
	}
	return def
}

// Sections lists the declared headers for the structured parser.
func (v PromptTemplateVersion) Sections() []string {
	raw, ok := v.Parameters["sections"].([]any)
	if !ok {
		if list, ok := v.Parameters["sections"].([]string); ok {
			return list
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func IsMediaType(v string) bool {
	switch v {
	case MediaText, MediaVideo, MediaAudio, MediaImage:
		return true
	}
	return false
}

func IsParsingMethod(v string) bool {
	switch v {
	case ParseGeneric, ParseStructured, ParseJSON, ParseSocialMedia, ParseVideoScript, ParsePrayerPoints:
		return true
	}
	return false
}
