package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// BrandSafetyLevel is how conservative generated content must be.
type BrandSafetyLevel string

const (
	BrandSafetyLow    BrandSafetyLevel = "low"
	BrandSafetyMedium BrandSafetyLevel = "medium"
	BrandSafetyHigh   BrandSafetyLevel = "high"
)

// ServiceOffering describes what the client sells.
type ServiceOffering struct {
	Services       []string `json:"services"`
	PricingTier    string   `json:"pricing_tier,omitempty"`
	DeliveryMethod string   `json:"delivery_method,omitempty"`
	TargetMarket   string   `json:"target_market,omitempty"`
}

// ICPProfile is the client's ideal customer profile.
type ICPProfile struct {
	Industry        string   `json:"industry"`
	CompanySize     string   `json:"company_size,omitempty"`
	PainPoints      []string `json:"pain_points,omitempty"`
	BudgetRange     string   `json:"budget_range,omitempty"`
	DecisionMakers  []string `json:"decision_makers,omitempty"`
	GeographicFocus string   `json:"geographic_focus,omitempty"`
}

// ContentPreferences captures platforms, cadence and tone.
type ContentPreferences struct {
	Platforms        []string `json:"platforms"`
	Frequency        string   `json:"frequency,omitempty"`
	ContentTypes     []string `json:"content_types"`
	Tone             string   `json:"tone,omitempty"`
	TopicsOfInterest []string `json:"topics_of_interest,omitempty"`
	LengthPreference string   `json:"length_preference,omitempty"`
}

// ClientConstraints are compliance and brand-safety limits.
type ClientConstraints struct {
	BannedTopics           []string         `json:"banned_topics,omitempty"`
	ComplianceRequirements []string         `json:"compliance_requirements,omitempty"`
	ComplianceRegion       string           `json:"compliance_region,omitempty"`
	BrandSafetyLevel       BrandSafetyLevel `json:"brand_safety_level,omitempty"`
	ApprovalRequired       bool             `json:"approval_required"`
}

// VoiceExample is a sample of the client's own writing.
type VoiceExample struct {
	Title    string `json:"title,omitempty"`
	Content  string `json:"content"`
	Platform string `json:"platform,omitempty"`
}

// ProofAsset is a testimonial, case study or credential.
type ProofAsset struct {
	AssetType string `json:"asset_type"`
	Title     string `json:"title"`
	Content   string `json:"content,omitempty"`
	Source    string `json:"source,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ClientProfile is the intake record for one client. The pipeline only
// reads it; each run keeps a copy taken when the run was created.
type ClientProfile struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name"`
	Email                string             `json:"email"`
	Company              string             `json:"company,omitempty"`
	Website              string             `json:"website,omitempty"`
	ServiceOffering      ServiceOffering    `json:"service_offering"`
	ICP                  ICPProfile         `json:"icp_profile"`
	PositioningStatement string             `json:"positioning_statement"`
	ContentPreferences   ContentPreferences `json:"content_preferences"`
	Constraints          ClientConstraints  `json:"constraints"`
	VoiceExamples        []VoiceExample     `json:"voice_examples,omitempty"`
	ProofAssets          []ProofAsset       `json:"proof_assets,omitempty"`
	AdditionalNotes      string             `json:"additional_notes,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

const (
	maxVoiceExamples = 10
	maxProofAssets   = 20
)

// Validate checks the intake rules for a profile.
func (p *ClientProfile) Validate() error {
	var problems []string
	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, "name is required")
	}
	if !strings.Contains(p.Email, "@") {
		problems = append(problems, "a valid email is required")
	}
	if n := len(strings.TrimSpace(p.PositioningStatement)); n < 10 || n > 1000 {
		problems = append(problems, "positioning_statement must be 10-1000 characters")
	}
	if len(p.ServiceOffering.Services) == 0 {
		problems = append(problems, "at least one service is required")
	}
	if strings.TrimSpace(p.ICP.Industry) == "" {
		problems = append(problems, "icp_profile.industry is required")
	}
	if len(p.ContentPreferences.Platforms) == 0 {
		problems = append(problems, "at least one platform is required")
	}
	if len(p.ContentPreferences.ContentTypes) == 0 {
		problems = append(problems, "at least one content type is required")
	}
	if len(p.VoiceExamples) > maxVoiceExamples {
		problems = append(problems, fmt.Sprintf("maximum %d voice examples allowed", maxVoiceExamples))
	}
	if len(p.ProofAssets) > maxProofAssets {
		problems = append(problems, fmt.Sprintf("maximum %d proof assets allowed", maxProofAssets))
	}
	if len(problems) > 0 {
		return ErrInvalidRequest(strings.Join(problems, "; "))
	}
	return nil
}

// Clone returns a deep copy.
func (p *ClientProfile) Clone() *ClientProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.ServiceOffering.Services = slices.Clone(p.ServiceOffering.Services)
	c.ICP.PainPoints = slices.Clone(p.ICP.PainPoints)
	c.ICP.DecisionMakers = slices.Clone(p.ICP.DecisionMakers)
	c.ContentPreferences.Platforms = slices.Clone(p.ContentPreferences.Platforms)
	c.ContentPreferences.ContentTypes = slices.Clone(p.ContentPreferences.ContentTypes)
	c.ContentPreferences.TopicsOfInterest = slices.Clone(p.ContentPreferences.TopicsOfInterest)
	c.Constraints.BannedTopics = slices.Clone(p.Constraints.BannedTopics)
	c.Constraints.ComplianceRequirements = slices.Clone(p.Constraints.ComplianceRequirements)
	c.VoiceExamples = slices.Clone(p.VoiceExamples)
	c.ProofAssets = slices.Clone(p.ProofAssets)
	return &c
}
