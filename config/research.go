package config

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ResearchType selects the toolset made available to the research agent.
type ResearchType string

const (
	ResearchBasicWeb      ResearchType = "basic_web"
	ResearchAdvancedWeb   ResearchType = "advanced_web"
	ResearchAcademic      ResearchType = "academic"
	ResearchFinancial     ResearchType = "financial"
	ResearchComprehensive ResearchType = "comprehensive"
	ResearchCustom        ResearchType = "custom"
)

// ResearchDepth selects the DepthProfile that shapes dimension/aspect counts
// and per-stage iteration caps.
type ResearchDepth string

const (
	DepthQuick    ResearchDepth = "quick"
	DepthBalanced ResearchDepth = "balanced"
	DepthDeep     ResearchDepth = "deep"
)

// DepthProfile is the canonical (dims, aspects/dim, search cap, iter cap)
// tuple derived from ResearchDepth.
type DepthProfile struct {
	TargetDimensions int `yaml:"targetDimensions"`
	AspectsPerDim    int `yaml:"aspectsPerDim"`
	SearchResultCap  int `yaml:"searchResultCap"`
	AgentMaxIter     int `yaml:"agentMaxIter"`
}

//go:embed depth_profiles.yaml
var depthProfilesYAML []byte

//go:embed toolsets.yaml
var toolsetsYAML []byte

// depthProfiles and toolsets are the depth/type lookup tables, shipped as
// embedded YAML assets (config/depth_profiles.yaml, config/toolsets.yaml)
// rather than Go literals, so operators can audit or fork them without a
// rebuild. Parsed once at package init; a malformed asset is a programmer
// error caught at startup, not a runtime condition callers recover from.
var depthProfiles map[ResearchDepth]DepthProfile
var toolsets map[ResearchType][]string

func init() {
	if err := yaml.Unmarshal(depthProfilesYAML, &depthProfiles); err != nil {
		panic(fmt.Sprintf("config: parse depth_profiles.yaml: %v", err))
	}
	if err := yaml.Unmarshal(toolsetsYAML, &toolsets); err != nil {
		panic(fmt.Sprintf("config: parse toolsets.yaml: %v", err))
	}
}

// ResolveDepthProfile returns the canonical profile for depth, or an error if
// depth is not one of the three known values.
func ResolveDepthProfile(depth ResearchDepth) (DepthProfile, error) {
	profile, ok := depthProfiles[depth]
	if !ok {
		return DepthProfile{}, fmt.Errorf("config: unknown research depth %q", depth)
	}
	return profile, nil
}

// RequiredTools returns the tool names that must be present in the tool
// plane's discovery result before a run of researchType may start.
func RequiredTools(rt ResearchType) []string {
	tools, ok := toolsets[rt]
	if !ok {
		return nil
	}
	out := make([]string, len(tools))
	copy(out, tools)
	return out
}

// ReferenceMaterial is a user- or agent-supplied source consulted before
// dimension planning.
type ReferenceMaterial struct {
	Type      string `json:"type"` // "url" or "pdf"
	Source    string `json:"source"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	KeyPoints []string `json:"keyPoints"`
	Note      string `json:"note"`
}

// ResearchConfig is the per-run configuration supplied by the caller.
type ResearchConfig struct {
	ResearchType       ResearchType        `json:"researchType"`
	ResearchDepth      ResearchDepth       `json:"researchDepth"`
	LLMModel           string              `json:"llmModel"`
	ResearchContext    string              `json:"researchContext"`
	ReferenceMaterials []ReferenceMaterial `json:"referenceMaterials"`
}

// Validate checks that the config names a known research type and a
// research depth that ResolveDepthProfile accepts, for every type.
func (c ResearchConfig) Validate() error {
	if _, ok := toolsets[c.ResearchType]; !ok {
		return fmt.Errorf("config: unknown research type %q", c.ResearchType)
	}
	if _, err := ResolveDepthProfile(c.ResearchDepth); err != nil {
		return err
	}
	return nil
}
