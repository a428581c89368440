package serviceconfig

import "strings"

// predicateSpec is the declarative, YAML-serializable form of a snapshot
// predicate. Exactly the fields that are set are ANDed together; an empty
// spec matches everything, which configDoc.compile rejects at load time.
type predicateSpec struct {
	URLContains     string `yaml:"url_contains,omitempty"`
	TitleContains   string `yaml:"title_contains,omitempty"`
	ContentContains string `yaml:"content_contains,omitempty"`
}

func (s predicateSpec) empty() bool {
	return s.URLContains == "" && s.TitleContains == "" && s.ContentContains == ""
}

func (s predicateSpec) matchSnapshot(url, title, content string) bool {
	if s.URLContains != "" && !strings.Contains(url, s.URLContains) {
		return false
	}
	if s.TitleContains != "" && !strings.Contains(title, s.TitleContains) {
		return false
	}
	if s.ContentContains != "" && !strings.Contains(content, s.ContentContains) {
		return false
	}
	return true
}

// checkpointSpec additionally gates on the tool call being proposed: a
// checkpoint can require a specific tool name (e.g. only gate "click", not
// "take_screenshot") on top of the page-state predicate.
type checkpointSpec struct {
	ToolName string `yaml:"tool_name,omitempty"`
	predicateSpec `yaml:",inline"`
}

// authDetectorSpec names the edge case it reports alongside the page-state
// predicate that triggers it.
type authDetectorSpec struct {
	Kind          string `yaml:"kind"`
	predicateSpec `yaml:",inline"`
}
