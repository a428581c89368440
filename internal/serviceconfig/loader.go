package serviceconfig

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/subterminator/mcp-orchestrator/internal/orcherrors"
	"github.com/subterminator/mcp-orchestrator/pkg/orchtypes"
)

//go:embed configs/*.yaml
var bundledConfigs embed.FS

// configDoc mirrors orchtypes.ServiceConfig field-for-field but with
// predicateSpec/checkpointSpec/authDetectorSpec in place of compiled
// closures, so a YAML file can describe a service declaratively.
type configDoc struct {
	Name                 string           `yaml:"name"`
	InitialURL           string           `yaml:"initial_url"`
	GoalTemplate         string           `yaml:"goal_template"`
	SystemPromptAddition string           `yaml:"system_prompt_addition"`
	CheckpointConditions []checkpointSpec `yaml:"checkpoint_conditions"`
	SuccessIndicators    []predicateSpec  `yaml:"success_indicators"`
	FailureIndicators    []predicateSpec  `yaml:"failure_indicators"`
	AuthEdgeCases        []authDetectorSpec `yaml:"auth_edge_case_detectors"`
}

// compile turns a parsed configDoc into an orchtypes.ServiceConfig with live
// predicate closures over its specs.
func (d configDoc) compile() (*orchtypes.ServiceConfig, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("service config missing required field: name")
	}
	if d.InitialURL == "" {
		return nil, fmt.Errorf("service %q missing required field: initial_url", d.Name)
	}
	if d.GoalTemplate == "" {
		return nil, fmt.Errorf("service %q missing required field: goal_template", d.Name)
	}

	cfg := &orchtypes.ServiceConfig{
		Name:                 d.Name,
		InitialURL:           d.InitialURL,
		GoalTemplate:         d.GoalTemplate,
		SystemPromptAddition: d.SystemPromptAddition,
	}

	for i, spec := range d.CheckpointConditions {
		if spec.ToolName == "" && spec.predicateSpec.empty() {
			return nil, fmt.Errorf("service %q: checkpoint_conditions[%d] matches everything", d.Name, i)
		}
		spec := spec
		cfg.CheckpointConditions = append(cfg.CheckpointConditions, func(call orchtypes.ToolCall, snap orchtypes.NormalizedSnapshot) bool {
			if spec.ToolName != "" && call.Name != spec.ToolName {
				return false
			}
			return spec.predicateSpec.matchSnapshot(snap.URL, snap.Title, snap.Content)
		})
	}

	for i, spec := range d.SuccessIndicators {
		if spec.empty() {
			return nil, fmt.Errorf("service %q: success_indicators[%d] matches everything", d.Name, i)
		}
		spec := spec
		cfg.SuccessIndicators = append(cfg.SuccessIndicators, func(snap orchtypes.NormalizedSnapshot) bool {
			return spec.matchSnapshot(snap.URL, snap.Title, snap.Content)
		})
	}

	for i, spec := range d.FailureIndicators {
		if spec.empty() {
			return nil, fmt.Errorf("service %q: failure_indicators[%d] matches everything", d.Name, i)
		}
		spec := spec
		cfg.FailureIndicators = append(cfg.FailureIndicators, func(snap orchtypes.NormalizedSnapshot) bool {
			return spec.matchSnapshot(snap.URL, snap.Title, snap.Content)
		})
	}

	for i, spec := range d.AuthEdgeCases {
		if spec.Kind == "" {
			return nil, fmt.Errorf("service %q: auth_edge_case_detectors[%d] missing kind", d.Name, i)
		}
		if spec.predicateSpec.empty() {
			return nil, fmt.Errorf("service %q: auth_edge_case_detectors[%d] matches everything", d.Name, i)
		}
		spec := spec
		cfg.AuthEdgeCaseDetectors = append(cfg.AuthEdgeCaseDetectors, func(snap orchtypes.NormalizedSnapshot) string {
			if spec.predicateSpec.matchSnapshot(snap.URL, snap.Title, snap.Content) {
				return spec.Kind
			}
			return ""
		})
	}

	return cfg, nil
}

// LoadDir parses every *.yaml file directly under dir in fsys into a
// ServiceConfig. It does not register anything; callers pass the results to
// Registry.Register.
func LoadDir(fsys fs.FS, dir string) ([]*orchtypes.ServiceConfig, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, orcherrors.NewConfigurationError("reading service config directory "+dir, err)
	}

	var configs []*orchtypes.ServiceConfig
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}

		file := path.Join(dir, entry.Name())
		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, orcherrors.NewConfigurationError("reading "+file, err)
		}

		var doc configDoc
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, orcherrors.NewConfigurationError("parsing "+file, err)
		}

		cfg, err := doc.compile()
		if err != nil {
			return nil, orcherrors.NewConfigurationError("compiling "+file, err)
		}
		configs = append(configs, cfg)
	}

	return configs, nil
}

// LoadBuiltins parses the orchestrator's bundled service configs, embedded
// at build time from the configs/ directory.
func LoadBuiltins() ([]*orchtypes.ServiceConfig, error) {
	return LoadDir(bundledConfigs, "configs")
}
