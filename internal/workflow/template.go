// Package workflow is the stage-execution engine: it loads templates,
// drives each workflow's state machine across its stages, and persists
// enough state to resume across a process restart. It
// generalizes cellorg/internal/config's YAML-glob cell loading and
// cellorg/public/orchestrator's embedded, constructed-once engine shape
// from topology wiring to RFP stage execution.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// OnErrorPolicy names what the engine does when a stage's dispatch fails
// after retries are exhausted.
type OnErrorPolicy string

const (
	OnErrorFailWorkflow OnErrorPolicy = "fail_workflow"
	OnErrorSkipStage    OnErrorPolicy = "skip_stage"
	OnErrorRetryStage   OnErrorPolicy = "retry_stage"
	OnErrorRouteTo      OnErrorPolicy = "route_to"
)

// ApprovalTimeoutPolicy names what happens when a waiting_approval stage's
// timeout elapses with no decision ("on_approval_timeout").
type ApprovalTimeoutPolicy string

const (
	ApprovalTimeoutReject      ApprovalTimeoutPolicy = "reject"
	ApprovalTimeoutAutoApprove ApprovalTimeoutPolicy = "auto_approve"
	ApprovalTimeoutEscalate    ApprovalTimeoutPolicy = "escalate"
)

// Predicate is one clause of a template's auto-selection rule. The
// predicate language is a small fixed set: priority, complexity,
// estimated_value, is_standard_product. Field is evaluated against the
// submitted RFP document; Op is one of "eq", "gte", "lte".
type Predicate struct {
	Field string      `yaml:"field"`
	Op    string      `yaml:"op"`
	Value interface{} `yaml:"value"`
}

// OutputMapping copies one field from a stage's response payload into the
// workflow context under a (possibly different) name.
type OutputMapping struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Stage is one unit of a template ("Workflow template").
type Stage struct {
	Name             string                `yaml:"name"`
	HandlerAgentType string                `yaml:"handler_agent_type"`
	TimeoutMs        int64                 `yaml:"timeout_ms"`
	SkipConditions   []Predicate           `yaml:"skip_conditions"`
	ParallelGroup    string                `yaml:"parallel_group"`
	RequiresApproval bool                  `yaml:"requires_approval"`
	ApproverRoles    []string              `yaml:"approver_roles"`
	OnError          OnErrorPolicy         `yaml:"on_error"`
	RouteTo          string                `yaml:"route_to"`
	ApprovalTimeout  ApprovalTimeoutPolicy `yaml:"approval_timeout_policy"`
	OutputMappings   []OutputMapping       `yaml:"output_mappings"`
}

// Template is a named, ordered collection of stages.
type Template struct {
	TemplateID     string      `yaml:"template_id"`
	Name           string      `yaml:"name"`
	SelectWhen     []Predicate `yaml:"select_when"`
	Stages         []Stage     `yaml:"stages"`
	ResponseBuilds string      `yaml:"response_builder"`
}

// TemplateSet holds every loaded template and picks one by predicate or
// explicit id, hot-reloading from disk when the directory changes. A
// template named "standard" is the default fallback.
type TemplateSet struct {
	mu        sync.RWMutex
	dir       string
	templates map[string]*Template
	log       zerolog.Logger
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
}

// LoadTemplates reads every *.yaml/*.yml file in dir and starts watching
// it for changes, since templates are the one config surface worth
// editing while the process is live.
func LoadTemplates(dir string, log zerolog.Logger) (*TemplateSet, error) {
	ts := &TemplateSet{
		dir:       dir,
		templates: make(map[string]*Template),
		log:       log.With().Str("component", "workflow.templates").Logger(),
		stopCh:    make(chan struct{}),
	}
	if err := ts.reload(); err != nil {
		return nil, err
	}
	if err := ts.watch(); err != nil {
		ts.log.Warn().Err(err).Msg("template hot-reload disabled")
	}
	return ts, nil
}

func (ts *TemplateSet) reload() error {
	entries, err := os.ReadDir(ts.dir)
	if err != nil {
		return fmt.Errorf("workflow: read template dir: %w", err)
	}

	loaded := make(map[string]*Template)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(ts.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("workflow: read template %s: %w", path, err)
		}
		var t Template
		if err := yaml.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("workflow: parse template %s: %w", path, err)
		}
		if t.TemplateID == "" {
			return fmt.Errorf("workflow: template %s missing template_id", path)
		}
		loaded[t.TemplateID] = &t
	}

	ts.mu.Lock()
	ts.templates = loaded
	ts.mu.Unlock()
	ts.log.Info().Int("count", len(loaded)).Msg("templates loaded")
	return nil
}

func (ts *TemplateSet) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(ts.dir); err != nil {
		_ = w.Close()
		return err
	}
	ts.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := ts.reload(); err != nil {
						ts.log.Error().Err(err).Msg("template reload failed")
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				ts.log.Error().Err(err).Msg("template watcher error")
			case <-ts.stopCh:
				return
			}
		}
	}()
	return nil
}

// Close stops the hot-reload watcher.
func (ts *TemplateSet) Close() error {
	close(ts.stopCh)
	if ts.watcher != nil {
		return ts.watcher.Close()
	}
	return nil
}

// Get returns the template for id.
func (ts *TemplateSet) Get(id string) (*Template, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.templates[id]
	return t, ok
}

// Select picks a template for document: explicit templateID if given and
// present, otherwise a template (other than "standard") whose select_when
// predicates all match, falling back to "standard". Templates are scanned
// in map order, so which one is chosen when several match is not defined.
func (ts *TemplateSet) Select(templateID string, document map[string]interface{}) (*Template, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	if templateID != "" {
		t, ok := ts.templates[templateID]
		if !ok {
			return nil, fmt.Errorf("workflow: unknown template %q", templateID)
		}
		return t, nil
	}

	for id, t := range ts.templates {
		if id == "standard" || len(t.SelectWhen) == 0 {
			continue
		}
		if matchAll(t.SelectWhen, document) {
			return t, nil
		}
	}

	if t, ok := ts.templates["standard"]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("workflow: no standard template loaded")
}

// matchAll reports whether every predicate matches document.
func matchAll(predicates []Predicate, document map[string]interface{}) bool {
	for _, p := range predicates {
		if !matchOne(p, document) {
			return false
		}
	}
	return true
}

func matchOne(p Predicate, document map[string]interface{}) bool {
	actual, ok := document[p.Field]
	if !ok {
		return false
	}
	switch p.Op {
	case "eq":
		return fmt.Sprint(actual) == fmt.Sprint(p.Value)
	case "gte":
		af, aok := toFloat(actual)
		pf, pok := toFloat(p.Value)
		return aok && pok && af >= pf
	case "lte":
		af, aok := toFloat(actual)
		pf, pok := toFloat(p.Value)
		return aok && pok && af <= pf
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ShouldSkip evaluates a stage's skip_conditions against the workflow
// context.
func ShouldSkip(stage Stage, context map[string]interface{}) bool {
	for _, p := range stage.SkipConditions {
		if matchOne(p, context) {
			return true
		}
	}
	return false
}

// ParallelGroup returns every stage in t sharing group, in template order.
func ParallelGroup(t *Template, group string) []Stage {
	var out []Stage
	for _, s := range t.Stages {
		if s.ParallelGroup == group {
			out = append(out, s)
		}
	}
	return out
}
