package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"jobmail-hq/governor/pkg/actions"
	"jobmail-hq/governor/pkg/cli"
	"jobmail-hq/governor/pkg/config"
	"jobmail-hq/governor/pkg/evidence"
	"jobmail-hq/governor/pkg/executor"
	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/policy/engine"
	"jobmail-hq/governor/pkg/policy/registry"
	"jobmail-hq/governor/pkg/telemetry/logging"
)

// builtinActions are accepted by local validation whether or not their
// executor is configured on this machine.
var builtinActions = []string{
	executor.ActionArchive, executor.ActionLabel, executor.ActionQuarantine,
	executor.ActionUnsubscribe, executor.ActionNotify, executor.ActionWebhook,
}

// sandbox is an in-memory registry and action service for checking bundle
// documents without a server. Nothing is persisted or executed.
type sandbox struct {
	reg *registry.Registry
	svc *actions.Service
}

func newSandbox(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sandbox, error) {
	eng, err := engine.New(&engine.EngineConfig{DefaultScorer: cfg.Engine.DefaultScorer, Logger: logger})
	if err != nil {
		return nil, err
	}
	recorder := evidence.NewRecorder(evidence.NewMemoryStorage(), nil, logger)
	reg, err := registry.New(ctx, registry.Config{
		Store:             registry.NewMemoryStore(),
		Recorder:          recorder,
		Logger:            logger,
		MaxConditionDepth: cfg.Engine.MaxConditionDepth,
		KnownActionType:   func(t string) bool { return slices.Contains(builtinActions, t) },
		KnownScorer:       eng.HasScorer,
	})
	if err != nil {
		return nil, err
	}
	svc, err := actions.NewService(actions.ServiceConfig{
		Store:      actions.NewMemoryStore(),
		Router:     reg,
		Evaluator:  eng,
		Dispatcher: executor.NewDispatcher(executor.NewRegistry(), executor.NewMemoryLedger(), executor.DispatcherConfig{Logger: logger}),
		Recorder:   recorder,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return &sandbox{reg: reg, svc: svc}, nil
}

// load validates doc by creating it as a draft.
func (s *sandbox) load(ctx context.Context, doc *policy.Document) (*policy.Bundle, error) {
	return s.reg.CreateDraft(ctx, registry.DraftRequest{
		Version:  doc.Version,
		Policies: doc.Policies,
		Actor:    "cli",
		Source:   "local",
	})
}

// localConfig loads the configuration for local commands.
func localConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(configPath())
	if err != nil {
		return nil, cli.NewConfigError(cfgFile, err.Error())
	}
	return cfg, nil
}

// localLogger is quiet unless --verbose.
func localLogger() *slog.Logger {
	if !verbose {
		return logging.Discard()
	}
	l, err := logging.New(logging.Config{Level: "debug", Format: "text"})
	if err != nil {
		return logging.Discard()
	}
	return l
}

func readDocument(path string) (*policy.Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-named file
	if err != nil {
		return nil, err
	}
	return policy.ParseDocument(data)
}

// testSuite is the test case file format:
//
//	tests:
//	  - name: expired promotion is archived
//	    context:
//	      category: promotions
//	      expires_at: 2025-01-01T00:00:00Z
//	    expect:
//	      policy: archive-expired-promos
//	      action: archive
//	  - name: newsletters are left alone
//	    context: {category: newsletters}
//	    expect: {matched: false}
//
// A bare list of contexts is accepted too; its cases have no expectations.
type testSuite struct {
	Tests []testCase `yaml:"tests"`
}

type testCase struct {
	Name    string         `yaml:"name"`
	Context map[string]any `yaml:"context"`
	Expect  *expectation   `yaml:"expect"`
}

type expectation struct {
	Matched *bool   `yaml:"matched"`
	Policy  string  `yaml:"policy"`
	Action  string  `yaml:"action"`
	MinConf float64 `yaml:"min_confidence"`
}

func readSuite(path string) (*testSuite, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-named file
	if err != nil {
		return nil, err
	}

	var suite testSuite
	if err := yaml.Unmarshal(data, &suite); err == nil && len(suite.Tests) > 0 {
		for i := range suite.Tests {
			if suite.Tests[i].Name == "" {
				suite.Tests[i].Name = fmt.Sprintf("#%d", i)
			}
		}
		return &suite, nil
	}

	var contexts []map[string]any
	if err := yaml.Unmarshal(data, &contexts); err != nil {
		return nil, fmt.Errorf("%s: want a list of contexts or a tests: list: %w", path, err)
	}
	if len(contexts) == 0 {
		return nil, fmt.Errorf("%s: no test cases", path)
	}
	for i, c := range contexts {
		suite.Tests = append(suite.Tests, testCase{Name: fmt.Sprintf("#%d", i), Context: c})
	}
	return &suite, nil
}

func (s *testSuite) contexts() []engine.Context {
	out := make([]engine.Context, len(s.Tests))
	for i, tc := range s.Tests {
		out[i] = engine.ContextFromMap(tc.Context)
	}
	return out
}

func readContexts(path string) ([]engine.Context, error) {
	suite, err := readSuite(path)
	if err != nil {
		return nil, err
	}
	return suite.contexts(), nil
}

// check compares a dry-run result with the expectation. An empty string
// means the case passed.
func (e *expectation) check(r actions.TestResult) string {
	matched := e.Policy != "" || e.Action != ""
	if e.Matched != nil {
		matched = *e.Matched
	}
	switch {
	case matched != r.Matched:
		if r.Matched {
			return fmt.Sprintf("expected no match, %s matched", r.PolicyID)
		}
		return "expected a match, nothing matched"
	case e.Policy != "" && e.Policy != r.PolicyID:
		return fmt.Sprintf("expected policy %s, got %s", e.Policy, r.PolicyID)
	case e.Action != "" && e.Action != r.ActionType:
		return fmt.Sprintf("expected action %s, got %s", e.Action, r.ActionType)
	case r.Matched && r.Confidence < e.MinConf:
		return fmt.Sprintf("expected confidence >= %.2f, got %.2f", e.MinConf, r.Confidence)
	}
	return ""
}
