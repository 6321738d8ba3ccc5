// Command deepharness-demo wires a complete Harness from flags: a local
// filesystem backend, the full middleware stack, and a scripted stub
// provider standing in for a real model. It exists to show the assembly
// order a real caller would follow — load config, build the backend,
// register tools and skills, compose the pipeline, construct the harness,
// run one session to completion — not to be a production entrypoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rscheiwe/deepharness/internal/config"
	"github.com/rscheiwe/deepharness/internal/fsbackend"
	"github.com/rscheiwe/deepharness/internal/harness"
	"github.com/rscheiwe/deepharness/internal/logging"
	"github.com/rscheiwe/deepharness/internal/middleware"
	"github.com/rscheiwe/deepharness/internal/provider/stub"
	"github.com/rscheiwe/deepharness/internal/skill"
	"github.com/rscheiwe/deepharness/internal/toolkit"

	"go.uber.org/zap"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file; defaults are used when empty")
		workspace  = flag.String("workspace", "./workspace", "directory the filesystem backend is rooted at")
		skillsDir  = flag.String("skills", "", "directory of SKILL.md bundles to load; skipped when empty")
		prompt     = flag.String("prompt", "list the files in the workspace", "user message to run through the session")
		sqliteDSN  = flag.String("sqlite-dsn", "", "optional sqlite DSN; when set, registers the database middleware's execute_sql tool against it")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "deepharness-demo: load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "deepharness-demo: logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	backend, err := fsbackend.NewLocalBackend(*workspace)
	if err != nil {
		logger.Fatal("build filesystem backend", zap.Error(err))
	}

	registry := toolkit.NewInMemoryRegistry()

	skills := skill.NewInMemoryRegistry()
	if *skillsDir != "" {
		if err := skill.LoadDir(*skillsDir, skills); err != nil {
			logger.Fatal("load skills", zap.Error(err))
		}
	}

	pipeline := middleware.NewPipeline()
	pipeline.Use(middleware.NewFilesystem(backend))
	pipeline.Use(middleware.NewSkills(skills))
	pipeline.Use(middleware.NewMemory(backend))
	pipeline.Use(middleware.NewCaching())
	pipeline.Use(middleware.NewSandbox([]string{"echo", "ls", "cat"}, 10*time.Second))
	if *sqliteDSN != "" {
		sqlBackend, err := fsbackend.NewGORMBackend(fsbackend.DriverSQLite, *sqliteDSN)
		if err != nil {
			logger.Fatal("build sqlite database", zap.Error(err))
		}
		pipeline.Use(middleware.NewDatabase(sqlBackend.DB()))
	}
	for _, tool := range pipeline.Tools() {
		if err := registry.Register(tool); err != nil {
			logger.Fatal("register tool", zap.Error(err))
		}
	}

	hcfg := harness.DefaultConfig()
	hcfg.Loop.Model = cfg.Model
	hcfg.Loop.MaxSteps = cfg.Guardrails.MaxSteps
	hcfg.Loop.MaxTokens = int64(cfg.Guardrails.MaxTokens)
	hcfg.Loop.MaxDuration = time.Duration(cfg.Guardrails.MaxWallSeconds) * time.Second
	hcfg.SubagentMaxConc = cfg.Subagents.MaxConcurrent
	hcfg.SubagentMaxDepth = cfg.Subagents.MaxDepth
	hcfg.SubagentMaxTotal = cfg.Subagents.MaxTotalSubagents
	hcfg.SubagentMaxParallel = cfg.Subagents.MaxParallelTasks
	hcfg.Policy = toolkit.Policy{Profile: cfg.Approval.Profile, AskMode: cfg.Approval.AskMode}

	prov := stub.New(
		stub.Turn{ToolCalls: []toolkit.Call{{ID: "demo-1", Name: "list_files", Args: map[string]interface{}{"prefix": "/"}}}},
		stub.Turn{Content: "done"},
	)

	h := harness.New(hcfg, registry, skills, pipeline, backend, prov, logger)
	sess := h.NewSession("demo-session", "You are a helpful coding agent operating on a local workspace.")
	defer h.CloseSession(sess.ID())

	ctx, cancel := context.WithTimeout(context.Background(), hcfg.Loop.MaxDuration)
	defer cancel()

	final, err := sess.Run(ctx, *prompt)
	if err != nil {
		logger.Fatal("session run", zap.Error(err))
	}
	fmt.Println(final.TextContent())
}
