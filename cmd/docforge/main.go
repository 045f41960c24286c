package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/docforge/internal/audit"
	"git.home.luguber.info/inful/docforge/internal/classify"
	"git.home.luguber.info/inful/docforge/internal/config"
	"git.home.luguber.info/inful/docforge/internal/coordination"
	"git.home.luguber.info/inful/docforge/internal/docparse"
	"git.home.luguber.info/inful/docforge/internal/generation"
	"git.home.luguber.info/inful/docforge/internal/llm"
	"git.home.luguber.info/inful/docforge/internal/metrics"
	"git.home.luguber.info/inful/docforge/internal/pipeline"
	"git.home.luguber.info/inful/docforge/internal/queue"
	"git.home.luguber.info/inful/docforge/internal/render"
	"git.home.luguber.info/inful/docforge/internal/storage"
	"git.home.luguber.info/inful/docforge/internal/store"
	"git.home.luguber.info/inful/docforge/internal/version"
	"git.home.luguber.info/inful/docforge/internal/versioning"
)

var CLI struct {
	Verbose bool `short:"v" help:"Enable verbose logging"`

	Worker struct {
		MetricsAddr string `help:"Serve Prometheus metrics on this address (empty disables)" default:""`
		Tuning      string `help:"YAML overlay for worker cadence (poll/heartbeat/recovery intervals)"`
	} `cmd:"" help:"Run a job worker processing the generation pipeline"`

	Migrate struct{} `cmd:"" help:"Apply pending database migrations"`

	Upload struct {
		Name string `arg:"" help:"Template name (creates the template on first upload)"`
		File string `arg:"" help:"Path to the template source file"`
		ID   string `help:"Upload a new version of an existing template instead"`
	} `cmd:"" help:"Upload a template source and schedule parsing"`

	NewDoc struct {
		TemplateVersion string `arg:"" help:"Template version id the document is bound to"`
	} `cmd:"" name:"new-doc" help:"Create a document bound to a template version"`

	Generate struct {
		DocumentID      string            `arg:"" help:"Document to generate"`
		TemplateVersion string            `help:"Template version id (defaults to the document's binding)"`
		VersionIntent   int               `help:"Version number to produce (defaults to the document's next)"`
		ClientID        string            `help:"Client identifier frozen into the generation inputs"`
		ClientName      string            `help:"Client name frozen into the generation inputs"`
		Data            map[string]string `help:"Client data fields (key=value,...)"`
		Context         string            `help:"Free-form client context for the model"`
		Force           bool              `help:"Re-assemble even if a sealed assembly exists for the run"`
	} `cmd:"" help:"Schedule a full generation run for a document"`

	Regenerate struct {
		DocumentID    string            `arg:"" help:"Document to regenerate"`
		Sections      []int64           `help:"Only regenerate these section ids, carrying the rest over"`
		Reuse         []int64           `help:"Section ids whose previous content must be reused"`
		VersionIntent int               `help:"Version number to produce (defaults to the document's next)"`
		ClientID      string            `help:"Client identifier frozen into the generation inputs"`
		ClientName    string            `help:"Client name frozen into the generation inputs"`
		Data          map[string]string `help:"Client data fields (key=value,...)"`
		Context       string            `help:"Free-form client context for the model"`
		Force         bool              `help:"Re-assemble even if a sealed assembly exists for the run"`
	} `cmd:"" help:"Schedule a regeneration run for a document"`

	Status struct {
		JobID  string `arg:"" optional:"" help:"Show a single job"`
		Status string `help:"Filter listed jobs by status" enum:"PENDING,RUNNING,COMPLETED,FAILED" default:"PENDING"`
		Limit  int    `help:"Maximum jobs to list" default:"20"`
	} `cmd:"" help:"Show job queue status"`

	Cancel struct {
		JobID string `arg:"" help:"Job to cancel"`
	} `cmd:"" help:"Cancel a pending or running job"`

	Verify struct {
		DocumentID string `arg:"" help:"Document to verify"`
		Version    int    `arg:"" help:"Version number to verify"`
	} `cmd:"" help:"Verify a document version's stored content against its recorded hash"`

	Version struct{} `cmd:"" help:"Show version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if ctx.Command() == "version" {
		fmt.Printf("docforge %s (commit %s, built %s)\n",
			version.Version, version.GitCommit, version.BuildTime)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	var cmdErr error
	switch ctx.Command() {
	case "worker":
		cmdErr = runWorker(cfg, logger)
	case "migrate":
		cmdErr = runMigrate(cfg)
	case "upload <name> <file>":
		cmdErr = runUpload(cfg, logger, CLI.Upload.ID, CLI.Upload.Name, CLI.Upload.File)
	case "new-doc <template-version>":
		cmdErr = runNewDoc(cfg, CLI.NewDoc.TemplateVersion)
	case "generate <document-id>":
		cmdErr = runGenerate(cfg, logger)
	case "regenerate <document-id>":
		cmdErr = runRegenerate(cfg, logger)
	case "status", "status <job-id>":
		cmdErr = runStatus(cfg, CLI.Status.JobID, CLI.Status.Status, CLI.Status.Limit)
	case "cancel <job-id>":
		cmdErr = runCancel(cfg, CLI.Cancel.JobID)
	case "verify <document-id> <version>":
		cmdErr = runVerify(cfg, logger, CLI.Verify.DocumentID, CLI.Verify.Version)
	}
	if cmdErr != nil {
		slog.Error("Command failed", "command", ctx.Command(), "error", cmdErr)
		os.Exit(1)
	}
}

func openDB(cfg *config.Config) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func newNotifier(cfg *config.Config, log *slog.Logger) (queue.Notifier, error) {
	if cfg.NATSURL == "" {
		log.Debug("NATS not configured, workers rely on polling")
		return queue.NoopNotifier{}, nil
	}
	return queue.NewNATSNotifier(cfg.NATSURL)
}

func runMigrate(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.Migrate(db); err != nil {
		return err
	}
	slog.Info("Migrations applied")
	return nil
}

func runWorker(cfg *config.Config, logger *slog.Logger) error {
	if CLI.Worker.Tuning != "" {
		if err := cfg.ApplyWorkerOverlay(CLI.Worker.Tuning); err != nil {
			return err
		}
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	coord, err := coordination.NewStore(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer coord.Close()

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer notifier.Close()

	objects, err := storage.NewFSStore(cfg.StoragePath)
	if err != nil {
		return err
	}

	var rec metrics.Recorder = metrics.NoopRecorder{}
	if CLI.Worker.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		rec = metrics.NewPrometheusRecorder(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			logger.Info("Metrics listener starting", "addr", CLI.Worker.MetricsAddr)
			if err := http.ListenAndServe(CLI.Worker.MetricsAddr, mux); err != nil {
				logger.Error("Metrics listener failed", "error", err)
			}
		}()
	}

	// Without a key the worker still parses and classifies (rules plus the
	// conservative fallback); generation fails per section until one is set.
	var client llm.Client
	if cfg.AnthropicAPIKey != "" {
		anthropic, err := llm.NewAnthropicClient(cfg.AnthropicAPIKey, "")
		if err != nil {
			return err
		}
		client = anthropic
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, running without a model client")
	}

	jobs := store.NewJobRepo(db)
	templates := store.NewTemplateRepo(db)
	sections := store.NewSectionRepo(db)
	documents := store.NewDocumentRepo(db)
	batches := store.NewBatchRepo(db)
	outputs := store.NewOutputRepo(db)
	assembled := store.NewAssembledRepo(db)
	auditor := audit.NewLogger(store.NewAuditRepo(db), logger)

	engine := classify.NewEngine(client, cfg.ConfidenceThreshold, logger)
	classifier := classify.NewService(engine, templates, sections, objects, auditor, logger)
	preparer := generation.NewPreparer(documents, templates, sections, batches, objects, auditor, logger)
	generator := generation.NewGenerator(client, outputs, auditor, logger)
	versions := versioning.NewService(documents, objects, auditor, logger)
	renderer := render.NewReferenceRenderer()

	generate := pipeline.NewGenerateHandler(preparer, generator, templates, sections,
		outputs, assembled, renderer, versions, objects, auditor, rec, logger)

	worker := queue.NewWorker(jobs, coord, notifier, rec, cfg.Worker, logger)
	worker.Register(store.JobTypeParse,
		pipeline.NewParseHandler(docparse.NewJSONParser(), templates, jobs, objects, notifier, auditor, logger))
	worker.Register(store.JobTypeClassify, pipeline.NewClassifyHandler(classifier, logger))
	worker.Register(store.JobTypeGenerate, generate)
	worker.Register(store.JobTypeRegenerate, pipeline.NewRegenerateHandler(generate))
	worker.Register(store.JobTypeRegenerateSections, pipeline.NewRegenerateSectionsHandler(generate))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return worker.Run(ctx)
}

func runUpload(cfg *config.Config, logger *slog.Logger, templateID, name, file string) error {
	source, err := os.ReadFile(filepath.Clean(file))
	if err != nil {
		return fmt.Errorf("read template source: %w", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	objects, err := storage.NewFSStore(cfg.StoragePath)
	if err != nil {
		return err
	}
	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer notifier.Close()

	ctx := context.Background()
	templates := store.NewTemplateRepo(db)
	if templateID == "" {
		templateID, err = templates.Create(ctx, name)
		if err != nil {
			return err
		}
	}

	versions, err := templates.ListVersions(ctx, templateID)
	if err != nil {
		return err
	}
	next := len(versions) + 1
	sourceKey := storage.TemplateSourceKey(templateID, next)
	if err := objects.Put(ctx, sourceKey, source, storage.ContentTypeWordprocessingML); err != nil {
		return fmt.Errorf("store template source: %w", err)
	}
	tv, err := templates.CreateVersion(ctx, templateID, sourceKey)
	if err != nil {
		return err
	}
	if tv.VersionNumber != next {
		logger.Warn("Concurrent upload detected, source key may be stale",
			"expected_version", next, "actual_version", tv.VersionNumber)
	}

	scheduler := queue.NewScheduler(store.NewJobRepo(db), notifier, logger)
	jobID, err := scheduler.Enqueue(ctx, store.JobTypeParse,
		store.JSONMap{"template_version_id": tv.ID})
	if err != nil {
		return err
	}

	fmt.Printf("template:         %s\n", templateID)
	fmt.Printf("template version: %s (v%d)\n", tv.ID, tv.VersionNumber)
	fmt.Printf("parse job:        %s\n", jobID)
	return nil
}

func runNewDoc(cfg *config.Config, templateVersionID string) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := store.NewDocumentRepo(db).Create(context.Background(), templateVersionID)
	if err != nil {
		return err
	}
	fmt.Printf("document: %s\n", id)
	return nil
}

func runGenerate(cfg *config.Config, logger *slog.Logger) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()

	doc, err := store.NewDocumentRepo(db).Get(ctx, CLI.Generate.DocumentID)
	if err != nil {
		return err
	}
	templateVersionID := CLI.Generate.TemplateVersion
	if templateVersionID == "" {
		templateVersionID = doc.TemplateVersionID
	}

	payload := store.JSONMap{
		"document_id":         doc.ID,
		"template_version_id": templateVersionID,
	}
	if CLI.Generate.VersionIntent > 0 {
		payload["version_intent"] = CLI.Generate.VersionIntent
	}
	if cd := clientDataPayload(CLI.Generate.ClientID, CLI.Generate.ClientName, CLI.Generate.Data, CLI.Generate.Context); cd != nil {
		payload["client_data"] = cd
	}
	if CLI.Generate.Force {
		payload["force_reassembly"] = true
	}
	return enqueue(ctx, db, cfg, logger, store.JobTypeGenerate, payload)
}

func runRegenerate(cfg *config.Config, logger *slog.Logger) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()

	doc, err := store.NewDocumentRepo(db).Get(ctx, CLI.Regenerate.DocumentID)
	if err != nil {
		return err
	}
	versionIntent := CLI.Regenerate.VersionIntent
	if versionIntent <= 0 {
		versionIntent = doc.CurrentVersion + 1
	}

	payload := store.JSONMap{
		"document_id":    doc.ID,
		"version_intent": versionIntent,
	}
	if cd := clientDataPayload(CLI.Regenerate.ClientID, CLI.Regenerate.ClientName, CLI.Regenerate.Data, CLI.Regenerate.Context); cd != nil {
		payload["client_data"] = cd
	}
	if CLI.Regenerate.Force {
		payload["force_reassembly"] = true
	}

	jobType := store.JobTypeRegenerate
	if len(CLI.Regenerate.Sections) > 0 {
		jobType = store.JobTypeRegenerateSections
		payload["section_ids"] = CLI.Regenerate.Sections
		if len(CLI.Regenerate.Reuse) > 0 {
			payload["reuse_section_ids"] = CLI.Regenerate.Reuse
		}
	} else if len(CLI.Regenerate.Reuse) > 0 {
		return fmt.Errorf("--reuse requires --sections")
	}
	return enqueue(ctx, db, cfg, logger, jobType, payload)
}

// clientDataPayload shapes the client flags into the payload subdocument, or
// nil when no client flag was given.
func clientDataPayload(id, name string, data map[string]string, context string) store.JSONMap {
	if id == "" && name == "" && len(data) == 0 && context == "" {
		return nil
	}
	fields := make(map[string]any, len(data))
	for k, v := range data {
		fields[k] = v
	}
	return store.JSONMap{
		"client_id":      id,
		"client_name":    name,
		"data_fields":    fields,
		"custom_context": context,
	}
}

func enqueue(ctx context.Context, db *sqlx.DB, cfg *config.Config, logger *slog.Logger, jobType store.JobType, payload store.JSONMap) error {
	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer notifier.Close()

	scheduler := queue.NewScheduler(store.NewJobRepo(db), notifier, logger)
	jobID, err := scheduler.Enqueue(ctx, jobType, payload)
	if err != nil {
		return err
	}
	fmt.Printf("job: %s\n", jobID)
	return nil
}

func runStatus(cfg *config.Config, jobID, status string, limit int) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	jobs := store.NewJobRepo(db)
	ctx := context.Background()

	if jobID != "" {
		job, err := jobs.Get(ctx, jobID)
		if err != nil {
			return err
		}
		printJob(job)
		return nil
	}

	listed, err := jobs.ListRecent(ctx, store.JobStatus(status), limit)
	if err != nil {
		return err
	}
	if len(listed) == 0 {
		fmt.Printf("no %s jobs\n", status)
		return nil
	}
	for i := range listed {
		printJob(&listed[i])
	}
	return nil
}

func printJob(job *store.Job) {
	fmt.Printf("%s  %-20s %-10s created=%s",
		job.ID, job.Type, job.Status, job.CreatedAt.Format(time.RFC3339))
	if job.WorkerID != nil {
		fmt.Printf(" worker=%s", *job.WorkerID)
	}
	if job.Error != nil {
		fmt.Printf(" error=%q", *job.Error)
	}
	fmt.Println()
}

func runCancel(cfg *config.Config, jobID string) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cancelled, err := store.NewJobRepo(db).Cancel(context.Background(), jobID)
	if err != nil {
		return err
	}
	if !cancelled {
		return fmt.Errorf("job %s is already in a terminal state", jobID)
	}
	fmt.Printf("cancelled: %s\n", jobID)
	return nil
}

func runVerify(cfg *config.Config, logger *slog.Logger, documentID string, version int) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	objects, err := storage.NewFSStore(cfg.StoragePath)
	if err != nil {
		return err
	}

	documents := store.NewDocumentRepo(db)
	auditor := audit.NewLogger(store.NewAuditRepo(db), logger)
	report, err := versioning.NewService(documents, objects, auditor, logger).
		Verify(context.Background(), documentID, version)
	if err != nil {
		return err
	}

	fmt.Printf("document:      %s\n", report.DocumentID)
	fmt.Printf("version:       %d\n", report.VersionNumber)
	fmt.Printf("output path:   %s\n", report.OutputPath)
	fmt.Printf("stored hash:   %s\n", report.StoredHash)
	fmt.Printf("computed hash: %s\n", report.ComputedHash)
	if !report.OK {
		return fmt.Errorf("verification failed: %s", report.Detail)
	}
	fmt.Println("ok")
	return nil
}
