// Package cli implements the recall command tree. Every command gets its
// collaborators through an App built from configuration; there are no
// package-level singletons.
package cli

import (
	"fmt"
	"time"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/scrypster/recall/internal/assembler"
	"github.com/scrypster/recall/internal/backup"
	"github.com/scrypster/recall/internal/chunker"
	"github.com/scrypster/recall/internal/config"
	"github.com/scrypster/recall/internal/engine"
	"github.com/scrypster/recall/internal/extract"
	"github.com/scrypster/recall/internal/llm"
	"github.com/scrypster/recall/internal/retrieval"
	"github.com/scrypster/recall/internal/session"
	"github.com/scrypster/recall/internal/storage"
	chromemstore "github.com/scrypster/recall/internal/storage/chromem"
	"github.com/scrypster/recall/internal/storage/memstore"
	"github.com/scrypster/recall/internal/storage/postgres"
	"github.com/scrypster/recall/internal/summarizer"
	"github.com/scrypster/recall/pkg/types"
)

// DocumentStore is what the CLI needs from the document backend.
type DocumentStore interface {
	storage.VectorStore
	storage.BulkWriter
	storage.Lister
}

// App holds the wired collaborators behind the command tree.
type App struct {
	Config    *config.Config
	Docs      DocumentStore
	Convs     storage.ConversationStore
	Completer llm.Completer
	Extractor *extract.Extractor
	Engine    *engine.Engine
	Sessions  *session.Manager
}

// NewApp wires an App from configuration.
func NewApp(cfg *config.Config) (*App, error) {
	docs, err := buildDocStore(cfg)
	if err != nil {
		return nil, err
	}
	convs := memstore.NewConversationStore()

	completer, err := llm.NewCompleter(completerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("cli: build completion client: %w", err)
	}

	extractor := extract.NewExtractor(0)
	ch := chunker.New(chunkerConfig(cfg), extractor)
	summ := summarizer.New(summarizerConfig(cfg), completer)
	searcher := retrieval.NewSearcher(docs, extractor)

	eng, err := engine.New(ch, summ, searcher, docs, convs)
	if err != nil {
		return nil, err
	}

	sessions, err := buildSessionManager(cfg, completer, extractor)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:    cfg,
		Docs:      docs,
		Convs:     convs,
		Completer: completer,
		Extractor: extractor,
		Engine:    eng,
		Sessions:  sessions,
	}, nil
}

func buildDocStore(cfg *config.Config) (DocumentStore, error) {
	switch cfg.Storage.Engine {
	case "memory":
		return memstore.New(), nil
	case "chromem":
		embedding := chromemgo.NewEmbeddingFuncOllama(cfg.LLM.OllamaModel, cfg.LLM.OllamaURL+"/api")
		store, err := chromemstore.New(embedding)
		if err != nil {
			return nil, fmt.Errorf("cli: build chromem store: %w", err)
		}
		return store, nil
	case "postgres":
		store, err := postgres.New(cfg.Storage.PostgresDSN, cfg.Storage.VectorDimension)
		if err != nil {
			return nil, fmt.Errorf("cli: build postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("cli: unknown storage engine %q", cfg.Storage.Engine)
	}
}

func buildSessionManager(cfg *config.Config, completer llm.Completer, extractor *extract.Extractor) (*session.Manager, error) {
	var store session.ContextStore
	if cfg.Storage.SessionDBPath != "" {
		sqlStore, err := session.NewSQLiteStore(cfg.Storage.SessionDBPath)
		if err != nil {
			return nil, fmt.Errorf("cli: open session store: %w", err)
		}
		store = sqlStore
	} else {
		store = session.NewMemoryStore()
	}

	return session.NewManager(session.Config{
		DecayRatePerDay:        cfg.Session.DecayRatePerDay,
		MinRelevanceThreshold:  cfg.Session.MinRelevanceThreshold,
		MaxContextAgeDays:      cfg.Session.MaxContextAgeDays,
		TopicOverlapThreshold:  cfg.Session.TopicOverlapThreshold,
		MaxRelatedSessions:     cfg.Session.MaxRelatedSessions,
		WelcomeSummaryMaxItems: cfg.Session.WelcomeSummaryMaxItems,
		AutoSaveInterval:       cfg.Session.AutoSaveInterval,
		DecayInterval:          cfg.Session.DecayInterval,
	}, store, completer, extractor)
}

// NewExporter builds a backup exporter over the app's stores.
func (a *App) NewExporter() (*backup.Exporter, error) {
	return backup.NewExporter(a.Docs, a.Convs)
}

// NewImporter builds a backup importer over the app's stores.
func (a *App) NewImporter() (*backup.Importer, error) {
	return backup.NewImporter(a.Docs, a.Convs)
}

// NewScheduler builds the periodic export scheduler from the backup
// configuration. The interval is validated at config load.
func (a *App) NewScheduler() (*backup.Scheduler, error) {
	exporter, err := a.NewExporter()
	if err != nil {
		return nil, err
	}
	interval, err := time.ParseDuration(a.Config.Backup.Interval)
	if err != nil {
		return nil, fmt.Errorf("cli: parse backup interval: %w", err)
	}
	return backup.NewScheduler(exporter, backup.SchedulerConfig{
		ExportDir: a.Config.Backup.ExportDir,
		Interval:  interval,
		Compress:  a.Config.Backup.Compress,
		Retention: backup.RetentionPolicy{
			Hourly:  a.Config.Backup.RetentionHourly,
			Daily:   a.Config.Backup.RetentionDaily,
			Weekly:  a.Config.Backup.RetentionWeekly,
			Monthly: a.Config.Backup.RetentionMonthly,
		},
	})
}

func completerConfig(cfg *config.Config) llm.ClientConfig {
	c := llm.ClientConfig{
		Provider:          cfg.LLM.Provider,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	}
	switch cfg.LLM.Provider {
	case "anthropic":
		c.APIKey = cfg.LLM.AnthropicAPIKey
		c.Model = cfg.LLM.AnthropicModel
	case "ollama":
		c.BaseURL = cfg.LLM.OllamaURL
		c.Model = cfg.LLM.OllamaModel
	}
	return c
}

func chunkerConfig(cfg *config.Config) chunker.Config {
	c := chunker.DefaultConfig()
	if cfg.Chunker.MaxTurnsPerChunk > 0 {
		c.MaxTurnsPerChunk = cfg.Chunker.MaxTurnsPerChunk
	}
	if cfg.Chunker.MinTurnsPerChunk > 0 {
		c.MinTurnsPerChunk = cfg.Chunker.MinTurnsPerChunk
	}
	if cfg.Chunker.TopicChangeThreshold > 0 {
		c.TopicChangeThreshold = cfg.Chunker.TopicChangeThreshold
	}
	if cfg.Chunker.MergeThreshold > 0 {
		c.MergeThreshold = cfg.Chunker.MergeThreshold
	}
	if cfg.Chunker.BaseImportance > 0 {
		c.BaseImportance = cfg.Chunker.BaseImportance
	}
	return c
}

func summarizerConfig(cfg *config.Config) summarizer.Config {
	c := summarizer.DefaultConfig()
	if cfg.Summary.Strategy != "" {
		c.Strategy = summarizer.Strategy(cfg.Summary.Strategy)
	}
	if cfg.Summary.TargetLength > 0 {
		c.TargetLength = cfg.Summary.TargetLength
	}
	if cfg.Summary.FullDetailThreshold > 0 {
		c.FullDetailThreshold = cfg.Summary.FullDetailThreshold
	}
	if cfg.Summary.LightSummaryThreshold > 0 {
		c.LightSummaryThreshold = cfg.Summary.LightSummaryThreshold
	}
	c.EnableLLMSummarization = cfg.Summary.EnableLLM
	return c
}

func retrievalOptions(cfg *config.Config) retrieval.Options {
	opts := retrieval.DefaultOptions()
	if cfg.Retrieval.SemanticWeight > 0 {
		opts.SemanticWeight = cfg.Retrieval.SemanticWeight
	}
	if cfg.Retrieval.ImportanceWeight > 0 {
		opts.ImportanceWeight = cfg.Retrieval.ImportanceWeight
	}
	if cfg.Retrieval.RecencyWeight > 0 {
		opts.RecencyWeight = cfg.Retrieval.RecencyWeight
	}
	if cfg.Retrieval.Limit > 0 {
		opts.Limit = cfg.Retrieval.Limit
	}
	opts.MinScore = cfg.Retrieval.MinScore
	opts.MinImportance = cfg.Retrieval.MinImportance
	opts.BoostByImportance = cfg.Retrieval.BoostByImportance
	opts.BoostByRecency = cfg.Retrieval.BoostByRecency
	return opts
}

func assemblerOptions(cfg *config.Config) assembler.Options {
	opts := assembler.DefaultOptions()
	if cfg.Assembler.MaxLength > 0 {
		opts.MaxLength = cfg.Assembler.MaxLength
	}
	if cfg.Assembler.MaxDocuments > 0 {
		opts.MaxDocuments = cfg.Assembler.MaxDocuments
	}
	if cfg.Assembler.Format != "" {
		opts.Format = assembler.Format(cfg.Assembler.Format)
	}
	opts.IncludeMetadata = cfg.Assembler.IncludeMetadata
	if len(cfg.Assembler.PrioritySourceTypes) > 0 {
		opts.PrioritySourceTypes = opts.PrioritySourceTypes[:0]
		for _, st := range cfg.Assembler.PrioritySourceTypes {
			opts.PrioritySourceTypes = append(opts.PrioritySourceTypes, types.SourceType(st))
		}
	}
	return opts
}
