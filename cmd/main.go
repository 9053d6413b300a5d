package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"multimodal-assistant/internal/config"
	"multimodal-assistant/internal/helper"
	"multimodal-assistant/internal/models"
	"multimodal-assistant/internal/server"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "multimodal-assistant",
		Usage: "Chat assistant over text, audio and images backed by a knowledge base",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to the YAML config file",
				Value: configFilePath,
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the web chat UI",
				Action: serveAction,
			},
			{
				Name:  "ingest",
				Usage: "Add a document to the knowledge base",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "Document to ingest", Required: true},
				},
				Action: ingestAction,
			},
			{
				Name:  "ingest-dir",
				Usage: "Add every matching document under a directory",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Usage: "Directory to walk", Required: true},
				},
				Action: ingestDirAction,
			},
			{
				Name:  "ask",
				Usage: "Ask the knowledge base a question",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "question", Usage: "Question to answer", Required: true},
				},
				Action: askAction,
			},
			{
				Name:  "transcribe",
				Usage: "Transcribe an audio file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "Audio file (wav, mp3, flac)", Required: true},
				},
				Action: transcribeAction,
			},
			{
				Name:  "describe",
				Usage: "Ask the vision model about an image",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "image", Usage: "Image file", Required: true},
					&cli.StringFlag{Name: "caption", Usage: "Question about the image"},
				},
				Action: describeAction,
			},
			{
				Name:  "truncate",
				Usage: "Remove every stored chunk",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "drop", Usage: "Drop the postgres table instead of truncating it"},
				},
				Action: truncateAction,
			},
			{
				Name:   "count",
				Usage:  "Print the number of stored chunks",
				Action: countAction,
			},
			{
				Name:  "export",
				Usage: "Export the local chromem collection to a file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "Output file"},
					&cli.StringFlag{Name: "key", Usage: "Optional 32 byte encryption key"},
				},
				Action: exportAction,
			},
			{
				Name:  "import",
				Usage: "Load a file written by export into the local chromem collection",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Usage: "Input file", Required: true},
					&cli.StringFlag{Name: "key", Usage: "Encryption key used at export"},
				},
				Action: importAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("level", cfg.Log.Level).Msg("Unknown log level, keeping debug")
	}
	return cfg, nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	deps, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	return server.New(deps.assistant, cfg).ListenAndServe(ctx)
}

func ingestAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	k, err := newKnowledge(ctx, cfg)
	if err != nil {
		return err
	}
	defer k.Close()

	n, err := k.rag.Ingest(ctx, cmd.String("file"))
	if err != nil {
		return err
	}
	fmt.Printf("Ingested %d chunks from %s\n", n, cmd.String("file"))
	return nil
}

func ingestDirAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	k, err := newKnowledge(ctx, cfg)
	if err != nil {
		return err
	}
	defer k.Close()

	n, err := k.rag.IngestDirectory(ctx, cmd.String("dir"))
	if err != nil {
		return err
	}
	fmt.Printf("Ingested %d chunks from %s\n", n, cmd.String("dir"))
	return nil
}

func askAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	k, err := newKnowledge(ctx, cfg)
	if err != nil {
		return err
	}
	defer k.Close()

	question := cmd.String("question")
	answer, err := k.rag.Query(ctx, question, nil)
	if err != nil {
		return err
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", question)
	log.Info().Msg("Response: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n", answer)
	return nil
}

func transcribeAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := newSpeechClient(cfg)
	if err != nil {
		return err
	}
	text, err := client.Transcribe(ctx, cmd.String("file"))
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

func describeAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	deps, err := wire(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	fmt.Println(deps.assistant.Chat(ctx, models.ChatRequest{
		Text:  cmd.String("caption"),
		Files: []models.Attachment{{Path: cmd.String("image")}},
	}))
	return nil
}

func truncateAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	k, err := newKnowledge(ctx, cfg)
	if err != nil {
		return err
	}
	defer k.Close()

	if cmd.Bool("drop") {
		if k.pg == nil {
			return fmt.Errorf("--drop needs the %s vector store", config.StorePostgres)
		}
		return k.pg.DropDocuments(ctx)
	}
	return k.rag.Truncate(ctx)
}

func countAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	k, err := newKnowledge(ctx, cfg)
	if err != nil {
		return err
	}
	defer k.Close()

	n, err := k.rag.Count(ctx)
	if err != nil {
		return err
	}
	helper.PrettyPrint(map[string]any{"vector_store": cfg.RAG.VectorStore, "chunks": n})
	return nil
}

func exportAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	k, err := newKnowledge(ctx, cfg)
	if err != nil {
		return err
	}
	defer k.Close()

	if k.chromem == nil {
		return fmt.Errorf("export needs the %s vector store", config.StoreChromem)
	}
	return k.chromem.Export(ctx, cmd.String("file"), cmd.String("key"))
}

func importAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	k, err := newKnowledge(ctx, cfg)
	if err != nil {
		return err
	}
	defer k.Close()

	if k.chromem == nil {
		return fmt.Errorf("import needs the %s vector store", config.StoreChromem)
	}
	if err := k.chromem.Import(ctx, cmd.String("file"), cmd.String("key")); err != nil {
		return err
	}
	n, err := k.rag.Count(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("chunks", n).Msg("Imported collection")
	return nil
}
