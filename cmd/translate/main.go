// Package main provides the translation model CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/born-ml/seq2seq/internal/config"
	"github.com/born-ml/seq2seq/internal/train"
	"github.com/born-ml/seq2seq/translate"
)

const version = "v0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "train":
		runTrain(os.Args[2:])
	case "translate":
		runTranslate(os.Args[2:])
	case "init-config":
		runInitConfig(os.Args[2:])
	case "version":
		fmt.Printf("seq2seq %s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("seq2seq - Transformer machine translation")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  train        Train a model (resumes with -preload)")
	fmt.Println("  translate    Translate a sentence with the latest checkpoint")
	fmt.Println("  init-config  Write the default configuration file")
	fmt.Println("  version      Show version")
}

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) config.Config {
	if path == "" {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func runTrain(args []string) {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	datasource := fs.String("data", "", "JSONL corpus (overrides datasource)")
	epochs := fs.Int("epochs", 0, "Number of epochs (overrides num_epochs)")
	batchSize := fs.Int("batch", 0, "Batch size (overrides batch_size)")
	preload := fs.String("preload", "", `Checkpoint to resume: "latest" or an epoch tag (overrides preload)`)
	logEvery := fs.Int("log-every", 100, "Print progress every N steps")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *datasource != "" {
		cfg.Datasource = *datasource
	}
	if *epochs > 0 {
		cfg.NumEpochs = *epochs
	}
	if *batchSize > 0 {
		cfg.BatchSize = *batchSize
	}
	if *preload != "" {
		cfg.Preload = *preload
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Printf("Loading %s (%s -> %s)\n", cfg.Datasource, cfg.LangSrc, cfg.LangTgt)
	data, err := train.Prepare(cfg, func(line string) { fmt.Println(line) })
	if err != nil {
		log.Fatalf("Failed to prepare data: %v", err)
	}
	fmt.Printf("Train: %d pairs, Val: %d pairs\n", data.Train.Len(), data.Val.Len())

	session, err := train.New(cfg, data, train.WithLogEvery(*logEvery))
	if err != nil {
		log.Fatalf("Failed to create training session: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := session.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Printf("Interrupted at step %d; last checkpoint: %s\n", session.GlobalStep(), session.LastCheckpoint())
			return
		}
		log.Fatalf("Training failed: %v", err)
	}
	fmt.Printf("Done. Checkpoint: %s\n", session.LastCheckpoint())
}

func runTranslate(args []string) {
	fs := flag.NewFlagSet("translate", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	checkpoint := fs.String("checkpoint", "", "Checkpoint file (default: latest in model_folder)")
	maxLen := fs.Int("max-len", 0, "Maximum output tokens (default: seq_len)")
	_ = fs.Parse(args)

	text := strings.Join(fs.Args(), " ")
	if text == "" {
		log.Fatalf("Usage: translate [flags] <sentence>")
	}

	model, err := translate.Load(loadConfig(*configPath), translate.Options{
		Checkpoint: *checkpoint,
		MaxLen:     *maxLen,
	})
	if err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}
	res, err := model.Translate(text)
	if err != nil {
		log.Fatalf("Translation failed: %v", err)
	}

	fmt.Printf("%12s%s (epoch %d)\n", "MODEL: ", model.Checkpoint(), model.Epoch())
	fmt.Printf("%12s%s\n", "SOURCE: ", text)
	fmt.Printf("%12s%s\n", "PREDICTED: ", res.Text)
}

func runInitConfig(args []string) {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	out := fs.String("o", "config.yaml", "Output file")
	_ = fs.Parse(args)

	if err := config.Default().Save(*out); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	fmt.Printf("Wrote %s\n", *out)
}
