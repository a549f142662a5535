// Command lmscore trains an n-gram model on a text corpus and scores a file
// or fragments given on the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"lm-go/internal/service/corpus"
	"lm-go/internal/service/ngram"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	var trainPath = flag.String("train", "", "Training corpus, one sentence per line")
	var scorePath = flag.String("score", "", "File to score (default: remaining arguments as lines)")
	var order = flag.Int("order", 3, "Maximum n-gram order")
	var smoothing = flag.String("smoothing", "KN", "Smoothing method (KN, ModKN, WB, AbsDisc, JM, AddK, GT)")
	var noUnknown = flag.Bool("no-unk", false, "Fail on tokens missing from the training vocabulary")
	var noEstimate = flag.Bool("no-estimate", false, "Keep the data-driven default parameters")
	var crossSentence = flag.Bool("cross-sentence", false, "Carry context across lines")
	var stage = flag.String("stage", "", "Stage the scored lines into this file before scoring")
	var trace = flag.Bool("trace", false, "Print per-token log-probabilities for each fragment")
	var windows = flag.Int("windows", 0, "Print the N worst windows of each fragment")
	var verbose = flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if *trainPath == "" {
		fmt.Fprintln(os.Stderr, "usage: lmscore -train corpus.txt [-score file | fragment ...]")
		os.Exit(2)
	}

	cfgZap := zap.NewProductionConfig()
	cfgZap.OutputPaths = []string{"stderr"}
	if *verbose {
		cfgZap.Level.SetLevel(zapcore.DebugLevel)
	} else {
		cfgZap.Level.SetLevel(zapcore.WarnLevel)
	}
	logger, err := cfgZap.Build()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	cfg := ngram.DefaultModelConfig()
	cfg.Order = *order
	cfg.Smoothing = *smoothing
	cfg.UseUnknown = !*noUnknown
	cfg.Estimator.Disabled = *noEstimate

	ctx := context.Background()
	model, err := ngram.Train(ctx, corpus.NewFile(*trainPath), cfg, logger)
	if err != nil {
		fail(err)
	}

	scorer := ngram.NewScorer(ngram.ScoreOptions{
		ShortCorpusThreshold: ngram.DefaultScoreOptions().ShortCorpusThreshold,
		CrossSentence:        *crossSentence,
	}, logger)

	var src corpus.LineSource
	switch {
	case *scorePath != "":
		src = corpus.NewFile(*scorePath)
	case flag.NArg() > 0:
		src = corpus.NewMemory(flag.Args()...)
	default:
		fail(errors.New("nothing to score: pass -score or fragments"))
	}
	if *stage != "" {
		staged, err := corpus.Stage(*stage, src)
		if err != nil {
			fail(err)
		}
		src = staged
	}

	result, err := scorer.Score(ctx, model, nil, src)
	if err != nil {
		fail(err)
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	if err := out.Encode(struct {
		Model ngram.ModelInfo   `json:"model"`
		Score ngram.ScoreResult `json:"score"`
	}{model.Info(), result}); err != nil {
		fail(err)
	}

	if !*trace && *windows <= 0 {
		return
	}
	lines, err := corpus.ReadAll(src)
	if err != nil {
		fail(err)
	}
	for _, line := range lines {
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		if *trace {
			traces, _, err := scorer.Trace(ctx, model, nil, tokens)
			if err != nil {
				fail(err)
			}
			for _, tr := range traces {
				fmt.Printf("%-20s %2d %10.4f\n", tr.Token, tr.ContextLength, tr.Log2Prob)
			}
			fmt.Println()
		}
		if *windows > 0 {
			worst, err := scorer.WorstWindows(ctx, model, nil, tokens, ngram.DefaultWindowSize, *windows)
			if err != nil {
				fail(err)
			}
			for _, w := range worst {
				fmt.Printf("[%d,%d) %.4f  %s\n", w.Start, w.End, w.CrossEntropy, strings.Join(w.Tokens, " "))
			}
			fmt.Println()
		}
	}
}

func fail(err error) {
	var unk *ngram.UnknownTokenError
	if errors.As(err, &unk) {
		fmt.Fprintf(os.Stderr, "lmscore: %v (rerun without -no-unk to map it to <unk>)\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "lmscore: %v\n", err)
	os.Exit(1)
}
