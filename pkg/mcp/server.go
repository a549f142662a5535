package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"lm-go/internal/service"
	"lm-go/internal/service/ngram"

	"github.com/gin-gonic/gin"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

type LMServer struct {
	server    *mcp.Server
	lmService *service.LMService
	logger    *zap.Logger
	handler   *mcp.StreamableHTTPHandler
}

type ScoreFragmentParams struct {
	Corpus   string   `json:"corpus" jsonschema:"the corpus whose model scores the fragment"`
	Lines    []string `json:"lines,omitempty" jsonschema:"whitespace-tokenised lines to score"`
	Source   string   `json:"source,omitempty" jsonschema:"source code to lex and score instead of lines"`
	Path     string   `json:"path,omitempty" jsonschema:"file name of the source, used to pick the tokenizer"`
	Language string   `json:"language,omitempty" jsonschema:"language of the source when the path has no known extension"`
}

type WorstWindowsParams struct {
	Corpus   string `json:"corpus" jsonschema:"the corpus whose model scores the code"`
	Source   string `json:"source" jsonschema:"source code to search for unnatural stretches"`
	Path     string `json:"path,omitempty" jsonschema:"file name of the source, used to pick the tokenizer"`
	Language string `json:"language,omitempty" jsonschema:"language of the source when the path has no known extension"`
	Size     int    `json:"size,omitempty" jsonschema:"window length in tokens"`
	Top      int    `json:"top,omitempty" jsonschema:"number of windows to return"`
}

type CorpusStatsParams struct {
	Corpus string `json:"corpus" jsonschema:"the corpus to describe"`
}

func NewLMServer(lmService *service.LMService, logger *zap.Logger) *LMServer {
	server := &LMServer{
		lmService: lmService,
		logger:    logger,
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "Naturalness",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "scoreFragment",
		Description: "Score text or source code against a corpus language model. Returns cross-entropy in bits per token and perplexity; lower means more natural",
	}, server.handleScoreFragment)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "worstWindows",
		Description: "Find the least natural stretches of a piece of source code under a corpus model. Returns token windows ordered by entropy, worst first",
	}, server.handleWorstWindows)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "corpusStats",
		Description: "Describe a corpus: model order, smoothing, parameters, vocabulary size and the entropy distribution of its sources",
	}, server.handleCorpusStats)

	server.handler = mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	server.server = mcpServer
	return server
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(format string, args ...any) *mcp.CallToolResult {
	res := textResult(fmt.Sprintf(format, args...))
	res.IsError = true
	return res
}

func (s *LMServer) handleScoreFragment(ctx context.Context, req *mcp.CallToolRequest, args ScoreFragmentParams) (*mcp.CallToolResult, any, error) {
	s.logger.Info("Handling scoreFragment request", zap.String("corpus", args.Corpus), zap.String("path", args.Path))

	if args.Source != "" {
		analysis, err := s.lmService.AnalyzeSource(ctx, args.Corpus, args.Path, args.Language, []byte(args.Source), 3)
		if err != nil {
			s.logger.Error("Failed to analyze source", zap.String("corpus", args.Corpus), zap.Error(err))
			return errorResult("Failed to analyze source: %v", err), nil, nil
		}
		return textResult(formatAnalysis(analysis)), nil, nil
	}

	result, err := s.lmService.Score(ctx, args.Corpus, args.Lines)
	if err != nil {
		s.logger.Error("Failed to score fragment", zap.String("corpus", args.Corpus), zap.Error(err))
		return errorResult("Failed to score fragment: %v", err), nil, nil
	}
	return textResult(formatScore(args.Corpus, result)), nil, nil
}

func (s *LMServer) handleWorstWindows(ctx context.Context, req *mcp.CallToolRequest, args WorstWindowsParams) (*mcp.CallToolResult, any, error) {
	s.logger.Info("Handling worstWindows request", zap.String("corpus", args.Corpus), zap.String("path", args.Path))

	tokens, _, err := s.lmService.Lex(ctx, args.Path, args.Language, []byte(args.Source))
	if err != nil {
		return errorResult("Failed to lex source: %v", err), nil, nil
	}
	top := args.Top
	if top <= 0 {
		top = 5
	}
	windows, err := s.lmService.WorstWindows(ctx, args.Corpus, tokens, args.Size, top)
	if err != nil {
		s.logger.Error("Failed to score windows", zap.String("corpus", args.Corpus), zap.Error(err))
		return errorResult("Failed to score windows: %v", err), nil, nil
	}
	return textResult(formatWindows(windows)), nil, nil
}

func (s *LMServer) handleCorpusStats(ctx context.Context, req *mcp.CallToolRequest, args CorpusStatsParams) (*mcp.CallToolResult, any, error) {
	s.logger.Info("Handling corpusStats request", zap.String("corpus", args.Corpus))

	stats, err := s.lmService.Stats(ctx, args.Corpus)
	if err != nil {
		s.logger.Error("Failed to get corpus statistics", zap.String("corpus", args.Corpus), zap.Error(err))
		return errorResult("Failed to get corpus statistics: %v", err), nil, nil
	}
	return textResult(formatStats(stats)), nil, nil
}

func formatScore(corpus string, r ngram.ScoreResult) string {
	return fmt.Sprintf("Corpus: %s (model %s)\nTokens: %d (OOV: %d) in %d sentences\nCross-entropy: %.4f bits/token\nPerplexity: %.4f",
		corpus, r.ModelID, r.Tokens, r.OOVs, r.Sentences, r.CrossEntropy, r.Perplexity)
}

func formatAnalysis(a *service.SourceAnalysis) string {
	var b strings.Builder
	b.WriteString(formatScore(a.Corpus, a.Score))
	fmt.Fprintf(&b, "\nZ-score: %.3f (%s)\n%s\n", a.ZScore, a.Interpretation.Level, a.Interpretation.Description)
	if len(a.WorstWindows) > 0 {
		b.WriteString("\n")
		b.WriteString(formatWindows(a.WorstWindows))
	}
	return b.String()
}

func formatWindows(windows []ngram.WindowScore) string {
	if len(windows) == 0 {
		return "No windows."
	}
	var b strings.Builder
	b.WriteString("Least natural windows:\n")
	for i, w := range windows {
		fmt.Fprintf(&b, "%d. tokens %d-%d  %.3f bits/token\n   %s\n", i+1, w.Start, w.End, w.CrossEntropy, strings.Join(w.Tokens, " "))
	}
	return b.String()
}

func formatStats(s *service.CorpusStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Corpus: %s\n", s.Name)
	fmt.Fprintf(&b, "Model: %s, order %d, smoothing %s, vocabulary %d, converged %t\n",
		s.Model.ID, s.Model.Order, s.Model.Smoothing, s.Model.Vocabulary, s.Model.Converged)
	fmt.Fprintf(&b, "Sources: %d, tokens %d, n-gram nodes %d\n", s.Sources, s.TotalTokens, s.Model.Store.TotalNodes)
	fmt.Fprintf(&b, "Entropy: mean %.3f, std %.3f, median %.3f, min %.3f, max %.3f\n",
		s.Entropy.Mean, s.Entropy.StdDev, s.Entropy.Median, s.Entropy.Min, s.Entropy.Max)
	for i, se := range s.MostUnusual {
		if i == 0 {
			b.WriteString("Most unusual sources:\n")
		}
		fmt.Fprintf(&b, "  %s  %.3f bits/token (%d tokens)\n", se.Source, se.CrossEntropy, se.Tokens)
	}
	return b.String()
}

// SetupHTTPRoutes mounts the streamable HTTP transport on router at path.
func (s *LMServer) SetupHTTPRoutes(router *gin.Engine, path string) {
	if path == "" {
		path = "/mcp"
	}
	router.Any(path, gin.WrapH(s.handler))
	s.logger.Info("MCP server mounted", zap.String("path", path))
}

// Handler returns the streamable HTTP handler.
func (s *LMServer) Handler() http.Handler {
	return s.handler
}
