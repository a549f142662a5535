package controller

import (
	"errors"
	"net/http"

	"lm-go/internal/service"
	"lm-go/internal/service/ngram"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CorpusController struct {
	lmService *service.LMService
	logger    *zap.Logger
}

func NewCorpusController(lmService *service.LMService, logger *zap.Logger) *CorpusController {
	return &CorpusController{
		lmService: lmService,
		logger:    logger,
	}
}

type CreateCorpusRequest struct {
	Name     string `json:"name" binding:"required"`
	Language string `json:"language"`
}

type AppendLinesRequest struct {
	Lines []string `json:"lines" binding:"required"`
}

type AddSourceRequest struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Directory string `json:"directory"`
}

type ScoreRequest struct {
	Lines []string `json:"lines"`
	// Source code is lexed with the corpus tokenizer instead of split on
	// whitespace.
	Source   string `json:"source"`
	Path     string `json:"path"`
	Language string `json:"language"`
	Windows  int    `json:"windows"`
}

type WindowsRequest struct {
	Tokens   []string `json:"tokens"`
	Source   string   `json:"source"`
	Path     string   `json:"path"`
	Language string   `json:"language"`
	Size     int      `json:"size"`
	Top      int      `json:"top"`
}

// respondError maps service and model errors onto HTTP status codes.
func (cc *CorpusController) respondError(c *gin.Context, message string, err error) {
	status := http.StatusInternalServerError
	var cfgErr *ngram.ConfigurationError
	var unkErr *ngram.UnknownTokenError
	switch {
	case errors.Is(err, service.ErrCorpusNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidCorpusName),
		errors.Is(err, service.ErrUnsupportedLanguage),
		errors.Is(err, ngram.ErrEmptyInput):
		status = http.StatusBadRequest
	case errors.As(err, &cfgErr), errors.As(err, &unkErr):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		cc.logger.Error(message, zap.String("path", c.Request.URL.Path), zap.Error(err))
	} else {
		cc.logger.Info(message, zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

func (cc *CorpusController) badRequest(c *gin.Context, err error) {
	cc.logger.Error("Invalid request payload", zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request payload",
		"details": err.Error(),
	})
}

func (cc *CorpusController) ListCorpora(c *gin.Context) {
	infos, err := cc.lmService.ListCorpora(c.Request.Context())
	if err != nil {
		cc.respondError(c, "Failed to list corpora", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"corpora": infos})
}

func (cc *CorpusController) CreateCorpus(c *gin.Context) {
	var request CreateCorpusRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		cc.badRequest(c, err)
		return
	}

	if err := cc.lmService.CreateCorpus(c.Request.Context(), request.Name, request.Language); err != nil {
		cc.respondError(c, "Failed to create corpus", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": request.Name, "language": request.Language})
}

func (cc *CorpusController) DeleteCorpus(c *gin.Context) {
	name := c.Param("name")
	if err := cc.lmService.DeleteCorpus(c.Request.Context(), name); err != nil {
		cc.respondError(c, "Failed to delete corpus", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (cc *CorpusController) AppendLines(c *gin.Context) {
	var request AppendLinesRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		cc.badRequest(c, err)
		return
	}

	name := c.Param("name")
	n, err := cc.lmService.AppendLines(c.Request.Context(), name, request.Lines)
	if err != nil {
		cc.respondError(c, "Failed to append lines", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"corpus": name, "lines_added": n})
}

func (cc *CorpusController) AddSources(c *gin.Context) {
	var request AddSourceRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		cc.badRequest(c, err)
		return
	}

	name := c.Param("name")
	ctx := c.Request.Context()
	if request.Directory != "" {
		files, err := cc.lmService.IngestDirectory(ctx, name, request.Directory)
		if err != nil {
			cc.respondError(c, "Failed to ingest directory", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"corpus": name, "files_added": files})
		return
	}

	if request.Path == "" {
		cc.badRequest(c, errors.New("either directory or path with content is required"))
		return
	}
	tokens, err := cc.lmService.AddSource(ctx, name, request.Path, []byte(request.Content))
	if err != nil {
		cc.respondError(c, "Failed to add source", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"corpus": name, "path": request.Path, "tokens_added": tokens})
}

func (cc *CorpusController) Score(c *gin.Context) {
	var request ScoreRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		cc.badRequest(c, err)
		return
	}

	name := c.Param("name")
	ctx := c.Request.Context()
	if request.Source != "" {
		analysis, err := cc.lmService.AnalyzeSource(ctx, name, request.Path, request.Language, []byte(request.Source), request.Windows)
		if err != nil {
			cc.respondError(c, "Failed to analyze source", err)
			return
		}
		c.JSON(http.StatusOK, analysis)
		return
	}

	result, err := cc.lmService.Score(ctx, name, request.Lines)
	if err != nil {
		cc.respondError(c, "Failed to score fragment", err)
		return
	}
	cc.logger.Debug("Scored fragment",
		zap.String("corpus", name),
		zap.Int("tokens", result.Tokens),
		zap.Float64("cross_entropy", result.CrossEntropy))
	c.JSON(http.StatusOK, result)
}

func (cc *CorpusController) Windows(c *gin.Context) {
	var request WindowsRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		cc.badRequest(c, err)
		return
	}

	name := c.Param("name")
	ctx := c.Request.Context()
	tokens := request.Tokens
	if request.Source != "" {
		var err error
		tokens, _, err = cc.lmService.Lex(ctx, request.Path, request.Language, []byte(request.Source))
		if err != nil {
			cc.respondError(c, "Failed to lex source", err)
			return
		}
	}

	windows, err := cc.lmService.WorstWindows(ctx, name, tokens, request.Size, request.Top)
	if err != nil {
		cc.respondError(c, "Failed to score windows", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"corpus": name, "windows": windows})
}

func (cc *CorpusController) Estimate(c *gin.Context) {
	name := c.Param("name")
	info, err := cc.lmService.Estimate(c.Request.Context(), name)
	if err != nil {
		cc.respondError(c, "Failed to estimate parameters", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (cc *CorpusController) Stats(c *gin.Context) {
	name := c.Param("name")
	stats, err := cc.lmService.Stats(c.Request.Context(), name)
	if err != nil {
		cc.respondError(c, "Failed to get corpus statistics", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
