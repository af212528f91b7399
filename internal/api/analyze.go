package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/middleware"
	"github.com/pageza/foodlens/backend/internal/pipeline"
)

// AnalyzeRequest is the JSON form of an analyze call
type AnalyzeRequest struct {
	ImageURL string `json:"image_url"`
	Locale   string `json:"locale"`
}

// AnalyzeHandler serves image analysis
type AnalyzeHandler struct {
	analyzer Analyzer
	limiter  *middleware.RateLimiter
	maxBytes int64
}

func NewAnalyzeHandler(analyzer Analyzer, limiter *middleware.RateLimiter, maxBytes int64) *AnalyzeHandler {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &AnalyzeHandler{analyzer: analyzer, limiter: limiter, maxBytes: maxBytes}
}

func (h *AnalyzeHandler) RegisterRoutes(router *gin.RouterGroup) {
	handlers := []gin.HandlerFunc{}
	if h.limiter != nil {
		handlers = append(handlers, h.limiter.RateLimitMiddleware())
	}
	router.POST("/analyze", append(handlers, h.Analyze)...)
}

// Analyze accepts a multipart "file" upload or a JSON image_url
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	var in pipeline.Input

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		// Leave room for the other form fields.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)

		fh, err := formFile(c, "file", "image")
		if err != nil && err != http.ErrMissingFile {
			middleware.Abort(c, apperr.Wrap(apperr.KindInvalidImage, "failed to read the upload", err))
			return
		}
		if fh != nil {
			data, err := h.readUpload(fh)
			if err != nil {
				middleware.Abort(c, err)
				return
			}
			in.Image = data
		}
		in.ImageURL = c.PostForm("image_url")
		in.Locale = c.PostForm("locale")
	} else {
		var req AnalyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.Abort(c, apperr.Wrap(apperr.KindInvalidImage, "invalid request body", err))
			return
		}
		in.ImageURL = req.ImageURL
		in.Locale = req.Locale
	}
	if in.Locale == "" {
		in.Locale = c.Query("locale")
	}

	out, err := h.analyzer.Analyze(c.Request.Context(), in)
	if err != nil {
		middleware.Abort(c, err)
		return
	}

	cacheStatus := "MISS"
	if out.CacheHit {
		cacheStatus = "HIT"
	}
	c.Header("X-Cache", cacheStatus)
	c.Header("X-Fingerprint", out.Fingerprint)
	c.JSON(http.StatusOK, out.Result)
}

func (h *AnalyzeHandler) readUpload(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > h.maxBytes {
		return nil, apperr.New(apperr.KindInvalidImage, "the image is too large")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidImage, "failed to read the upload", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidImage, "failed to read the upload", err)
	}
	if int64(len(data)) > h.maxBytes {
		return nil, apperr.New(apperr.KindInvalidImage, "the image is too large")
	}
	return data, nil
}

// formFile returns the first present file field
func formFile(c *gin.Context, names ...string) (*multipart.FileHeader, error) {
	var err error
	for _, name := range names {
		var fh *multipart.FileHeader
		fh, err = c.FormFile(name)
		if err == nil {
			return fh, nil
		}
		if err != http.ErrMissingFile {
			return nil, err
		}
	}
	return nil, err
}
