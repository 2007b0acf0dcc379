package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/thread2text/ingest"
	"github.com/brettboylen/thread2text/models"
	"github.com/brettboylen/thread2text/render"
)

const (
	defaultConversionsLimit = 50
	maxConversionsLimit     = 1000
	maxRecordBytes          = 32 << 20
)

// Ledger is the read side of the conversion ledger
type Ledger interface {
	GetRecentConversions(limit int) ([]models.Conversion, error)
	GetConversionsByStatus(status string) ([]models.Conversion, error)
	GetSummary() (*models.Summary, error)
}

// Server serves the render endpoint and the conversion ledger over HTTP
type Server struct {
	ledger   Ledger
	defaults models.Options
	log      *logrus.Logger
	now      func() time.Time
}

// NewServer creates the echo instance with all routes and middleware.
// ledger may be nil, in which case the ledger endpoints return 503.
func NewServer(ledger Ledger, defaults models.Options, maxRequestsPerMinute int, log *logrus.Logger) *echo.Echo {
	s := &Server{
		ledger:   ledger,
		defaults: defaults,
		log:      log,
		now:      time.Now,
	}
	return s.routes(maxRequestsPerMinute)
}

func (s *Server) routes(maxRequestsPerMinute int) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	if maxRequestsPerMinute <= 0 {
		maxRequestsPerMinute = 100
	}
	requestsPerSecond := float64(maxRequestsPerMinute) / 60.0

	rateLimiterConfig := middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(requestsPerSecond),
				Burst:     maxRequestsPerMinute,
				ExpiresIn: 3 * time.Minute,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusForbidden, map[string]string{
				"error": "Unable to identify client",
			})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded, please try again later",
			})
		},
	}
	e.Use(middleware.RateLimiterWithConfig(rateLimiterConfig))

	e.POST("/api/render", s.handleRender)
	e.GET("/api/conversions", s.handleConversions)
	e.GET("/api/summary", s.handleSummary)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	return e
}

// handleRender renders the JSON (or YAML) record in the request body.
// Query parameters indent, urls, timestamps and parsable override the
// server defaults.
func (s *Server) handleRender(c echo.Context) error {
	opts, err := optionsFromQuery(c.QueryParams(), s.defaults)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	format := ingest.FormatJSON
	if mediaType, _, err := mime.ParseMediaType(c.Request().Header.Get(echo.HeaderContentType)); err == nil {
		switch mediaType {
		case "application/yaml", "application/x-yaml", "text/yaml":
			format = ingest.FormatYAML
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRecordBytes+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
	}
	if len(body) > maxRecordBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "record too large"})
	}

	rec, err := ingest.Decode(body, format)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ingest.ErrMalformedRecord) || errors.Is(err, ingest.ErrUnsupportedInput) {
			status = http.StatusUnprocessableEntity
		}
		s.log.WithError(err).Warn("Rejected record")
		return c.JSON(status, map[string]string{"error": err.Error()})
	}

	text, err := render.Render(rec, opts, s.now())
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	s.log.WithFields(logrus.Fields{
		"record_id": rec.RecordID(),
		"bytes":     len(text),
		"parsable":  opts.Parsable,
	}).Debug("Rendered record")

	return c.String(http.StatusOK, text)
}

func (s *Server) handleConversions(c echo.Context) error {
	if s.ledger == nil {
		return ledgerDisabled(c)
	}

	if status := c.QueryParam("status"); status != "" {
		if status != models.StatusOK && status != models.StatusFailed {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("unknown status %q", status),
			})
		}
		conversions, err := s.ledger.GetConversionsByStatus(status)
		if err != nil {
			s.log.WithError(err).Error("Failed to read conversions")
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read conversions"})
		}
		return c.JSON(http.StatusOK, conversions)
	}

	limit, err := queryInt(c.QueryParams(), "limit", defaultConversionsLimit)
	if err != nil || limit < 1 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
	}
	if limit > maxConversionsLimit {
		limit = maxConversionsLimit
	}

	conversions, err := s.ledger.GetRecentConversions(limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to read conversions")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read conversions"})
	}
	return c.JSON(http.StatusOK, conversions)
}

func (s *Server) handleSummary(c echo.Context) error {
	if s.ledger == nil {
		return ledgerDisabled(c)
	}

	summary, err := s.ledger.GetSummary()
	if err != nil {
		s.log.WithError(err).Error("Failed to read summary")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read summary"})
	}
	return c.JSON(http.StatusOK, summary)
}

func ledgerDisabled(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]string{
		"error": "conversion ledger is not configured",
	})
}

// optionsFromQuery applies query parameter overrides to the default options
func optionsFromQuery(query url.Values, defaults models.Options) (models.Options, error) {
	opts := defaults
	var err error

	if opts.IndentWidth, err = queryInt(query, "indent", defaults.IndentWidth); err != nil {
		return opts, err
	}
	if opts.IndentWidth < 0 || opts.IndentWidth > models.MaxIndentWidth {
		return opts, fmt.Errorf("indent must be between 0 and %d", models.MaxIndentWidth)
	}
	if opts.AddURLs, err = queryBool(query, "urls", defaults.AddURLs); err != nil {
		return opts, err
	}
	if opts.AddTimestamps, err = queryBool(query, "timestamps", defaults.AddTimestamps); err != nil {
		return opts, err
	}
	if opts.Parsable, err = queryBool(query, "parsable", defaults.Parsable); err != nil {
		return opts, err
	}

	return opts, nil
}

func queryInt(query url.Values, name string, defaultValue int) (int, error) {
	value := query.Get(name)
	if value == "" {
		return defaultValue, nil
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("query parameter %s must be an integer", name)
	}

	return intValue, nil
}

func queryBool(query url.Values, name string, defaultValue bool) (bool, error) {
	value := query.Get(name)
	if value == "" {
		return defaultValue, nil
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("query parameter %s must be a boolean", name)
	}

	return boolValue, nil
}
