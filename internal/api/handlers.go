package api

import (
	"errors"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/Arrow-air/svc-telemetry/internal/admission"
	"github.com/Arrow-air/svc-telemetry/internal/auth"
	"github.com/Arrow-air/svc-telemetry/internal/backend"
	"github.com/Arrow-air/svc-telemetry/internal/decoder"
	"github.com/Arrow-air/svc-telemetry/internal/dedup"
	"github.com/Arrow-air/svc-telemetry/internal/ingest"
	"github.com/Arrow-air/svc-telemetry/internal/model"
)

const maxIdentifierLen = 256

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func failBody(message string) errorBody { return errorBody{Status: "fail", Message: message} }
func errBody(message string) errorBody  { return errorBody{Status: "error", Message: message} }

// readBody reads at most maxBodyBytes. On failure it has already written
// the response.
func (s *Server) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, failBody("Payload too large."))
			return nil, false
		}
		s.logger.Warn("could not read request body", "request_id", admission.RequestID(c), "error", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, failBody("Could not read request body."))
		return nil, false
	}
	return body, true
}

// handleLogin issues a token for the identifier carried in the body. The
// body is the subject byte for byte. The token is returned as a JSON
// string and also set as a cookie.
func (s *Server) handleLogin(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}

	if !utf8.Valid(body) {
		c.AbortWithStatusJSON(http.StatusBadRequest, failBody("Identifier must be valid UTF-8."))
		return
	}
	identifier := string(body)
	if identifier == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, failBody("Identifier must not be empty."))
		return
	}
	if len(identifier) > maxIdentifierLen {
		c.AbortWithStatusJSON(http.StatusBadRequest, failBody("Identifier too long."))
		return
	}

	token, err := s.tokens.Issue(identifier)
	if err != nil {
		s.logger.Error("could not issue token", "request_id", admission.RequestID(c), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errBody("Could not issue token."))
		return
	}

	s.logger.Info("token issued", "subject", identifier)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookieName, token, int(s.tokens.Lifetime().Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, token)
}

// handleIngest runs the ingestion pipeline for one format. Authenticated
// routes bind the token subject to every decoded record.
func (s *Server) handleIngest(format model.Format) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, ok := s.readBody(c)
		if !ok {
			return
		}

		var subject string
		if claim, ok := auth.ClaimFrom(c); ok {
			subject = claim.Subject
		}

		env := s.pipeline.Envelope(format, body)
		res, err := s.pipeline.Ingest(c.Request.Context(), env, subject)
		if err != nil {
			s.writeIngestError(c, format, err)
			return
		}

		c.JSON(http.StatusOK, res)
	}
}

func (s *Server) writeIngestError(c *gin.Context, format model.Format, err error) {
	id := admission.RequestID(c)
	switch {
	case errors.Is(err, decoder.ErrDecode), errors.Is(err, ingest.ErrUnsupportedFormat):
		c.AbortWithStatusJSON(http.StatusBadRequest, failBody(err.Error()))
	case errors.Is(err, dedup.ErrCacheUnavailable), errors.Is(err, backend.ErrBackendUnavailable):
		s.logger.Error("dependency unavailable", "request_id", id, "format", format, "error", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errBody("Dependencies of svc-telemetry were down."))
	default:
		s.logger.Error("ingest failed", "request_id", id, "format", format, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errBody("Something went wrong."))
	}
}
