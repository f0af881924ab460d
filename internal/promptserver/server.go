// Package promptserver serves a patient script over the prompt HTTP
// protocol.
package promptserver

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jwulff/patientsim/internal/prompt"
	"github.com/jwulff/patientsim/internal/session"
	"github.com/rs/zerolog"
)

// Server walks one script with a shared cursor.
type Server struct {
	script Script
	log    zerolog.Logger

	mu     sync.Mutex
	cursor int
}

// New returns a server positioned at the first entry.
func New(script Script, log zerolog.Logger) *Server {
	return &Server{script: script, log: log}
}

// Next returns the entry at the cursor and advances. Past the end it keeps
// returning the last entry, which carries a null nextPrompt.
func (s *Server) Next() prompt.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.cursor
	if i < len(s.script.Prompts)-1 {
		s.cursor++
	}
	return s.responseAt(i)
}

// Reset rewinds the cursor to the first entry.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = 0
}

func (s *Server) responseAt(i int) prompt.Response {
	e := s.script.Prompts[i]
	p := session.Prompt{
		Content:      strings.TrimSpace(e.Content),
		PromptIndex:  i,
		TotalPrompts: len(s.script.Prompts),
		Prompt:       e.Prompt,
	}
	if i+1 < len(s.script.Prompts) {
		p.NextPrompt = prompt.StringPtr(s.script.Prompts[i+1].Prompt)
	}
	return prompt.FromPrompt(p)
}

// Router builds the gin engine with logging and CORS middleware.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})
	r.GET("/api/send-prompt", s.handleSendPrompt)
	r.POST("/api/reset", s.handleReset)
	return r
}

func (s *Server) handleSendPrompt(c *gin.Context) {
	resp := s.Next()
	s.log.Debug().Int("promptIndex", resp.PromptIndex).Bool("last", resp.NextPrompt == nil).Msg("prompt served")
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReset(c *gin.Context) {
	s.Reset()
	s.log.Info().Msg("script reset")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("dur", time.Since(start)).
			Msg("http")
	}
}
