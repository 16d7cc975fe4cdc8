// Package httpserver exposes the assistant over HTTP: a chat endpoint for
// typed input, read-only projections of conversation history and learned
// facts, and health probing. Telephony webhooks register onto the same
// router.
package httpserver

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jmartinsuarez20-lab/Rtsusi/internal/assistant"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/memory"
)

// Conversation is the slice of the assistant engine the HTTP surface
// needs.
type Conversation interface {
	Submit(text string)
	History() []assistant.Message
	Thinking() bool
}

// FactLister lists all remembered facts.
type FactLister interface {
	ListAll(ctx context.Context) []memory.Fact
}

// Registrar attaches extra routes (telephony webhooks) to the router.
type Registrar interface {
	RegisterHandlers(e *echo.Echo)
}

// Config wires the server's collaborators.
type Config struct {
	Conversation Conversation
	Facts        FactLister
	Extra        []Registrar
}

// Server bundles the router and its dependencies.
type Server struct {
	echo *echo.Echo
	conv Conversation
	facts FactLister
}

// New constructs the HTTP server with routes.
func New(cfg Config) *Server {
	s := &Server{
		echo:  newRouter(),
		conv:  cfg.Conversation,
		facts: cfg.Facts,
	}

	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.POST("/chat", s.handleChat)
	s.echo.GET("/chat/history", s.handleHistory)
	s.echo.GET("/memories", s.handleMemories)

	for _, r := range cfg.Extra {
		r.RegisterHandlers(s.echo)
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start blocks serving on addr until Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

type chatRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "text is required"})
	}
	s.conv.Submit(req.Text)
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

type historyMessage struct {
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

type historyResponse struct {
	Thinking bool             `json:"thinking"`
	Messages []historyMessage `json:"messages"`
}

func (s *Server) handleHistory(c echo.Context) error {
	msgs := s.conv.History()
	out := historyResponse{
		Thinking: s.conv.Thinking(),
		Messages: make([]historyMessage, len(msgs)),
	}
	for i, m := range msgs {
		out.Messages[i] = historyMessage{
			Text:      m.Text,
			Author:    m.Author.String(),
			CreatedAt: m.CreatedAt,
		}
	}
	return c.JSON(http.StatusOK, out)
}

type factItem struct {
	ID        int64     `json:"id"`
	Fact      string    `json:"fact"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleMemories(c echo.Context) error {
	facts := s.facts.ListAll(c.Request().Context())
	out := make([]factItem, len(facts))
	for i, f := range facts {
		out[i] = factItem{ID: f.ID, Fact: f.Text, CreatedAt: f.CreatedAt}
	}
	return c.JSON(http.StatusOK, out)
}
