package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

// Config carries the Twilio credentials and the externally reachable host
// used in TwiML stream URLs.
type Config struct {
	AccountSID string
	AuthToken  string
	PublicHost string
	Logger     *slog.Logger
}

// AudioPathFactory builds the speech collaborators for one call's media
// stream. The factory wires the stream's inbound PCM into a recognizer and
// hands the stream back as the synthesizer's output sink.
type AudioPathFactory func(stream *MediaStream) (AudioPath, error)

// Service answers Twilio voice webhooks with a bidirectional media stream
// and surfaces each connected call as an Event.
type Service struct {
	config   Config
	client   *twilio.RestClient
	logger   *slog.Logger
	newAudio AudioPathFactory
	events   chan Event
}

func New(config Config, newAudio AudioPathFactory) *Service {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSID,
		Password: config.AuthToken,
	})
	return &Service{
		config:   config,
		client:   client,
		logger:   config.Logger.With("component", "telephony"),
		newAudio: newAudio,
		events:   make(chan Event, 8),
	}
}

// Events delivers call lifecycle notifications. One EventCallAdded is sent
// when a call's media stream connects, one EventCallRemoved when it ends.
func (s *Service) Events() <-chan Event { return s.events }

func (s *Service) RegisterHandlers(e *echo.Echo) {
	e.POST("/twilio/voice", s.handleVoice, s.authMiddleware)
	e.GET("/twilio/media", s.handleMedia)
}

func (s *Service) handleVoice(c echo.Context) error {
	params := c.Get("twilioParams").(map[string]string)

	callSID := params["CallSid"]
	from := params["From"]
	s.logger.Info("incoming call", "call_sid", callSID, "from", from)

	host := s.config.PublicHost
	if host == "" {
		host = c.Request().Host
	}
	stream := &twiml.VoiceStream{Url: fmt.Sprintf("wss://%s/twilio/media", host)}
	stream.InnerElements = []twiml.Element{&twiml.VoiceParameter{Name: "from", Value: from}}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}

	doc, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build response")
	}
	return c.Blob(http.StatusOK, "text/xml", []byte(doc))
}

func (s *Service) handleMedia(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	stream := newMediaStream(conn)
	if err := stream.awaitStart(); err != nil {
		s.logger.Error("media stream never started", "error", err)
		conn.Close()
		return nil
	}

	audio, err := s.newAudio(stream)
	if err != nil {
		s.logger.Error("audio path setup failed", "call_sid", stream.callSID, "error", err)
		conn.Close()
		return nil
	}

	call := &twilioCall{
		sid:   stream.callSID,
		from:  stream.from,
		svc:   s,
		audio: audio,
	}
	s.events <- Event{Kind: EventCallAdded, Call: call}

	stream.readLoop()

	audio.Close()
	conn.Close()
	s.events <- Event{Kind: EventCallRemoved, Call: call}
	return nil
}

func (s *Service) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.config.AuthToken == "" {
			return c.String(http.StatusInternalServerError, "Missing TWILIO_AUTH_TOKEN")
		}

		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.String(http.StatusBadRequest, "Failed to read body")
		}

		formData, err := url.ParseQuery(string(body))
		if err != nil {
			return c.String(http.StatusBadRequest, "Failed to parse form")
		}

		params := make(map[string]string)
		for key, values := range formData {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}

		signature := c.Request().Header.Get("X-Twilio-Signature")
		requestURL := s.buildURL(c.Request(), c.Request().URL.Path)

		if !s.validateSignature(signature, requestURL, params) {
			return c.String(http.StatusUnauthorized, "Invalid signature")
		}

		c.Set("twilioParams", params)
		return next(c)
	}
}

func (s *Service) validateSignature(signature, url string, params map[string]string) bool {
	data := url
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + params[k]
	}

	mac := hmac.New(sha1.New, []byte(s.config.AuthToken))
	mac.Write([]byte(data))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}

func (s *Service) buildURL(r *http.Request, path string) string {
	scheme := "https"
	host := s.config.PublicHost
	if host == "" {
		host = r.Header.Get("X-Forwarded-Host")
	}
	if host == "" {
		host = r.Host
		if strings.Contains(host, "localhost") || strings.Contains(host, "127.0.0.1") {
			scheme = "http"
		}
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

func (s *Service) endCall(callSID string) error {
	params := &twilioApi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := s.client.Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("end call %s: %w", callSID, err)
	}
	return nil
}

type twilioCall struct {
	sid   string
	from  string
	svc   *Service
	audio AudioPath

	hangup sync.Once
}

func (c *twilioCall) ID() string   { return c.sid }
func (c *twilioCall) From() string { return c.from }

// Answer is a no-op: returning the <Connect><Stream> TwiML already picked
// the call up on the Twilio side.
func (c *twilioCall) Answer() error { return nil }

func (c *twilioCall) Hangup() error {
	var err error
	c.hangup.Do(func() {
		err = c.svc.endCall(c.sid)
	})
	return err
}

func (c *twilioCall) Audio() AudioPath { return c.audio }
