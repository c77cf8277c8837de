package httpcomm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/AnishMulay/chfs/internal/communication"
	"github.com/AnishMulay/chfs/internal/log_service"
)

const (
	messagePath = "/message"
	codeHeader  = "X-Chfs-Code"
)

// envelope is the JSON body of every POST to /message.
type envelope struct {
	From    string          `json:"from"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type HTTPCommunicator struct {
	listenAddress string
	httpServer    *http.Server
	listener      net.Listener
	handler       communication.MessageHandler
	ls            log_service.LogService
	payloads      *communication.PayloadRegistry
	client        *http.Client
	extraRoutes   map[string]http.Handler
	mu            sync.Mutex
}

type Option func(*HTTPCommunicator)

// WithHTTPClient replaces the client used by Send.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPCommunicator) { c.client = client }
}

// WithRoute mounts an additional handler next to /message, e.g. /metrics.
func WithRoute(pattern string, h http.Handler) Option {
	return func(c *HTTPCommunicator) { c.extraRoutes[pattern] = h }
}

func NewHTTPCommunicator(listenAddress string, ls log_service.LogService, opts ...Option) *HTTPCommunicator {
	c := &HTTPCommunicator{
		listenAddress: listenAddress,
		ls:            ls,
		payloads:      communication.NewPayloadRegistry(),
		client:        &http.Client{},
		extraRoutes:   make(map[string]http.Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPCommunicator) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		return c.listener.Addr().String()
	}
	return c.listenAddress
}

func (c *HTTPCommunicator) RegisterPayloadType(msgType string, payloadType reflect.Type) {
	c.payloads.Register(msgType, payloadType)
}

func (c *HTTPCommunicator) Start(handler communication.MessageHandler) error {
	c.ls.Info(log_service.LogEvent{
		Message:  "Starting HTTP communicator",
		Metadata: map[string]any{"address": c.listenAddress},
	})

	c.handler = handler

	mux := http.NewServeMux()
	mux.HandleFunc(messagePath, c.handleHTTPMessage)
	for pattern, h := range c.extraRoutes {
		mux.Handle(pattern, h)
	}

	lis, err := net.Listen("tcp", c.listenAddress)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to listen on address",
			Metadata: map[string]any{"address": c.listenAddress, "error": err.Error()},
		})
		return fmt.Errorf("%w: %v", communication.ErrListenFailed, err)
	}

	c.mu.Lock()
	c.listener = lis
	c.httpServer = &http.Server{Handler: mux}
	srv := c.httpServer
	c.mu.Unlock()

	c.ls.Info(log_service.LogEvent{
		Message:  "HTTP communicator started successfully",
		Metadata: map[string]any{"address": lis.Addr().String()},
	})

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.ls.Error(log_service.LogEvent{
				Message:  "HTTP server error",
				Metadata: map[string]any{"address": c.listenAddress, "error": err.Error()},
			})
		}
	}()

	return nil
}

func (c *HTTPCommunicator) Stop() error {
	c.mu.Lock()
	srv := c.httpServer
	c.httpServer = nil
	c.mu.Unlock()

	c.client.CloseIdleConnections()
	if srv == nil {
		return nil
	}

	c.ls.Info(log_service.LogEvent{
		Message:  "Stopping HTTP communicator",
		Metadata: map[string]any{"address": c.listenAddress},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to stop HTTP server",
			Metadata: map[string]any{"address": c.listenAddress, "error": err.Error()},
		})
		return fmt.Errorf("%w: %v", communication.ErrServerStopFailed, err)
	}

	c.ls.Info(log_service.LogEvent{
		Message:  "HTTP communicator stopped successfully",
		Metadata: map[string]any{"address": c.listenAddress},
	})
	return nil
}

func mapFromHTTPCode(code int) communication.SandCode {
	switch code {
	case http.StatusOK:
		return communication.CodeOK
	case http.StatusBadRequest:
		return communication.CodeBadRequest
	case http.StatusNotFound:
		return communication.CodeNotFound
	case http.StatusServiceUnavailable:
		return communication.CodeUnavailable
	default:
		return communication.CodeInternal
	}
}

func (c *HTTPCommunicator) Send(ctx context.Context, to string, msg communication.Message) (*communication.Response, error) {
	c.ls.Debug(log_service.LogEvent{
		Message:  "Sending HTTP message",
		Metadata: map[string]any{"to": to, "type": msg.Type, "from": msg.From},
	})

	payload, err := communication.EncodePayload(msg.Payload)
	if err != nil {
		return nil, err
	}
	jsonData, err := json.Marshal(envelope{From: msg.From, Type: msg.Type, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", communication.ErrPayloadMarshalFailed, err)
	}

	url := to
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(url, "/")+messagePath, bytes.NewReader(jsonData))
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to create HTTP request",
			Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %v", communication.ErrHTTPRequestCreateFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to send HTTP request",
			Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
		})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", communication.ErrMessageSendFailed, ctxErr)
		}
		return nil, fmt.Errorf("%w: %w: %v", communication.ErrMessageSendFailed, communication.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to read HTTP response",
			Metadata: map[string]any{"to": to, "type": msg.Type, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %v", communication.ErrHTTPResponseReadFailed, err)
	}

	code := mapFromHTTPCode(resp.StatusCode)
	if h := resp.Header.Get(codeHeader); h != "" {
		code = communication.SandCode(h)
	}

	c.ls.Debug(log_service.LogEvent{
		Message:  "HTTP message sent successfully",
		Metadata: map[string]any{"to": to, "type": msg.Type, "status": resp.StatusCode, "code": code},
	})

	return &communication.Response{Code: code, Body: body}, nil
}

func (c *HTTPCommunicator) handleHTTPMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var env envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Invalid JSON in request",
			Metadata: map[string]any{"error": err.Error()},
		})
		writeResponse(w, &communication.Response{Code: communication.CodeBadRequest, Body: []byte(err.Error())})
		return
	}
	if env.Type == "" {
		writeResponse(w, &communication.Response{Code: communication.CodeBadRequest, Body: []byte("missing message type")})
		return
	}
	if c.handler == nil {
		writeResponse(w, &communication.Response{Code: communication.CodeUnavailable, Body: []byte(communication.ErrHandlerNotSet.Error())})
		return
	}

	payload, err := c.payloads.Decode(env.Type, env.Payload)
	if err != nil {
		writeResponse(w, &communication.Response{Code: communication.CodeBadRequest, Body: []byte(err.Error())})
		return
	}

	resp, err := c.handler(r.Context(), communication.Message{From: env.From, Type: env.Type, Payload: payload})
	if err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Message handler failed",
			Metadata: map[string]any{"type": env.Type, "error": err.Error()},
		})
		resp = &communication.Response{Code: communication.CodeInternal, Body: []byte(err.Error())}
	}
	if resp == nil {
		resp = &communication.Response{Code: communication.CodeInternal, Body: []byte(communication.ErrMessageHandlerFailed.Error())}
	}
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp *communication.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set(codeHeader, string(resp.Code))
	w.WriteHeader(httpStatus(resp.Code))
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

func httpStatus(code communication.SandCode) int {
	switch code {
	case communication.CodeOK:
		return http.StatusOK
	case communication.CodeBadRequest, communication.CodeInvalid:
		return http.StatusBadRequest
	case communication.CodeNotFound:
		return http.StatusNotFound
	case communication.CodeAlreadyExists, communication.CodeNotEmpty:
		return http.StatusConflict
	case communication.CodeNotDir, communication.CodeIsDir:
		return http.StatusUnprocessableEntity
	case communication.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var _ communication.Communicator = (*HTTPCommunicator)(nil)
