// Package testapi serves canned HTTP replies for exercising the completion
// client without a real provider. Routes are matched by method and exact
// path; each route cycles through its replies according to its mode.
package testapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	ModeFirst      = "first"
	ModeRoundRobin = "round-robin"
	ModeSequential = "sequential"

	ChatCompletionsPath = "/chat/completions"
)

type Config struct {
	DefaultHeaders map[string]string `json:"defaultHeaders,omitempty"`
	Routes         []Route           `json:"routes"`
}

type Route struct {
	Method    string  `json:"method"`         // default POST
	Path      string  `json:"path"`           // exact path, e.g. /chat/completions
	Mode      string  `json:"mode,omitempty"` // first|round-robin|sequential, default first
	Responses []Reply `json:"responses"`
}

type Reply struct {
	Status      int               `json:"status,omitempty"` // default 200
	Headers     map[string]string `json:"headers,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Body        json.RawMessage   `json:"body,omitempty"` // sent verbatim
	Text        string            `json:"text,omitempty"` // used when Body is empty
	DelayMs     int               `json:"delayMs,omitempty"`
}

// Recorded is one request seen by the server.
type Recorded struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

type compiledRoute struct {
	mode    string
	replies []Reply
	mu      sync.Mutex
	cursor  int
}

type Server struct {
	routes map[string]*compiledRoute // key: METHOD␟PATH
	defHdr map[string]string

	mu       sync.Mutex
	recorded []Recorded
}

func key(method, path string) string { return strings.ToUpper(method) + "\x1f" + path }

// LoadConfig reads a JSON route file.
func LoadConfig(fp string) (Config, error) {
	b, err := os.ReadFile(fp)
	if err != nil {
		return Config{}, err
	}

	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("config parse error: %w", err)
	}

	return c, nil
}

// New validates the routes and builds the handler.
func New(c Config) (*Server, error) {
	if len(c.Routes) == 0 {
		return nil, errors.New("no routes defined")
	}

	rmap := make(map[string]*compiledRoute, len(c.Routes))

	for _, r := range c.Routes {
		method := strings.ToUpper(strings.TrimSpace(r.Method))
		if method == "" {
			method = http.MethodPost
		}

		if r.Path == "" {
			return nil, fmt.Errorf("route with empty path")
		}

		if len(r.Responses) == 0 {
			return nil, fmt.Errorf("route %s %s has no responses", method, r.Path)
		}

		mode := strings.ToLower(strings.TrimSpace(r.Mode))
		switch mode {
		case "":
			mode = ModeFirst
		case ModeFirst, ModeRoundRobin, ModeSequential:
		default:
			return nil, fmt.Errorf("route %s %s: unsupported mode %q", method, r.Path, r.Mode)
		}

		k := key(method, r.Path)
		if _, exists := rmap[k]; exists {
			return nil, fmt.Errorf("duplicate route %s %s", method, r.Path)
		}

		rmap[k] = &compiledRoute{mode: mode, replies: r.Responses}
	}

	return &Server{routes: rmap, defHdr: c.DefaultHeaders}, nil
}

// ChatReply builds a 200 reply shaped like an OpenAI chat completion.
func ChatReply(content, finishReason string) Reply {
	if finishReason == "" {
		finishReason = "stop"
	}

	body, _ := json.Marshal(map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": finishReason,
		}},
	})

	return Reply{Body: body}
}

// Chat is a single-route config for the chat completions path.
func Chat(mode string, replies ...Reply) Config {
	return Config{Routes: []Route{{
		Method:    http.MethodPost,
		Path:      ChatCompletionsPath,
		Mode:      mode,
		Responses: replies,
	}}}
}

// Requests returns a copy of everything received so far.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Recorded, len(s.recorded))
	copy(out, s.recorded)

	return out
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/__health" && r.Method == http.MethodGet {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))

		return
	}

	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.recorded = append(s.recorded, Recorded{
		Method: r.Method,
		Path:   r.URL.Path,
		Header: r.Header.Clone(),
		Body:   body,
	})
	s.mu.Unlock()

	cr, ok := s.routes[key(r.Method, r.URL.Path)]
	if !ok {
		http.NotFound(w, r)

		return
	}

	resp := cr.pick()

	if d := resp.DelayMs; d > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), time.Duration(d)*time.Millisecond)
		defer cancel()

		<-ctx.Done()

		if r.Context().Err() != nil {
			http.Error(w, "request canceled", 499)

			return
		}
	}

	for k, v := range s.defHdr {
		if v != "" {
			w.Header().Set(k, v)
		}
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}

	ct := strings.TrimSpace(resp.ContentType)
	switch {
	case ct != "":
		w.Header().Set("Content-Type", ct)
	case len(resp.Body) > 0:
		w.Header().Set("Content-Type", "application/json")
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	w.WriteHeader(status)

	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)

		return
	}

	if resp.Text != "" {
		_, _ = w.Write([]byte(resp.Text))
	}
}

func (cr *compiledRoute) pick() Reply {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	switch cr.mode {
	case ModeRoundRobin:
		r := cr.replies[cr.cursor%len(cr.replies)]
		cr.cursor++

		return r
	case ModeSequential:
		idx := cr.cursor
		if idx >= len(cr.replies) {
			idx = len(cr.replies) - 1
		}

		if cr.cursor < len(cr.replies)-1 {
			cr.cursor++
		}

		return cr.replies[idx]
	default:
		return cr.replies[0]
	}
}
