package coach

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/attentivai/meeting-gateway/internal/config"
	"github.com/attentivai/meeting-gateway/internal/transcript"
)

// Generator is the contract with the remote language model: a
// request/response classification call and a streaming generation
// call. Both take the recent transcript and the briefing as context.
type Generator interface {
	Classify(ctx context.Context, line transcript.Line, recent []transcript.Line, briefing *Briefing) (Classification, error)
	Stream(ctx context.Context, question string, recent []transcript.Line, briefing *Briefing) (<-chan Chunk, error)
}

// Client talks to an Ollama-compatible chat endpoint. Classification
// uses a non-streaming call; tip generation uses NDJSON streaming.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a generation client from config.
func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.CoachURL, "/"),
		apiKey:  cfg.CoachAPIKey,
		model:   cfg.CoachModel,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.CoachTimeout) * time.Second,
		},
		logger: logger.With().Str("component", "coach_client").Logger(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

const classifyPrompt = `You are screening a live meeting transcript. Decide whether the last line poses a question addressed to the person being coached (the "me" speaker). Respond with exactly one line: NO, or YES <category> where <category> is one word such as technical, planning, status, or general.`

const generatePrompt = `You are a real-time meeting coach. A participant just asked the person you are coaching a question. Suggest a concise, concrete answer they could give out loud. Plain text only, no preamble.`

// Classify asks the model whether a finalized line is a question
// directed at the user.
func (c *Client) Classify(ctx context.Context, line transcript.Line, recent []transcript.Line, briefing *Briefing) (Classification, error) {
	messages := []chatMessage{
		{Role: "system", Content: classifyPrompt + contextBlock(recent, briefing)},
		{Role: "user", Content: fmt.Sprintf("%s: %s", line.Speaker, line.Text)},
	}

	resp, err := c.send(ctx, chatRequest{Model: c.model, Messages: messages, Stream: false})
	if err != nil {
		return Classification{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Classification{}, fmt.Errorf("read classify response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Classification{}, fmt.Errorf("unmarshal classify response: %w", err)
	}

	return parseVerdict(parsed.Message.Content), nil
}

// Stream opens a generation stream for a detected question. The
// returned channel carries cumulative text and closes after the
// terminal chunk (Done or Err set).
func (c *Client) Stream(ctx context.Context, question string, recent []transcript.Line, briefing *Briefing) (<-chan Chunk, error) {
	messages := []chatMessage{
		{Role: "system", Content: generatePrompt + contextBlock(recent, briefing)},
		{Role: "user", Content: question},
	}

	resp, err := c.send(ctx, chatRequest{Model: c.model, Messages: messages, Stream: true})
	if err != nil {
		return nil, err
	}

	chunks := make(chan Chunk, 16)
	go c.readStream(ctx, resp.Body, chunks)
	return chunks, nil
}

func (c *Client) send(ctx context.Context, payload chatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, string(msg))
	}
	return resp, nil
}

// readStream decodes one NDJSON object per line, accumulating content
// into cumulative chunks.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, chunks chan<- Chunk) {
	defer close(chunks)
	defer body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var parsed chatResponse
		if err := json.Unmarshal(line, &parsed); err != nil {
			c.logger.Warn().Err(err).Msg("Skipping malformed stream line")
			continue
		}

		if parsed.Message.Content != "" {
			full.WriteString(parsed.Message.Content)
			select {
			case chunks <- Chunk{Delta: parsed.Message.Content, FullText: full.String()}:
			case <-ctx.Done():
				return
			}
		}
		if parsed.Done {
			select {
			case chunks <- Chunk{FullText: full.String(), Done: true}:
			case <-ctx.Done():
			}
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		select {
		case chunks <- Chunk{FullText: full.String(), Err: err}:
		case <-ctx.Done():
		}
	}
}

func parseVerdict(content string) Classification {
	verdict := strings.TrimSpace(content)
	upper := strings.ToUpper(verdict)
	if !strings.HasPrefix(upper, "YES") {
		return Classification{}
	}

	category := "general"
	if fields := strings.Fields(verdict); len(fields) > 1 {
		category = strings.ToLower(strings.Trim(fields[1], ".,!"))
	}
	return Classification{IsQuestion: true, Category: category}
}

func contextBlock(recent []transcript.Line, briefing *Briefing) string {
	var b strings.Builder

	if briefing != nil {
		b.WriteString("\n\nMeeting briefing:\n")
		if briefing.Topic != "" {
			fmt.Fprintf(&b, "Topic: %s\n", briefing.Topic)
		}
		if briefing.Agenda != "" {
			fmt.Fprintf(&b, "Agenda: %s\n", briefing.Agenda)
		}
		for _, p := range briefing.Participants {
			fmt.Fprintf(&b, "Participant: %s", p.Name)
			if p.Role != "" {
				fmt.Fprintf(&b, " (%s", p.Role)
				if p.Company != "" {
					fmt.Fprintf(&b, ", %s", p.Company)
				}
				b.WriteString(")")
			}
			if p.Notes != "" {
				fmt.Fprintf(&b, " - %s", p.Notes)
			}
			b.WriteString("\n")
		}
		if briefing.Notes != "" {
			fmt.Fprintf(&b, "Notes: %s\n", briefing.Notes)
		}
	}

	if len(recent) > 0 {
		b.WriteString("\n\nRecent conversation:\n")
		for _, line := range recent {
			fmt.Fprintf(&b, "%s: %s\n", line.Speaker, line.Text)
		}
	}
	return b.String()
}
