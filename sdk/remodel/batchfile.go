package remodel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// BatchMethod is the HTTP method recorded for every batch request.
	BatchMethod = "POST"

	// BatchEndpoint is the completions endpoint recorded for every batch
	// request.
	BatchEndpoint = "/v1/chat/completions"

	batchWriteBufferSize = 64 * 1024
)

// BatchMessage is one chat message inside a batch request body.
type BatchMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BatchBody is the chat-completions body of a batch request.
type BatchBody struct {
	Model     string         `json:"model"`
	Messages  []BatchMessage `json:"messages"`
	MaxTokens int            `json:"max_tokens"`
}

// BatchRequest is one line of the newline-delimited batch file. The unit
// payload rides as the system message and the shared instruction text as
// the user message, so the file alone carries everything a completions
// endpoint needs.
type BatchRequest struct {
	CustomID string    `json:"custom_id"`
	Method   string    `json:"method"`
	URL      string    `json:"url"`
	Body     BatchBody `json:"body"`
}

// NewBatchRequest builds the batch request for one work unit.
func NewBatchRequest(unit WorkUnit, instructions, model string) BatchRequest {
	return BatchRequest{
		CustomID: unit.Address.String(),
		Method:   BatchMethod,
		URL:      BatchEndpoint,
		Body: BatchBody{
			Model: model,
			Messages: []BatchMessage{
				{Role: "system", Content: string(unit.Payload)},
				{Role: "user", Content: instructions},
			},
			MaxTokens: unit.SizeBudget,
		},
	}
}

// Address parses the request's custom id back into a unit address.
func (r BatchRequest) Address() (UnitAddress, error) {
	return ParseUnitAddress(r.CustomID)
}

// Unit reconstructs the work unit the request was built from.
func (r BatchRequest) Unit() (WorkUnit, error) {
	addr, err := r.Address()
	if err != nil {
		return WorkUnit{}, err
	}
	payload := ""
	for _, msg := range r.Body.Messages {
		if msg.Role == "system" {
			payload = msg.Content
			break
		}
	}
	return WorkUnit{
		Address:    addr,
		Payload:    []byte(payload),
		SizeBudget: r.Body.MaxTokens,
	}, nil
}

// Instructions returns the shared instruction text carried in the user
// message.
func (r BatchRequest) Instructions() string {
	for _, msg := range r.Body.Messages {
		if msg.Role == "user" {
			return msg.Content
		}
	}
	return ""
}

// WriteBatch writes one request line per unit, each terminated by a
// newline.
func WriteBatch(w io.Writer, units []WorkUnit, instructions, model string) error {
	buffered := bufio.NewWriterSize(w, batchWriteBufferSize)
	for _, unit := range units {
		line, err := json.Marshal(NewBatchRequest(unit, instructions, model))
		if err != nil {
			return fmt.Errorf("remodel: encode batch request %s: %w", unit.Address, err)
		}
		if _, err := buffered.Write(line); err != nil {
			return fmt.Errorf("remodel: write batch request: %w", err)
		}
		if err := buffered.WriteByte('\n'); err != nil {
			return fmt.Errorf("remodel: write batch request: %w", err)
		}
	}
	return buffered.Flush()
}

// ReadBatch parses a newline-delimited batch stream. Blank lines are
// skipped; a line that fails to decode aborts with its line number.
func ReadBatch(r io.Reader) ([]BatchRequest, error) {
	var requests []BatchRequest
	reader := bufio.NewReaderSize(r, batchWriteBufferSize)
	lineNo := 0
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			lineNo++
			trimmed := strings.TrimSpace(line)
			if trimmed != "" {
				var req BatchRequest
				if decodeErr := json.Unmarshal([]byte(trimmed), &req); decodeErr != nil {
					return nil, fmt.Errorf("remodel: batch line %d: %w", lineNo, decodeErr)
				}
				requests = append(requests, req)
			}
		}
		if err == io.EOF {
			return requests, nil
		}
		if err != nil {
			return nil, fmt.Errorf("remodel: read batch stream: %w", err)
		}
	}
}

// WriteBatchFile writes the batch file from scratch, replacing any
// existing file at path.
func WriteBatchFile(path string, units []WorkUnit, instructions, model string) error {
	return writeBatchFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, units, instructions, model)
}

// AppendBatchFile appends the units to an existing batch file, creating it
// when absent.
func AppendBatchFile(path string, units []WorkUnit, instructions, model string) error {
	return writeBatchFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, units, instructions, model)
}

func writeBatchFile(path string, flags int, units []WorkUnit, instructions, model string) error {
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("remodel: open batch file: %w", err)
	}
	if err := WriteBatch(f, units, instructions, model); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("remodel: close batch file: %w", err)
	}
	return nil
}

// ReadBatchFile parses a batch file from disk.
func ReadBatchFile(path string) ([]BatchRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("remodel: open batch file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ReadBatch(f)
}
