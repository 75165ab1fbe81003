package internal

import (
	"encoding/json"
	"errors"
	"fmt"
)

var errEmptyCandidates = errors.New("no candidates in response")

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates *[]struct {
		Content *struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GeminiCodec speaks the generateContent envelope.
type GeminiCodec struct{}

func (GeminiCodec) Name() string { return "gemini" }

func (GeminiCodec) Encode(prompt string) ([]byte, error) {
	return json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
}

// Decode returns the text at candidates[0].content.parts[0].text.
func (GeminiCodec) Decode(body []byte) (string, error) {
	var gr geminiResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if gr.Candidates == nil {
		return "", errors.New("missing field candidates")
	}
	if len(*gr.Candidates) == 0 {
		return "", errEmptyCandidates
	}
	c := (*gr.Candidates)[0]
	if c.Content == nil {
		return "", errors.New("missing field candidates[0].content")
	}
	if len(c.Content.Parts) == 0 {
		return "", errors.New("no parts in candidates[0].content")
	}
	text := c.Content.Parts[0].Text
	if text == nil {
		return "", errors.New("missing field candidates[0].content.parts[0].text")
	}
	return *text, nil
}
