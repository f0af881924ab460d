// Package prompt provides the HTTP client and wire types for the remote
// prompt service that serves the interview script.
package prompt

import "github.com/jwulff/patientsim/internal/session"

// Response is the JSON body of GET /api/send-prompt.
type Response struct {
	Content      string  `json:"content"`
	PromptIndex  int     `json:"promptIndex"`
	TotalPrompts int     `json:"totalPrompts"`
	Prompt       string  `json:"prompt"`
	NextPrompt   *string `json:"nextPrompt"` // null once the script is exhausted
}

// ToPrompt converts the wire response into the session's type.
func (r Response) ToPrompt() session.Prompt {
	return session.Prompt{
		Content:      r.Content,
		PromptIndex:  r.PromptIndex,
		TotalPrompts: r.TotalPrompts,
		Prompt:       r.Prompt,
		NextPrompt:   r.NextPrompt,
	}
}

// FromPrompt is the inverse of Response.ToPrompt.
func FromPrompt(p session.Prompt) Response {
	return Response{
		Content:      p.Content,
		PromptIndex:  p.PromptIndex,
		TotalPrompts: p.TotalPrompts,
		Prompt:       p.Prompt,
		NextPrompt:   p.NextPrompt,
	}
}

// StringPtr returns a pointer to s. Convenience for building responses.
func StringPtr(s string) *string { return &s }
