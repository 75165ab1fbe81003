package internal

import "strings"

// EmailRequest is the inbound body of POST /api/email/generate.
type EmailRequest struct {
	EmailContent string `json:"emailContent"`
	Tone         string `json:"tone"`
}

const replyInstruction = "Generate a professional email reply for the following email content. Please don't generate a subject line "

// BuildPrompt renders the instruction sent to the provider. The email
// content is appended verbatim after the delimiter line.
func BuildPrompt(req EmailRequest) string {
	var sb strings.Builder

	sb.WriteString(replyInstruction)
	if req.Tone != "" {
		sb.WriteString("Use a ")
		sb.WriteString(req.Tone)
		sb.WriteString(" tone.")
	}
	sb.WriteString("\nOriginal email content: \n")
	sb.WriteString(req.EmailContent)

	return sb.String()
}
