package chat

import (
	"context"
	"encoding/json"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

type IService interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Message is a role-tagged chat message. When Parts is set it is sent
// instead of Content, which is how images travel with a prompt.
type Message struct {
	Role    string
	Content string
	Parts   []Part
}

type Part struct {
	Type     string
	Text     string
	ImageURL string
}

func UserText(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// UserImage builds a user message with a prompt and one embedded image URL
func UserImage(text, imageURL string) Message {
	return Message{
		Role: RoleUser,
		Parts: []Part{
			{Type: "text", Text: text},
			{Type: "image_url", ImageURL: imageURL},
		},
	}
}

type imageURL struct {
	URL string `json:"url"`
}

type wirePart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) == 0 {
		return json.Marshal(struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{m.Role, m.Content})
	}

	parts := make([]wirePart, 0, len(m.Parts))
	for _, p := range m.Parts {
		wp := wirePart{Type: p.Type, Text: p.Text}
		if p.ImageURL != "" {
			wp.ImageURL = &imageURL{URL: p.ImageURL}
		}
		parts = append(parts, wp)
	}

	return json.Marshal(struct {
		Role    string     `json:"role"`
		Content []wirePart `json:"content"`
	}{m.Role, parts})
}
