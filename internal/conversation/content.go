package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Block types understood by Content.Text. Other types are carried
// through unchanged but contribute no text.
const (
	BlockText     = "text"
	BlockImageURL = "image_url"
)

// Block is one element of structured message content.
type Block struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// UnmarshalJSON accepts both the flat form ({"type":"image_url","url":...})
// and the nested chat-completions form ({"image_url":{"url":...}}).
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		URL      string `json:"url"`
		ImageURL *struct {
			URL string `json:"url"`
		} `json:"image_url"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.Type, b.Text, b.URL = raw.Type, raw.Text, raw.URL
	if b.URL == "" && raw.ImageURL != nil {
		b.URL = raw.ImageURL.URL
	}
	if b.Type == "" && b.Text != "" {
		b.Type = BlockText
	}
	return nil
}

// Content is message content: either plain text or an ordered list of
// blocks. The zero value is empty text.
type Content struct {
	text   string
	blocks []Block
}

// Text returns plain-text content.
func Text(s string) Content {
	return Content{text: s}
}

// Blocks returns structured content. The slice is copied.
func Blocks(blocks ...Block) Content {
	if len(blocks) == 0 {
		return Content{}
	}
	return Content{blocks: append([]Block(nil), blocks...)}
}

// IsStructured reports whether c holds blocks rather than plain text.
func (c Content) IsStructured() bool { return c.blocks != nil }

// BlockList returns a copy of the blocks, or nil for plain text.
func (c Content) BlockList() []Block {
	if c.blocks == nil {
		return nil
	}
	return append([]Block(nil), c.blocks...)
}

// Text normalizes c to plain text. Structured content is flattened by
// joining its text fragments, in order, with single spaces.
func (c Content) Text() string {
	if c.blocks == nil {
		return c.text
	}
	parts := make([]string, 0, len(c.blocks))
	for _, b := range c.blocks {
		if b.Type == BlockText && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, " ")
}

// String implements fmt.Stringer.
func (c Content) String() string { return c.Text() }

// MarshalJSON encodes plain text as a JSON string and blocks as an array.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.blocks != nil {
		return json.Marshal(c.blocks)
	}
	return json.Marshal(c.text)
}

// UnmarshalJSON decodes a JSON string, null, or an array whose elements
// are strings or block objects.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Text(s)
		return nil
	case data[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		blocks := make([]Block, 0, len(items))
		for i, item := range items {
			var b Block
			if len(item) > 0 && item[0] == '"' {
				if err := json.Unmarshal(item, &b.Text); err != nil {
					return fmt.Errorf("content[%d]: %w", i, err)
				}
				b.Type = BlockText
			} else if err := json.Unmarshal(item, &b); err != nil {
				return fmt.Errorf("content[%d]: %w", i, err)
			}
			blocks = append(blocks, b)
		}
		*c = Content{blocks: blocks}
		return nil
	default:
		return fmt.Errorf("content must be a string or an array, got %s", truncate(string(data), 32))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
