package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/kapernikxd/aipair-chatsync/internal/cherr"
	"github.com/kapernikxd/aipair-chatsync/internal/models"
)

// Client is the REST-style collaborator surface the conversation store talks
// to. All responses arrive as {"status":"ok","data":...} envelopes.
type Client struct {
	conf ClientConfig
	http *http.Client
	log  *zap.SugaredLogger
}

func NewClient(conf ClientConfig, log *zap.SugaredLogger) *Client {
	return &Client{conf: conf, http: newHTTPClient(conf), log: log}
}

type apiEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func (c *Client) url(path string, q url.Values) string {
	u := c.conf.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, c.url(path, q), nil)
	})
	if err != nil {
		return err
	}
	return decodeEnvelope(resp, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(method, c.url(path, nil), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	return decodeEnvelope(resp, out)
}

func decodeEnvelope(resp *http.Response, out any) error {
	defer resp.Body.Close()
	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	// the server reports application-level failures inside a 200 envelope
	if env.Status != "ok" {
		return fmt.Errorf("%w: status %q", cherr.ErrBadStatus, env.Status)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// ListChats fetches one page of the chat list, optionally filtered by
// category.
func (c *Client) ListChats(ctx context.Context, page, limit int, category models.ChatCategory) ([]models.Chat, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	if category != "" {
		q.Set("type", string(category))
	}
	var chats []models.Chat
	if err := c.getJSON(ctx, "/chats", q, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// GetChat fetches one chat's metadata.
func (c *Client) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	var chat models.Chat
	if err := c.getJSON(ctx, "/chats/"+chatID, nil, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetMessages fetches up to one page of messages for a chat, skipping the
// newest skip entries. The server returns them oldest first.
func (c *Client) GetMessages(ctx context.Context, chatID string, skip int) ([]models.Message, error) {
	q := url.Values{}
	q.Set("skip", strconv.Itoa(skip))
	var msgs []models.Message
	if err := c.getJSON(ctx, "/chats/"+chatID+"/messages", q, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessageInput carries one outgoing message. Images are raw blobs
// attached as multipart files.
type SendMessageInput struct {
	ChatID  string
	Content string
	ReplyTo string
	Images  []ImageAttachment
}

type ImageAttachment struct {
	Name string
	Data []byte
}

// SendMessage posts a message as multipart form data and returns the
// authoritative server copy carrying the final id.
func (c *Client) SendMessage(ctx context.Context, in SendMessageInput) (*models.Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("content", in.Content); err != nil {
		return nil, err
	}
	if in.ReplyTo != "" {
		if err := w.WriteField("replyTo", in.ReplyTo); err != nil {
			return nil, err
		}
	}
	for _, img := range in.Images {
		fw, err := w.CreateFormFile("images", img.Name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(img.Data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	body := buf.Bytes()

	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.url("/chats/"+in.ChatID+"/messages", nil), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	var msg models.Message
	if err := decodeEnvelope(resp, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessage replaces a message's content and returns the updated copy.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (*models.Message, error) {
	var msg models.Message
	body := map[string]string{"content": content}
	if err := c.sendJSON(ctx, http.MethodPut, "/messages/"+messageID, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ClearHistory empties a chat's message history server-side.
func (c *Client) ClearHistory(ctx context.Context, chatID string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/chats/"+chatID+"/messages", nil, nil)
}

// PinMessage pins one message in a chat.
func (c *Client) PinMessage(ctx context.Context, chatID, messageID string) error {
	return c.sendJSON(ctx, http.MethodPost, "/chats/"+chatID+"/pins/"+messageID, nil, nil)
}

// UnpinMessage removes one pin.
func (c *Client) UnpinMessage(ctx context.Context, chatID, messageID string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/chats/"+chatID+"/pins/"+messageID, nil, nil)
}

// PinnedMessages fetches the pinned set for a chat.
func (c *Client) PinnedMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var msgs []models.Message
	if err := c.getJSON(ctx, "/chats/"+chatID+"/pins", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead records that the caller has read a message.
func (c *Client) MarkRead(ctx context.Context, chatID, messageID string) error {
	body := map[string]string{"messageId": messageID}
	return c.sendJSON(ctx, http.MethodPost, "/chats/"+chatID+"/read", body, nil)
}
