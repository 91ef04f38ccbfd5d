package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MockClient answers locally without a remote agent. Replies are deterministic
// apart from the thread ID minted on the first turn.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Submit(ctx context.Context, req Request) (Reply, error) {
	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	default:
	}
	if err := req.Validate(); err != nil {
		return Reply{}, err
	}

	thread := req.ThreadID
	if thread == "" {
		thread = uuid.NewString()
	}
	return Reply{ResponseText: buildMockReply(req), ThreadID: thread}, nil
}

func buildMockReply(req Request) string {
	text := strings.TrimSpace(req.Text)
	switch {
	case req.Kind == KindAudio && text == "":
		return fmt.Sprintf("I received your voice message on %s.", req.Page)
	case text == "" && len(req.Image) > 0:
		return fmt.Sprintf("I received your image on %s.", req.Page)
	default:
		return fmt.Sprintf("I heard you on %s: %s", req.Page, text)
	}
}
