package team

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/tools"
)

// SendMessageTool publishes a message from one agent to another over the
// team bus.
type SendMessageTool struct {
	bus     *Bus
	from    string
	members func() []string
}

type sendMessageInput struct {
	To      string `json:"to" jsonschema:"description=Recipient: lead or a peer name or * for everyone"`
	Content string `json:"content" jsonschema:"description=Message text"`
}

// NewSendMessageTool creates the tool for agent from. members lists valid
// recipients; nil accepts any address.
func NewSendMessageTool(bus *Bus, from string, members func() []string) *SendMessageTool {
	return &SendMessageTool{bus: bus, from: from, members: members}
}

// Name returns the tool name.
func (t *SendMessageTool) Name() string {
	return "send_message"
}

// Description returns the tool description.
func (t *SendMessageTool) Description() string {
	return "Send a message to another agent on the team. Use \"lead\" for the team lead or \"*\" to broadcast."
}

// Schema returns the JSON schema for the tool parameters.
func (t *SendMessageTool) Schema() json.RawMessage {
	return tools.SchemaFor[sendMessageInput]()
}

// Execute publishes the message.
func (t *SendMessageTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	input, err := tools.Decode[sendMessageInput](params)
	if err != nil {
		return tools.Error(err.Error()), nil
	}
	to := strings.TrimSpace(input.To)
	if to == t.from {
		return tools.Error("cannot send a message to yourself"), nil
	}
	if to != AddressBroadcast && t.members != nil {
		known := t.members()
		if !slices.Contains(known, to) {
			return tools.Error(fmt.Sprintf("unknown recipient %q (team: %s)", to, strings.Join(known, ", "))), nil
		}
	}
	env, err := t.bus.Publish(t.from, to, input.Content)
	if err != nil {
		return tools.Error(err.Error()), nil
	}
	return tools.Result(map[string]any{
		"id":  env.ID,
		"seq": env.Seq,
		"to":  env.To,
	}), nil
}

// SpawnPeerTool lets the lead start a peer agent.
type SpawnPeerTool struct {
	coord *Coordinator
}

type spawnPeerInput struct {
	Name string `json:"name" jsonschema:"description=Peer name made of letters and digits and - or _"`
	Task string `json:"task" jsonschema:"description=The task the peer works on first"`
}

// NewSpawnPeerTool creates the tool.
func NewSpawnPeerTool(coord *Coordinator) *SpawnPeerTool {
	return &SpawnPeerTool{coord: coord}
}

// Name returns the tool name.
func (t *SpawnPeerTool) Name() string {
	return "spawn_peer"
}

// Description returns the tool description.
func (t *SpawnPeerTool) Description() string {
	return "Start a peer agent with its own session and give it a task. The peer reports back with send_message."
}

// Schema returns the JSON schema for the tool parameters.
func (t *SpawnPeerTool) Schema() json.RawMessage {
	return tools.SchemaFor[spawnPeerInput]()
}

// Execute spawns the peer.
func (t *SpawnPeerTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	input, err := tools.Decode[spawnPeerInput](params)
	if err != nil {
		return tools.Error(err.Error()), nil
	}
	info, err := t.coord.Spawn(input.Name, input.Task)
	if err != nil {
		return tools.Error(err.Error()), nil
	}
	return tools.Result(map[string]any{
		"name":       info.Name,
		"session_id": info.SessionID,
		"status":     "started",
	}), nil
}
