// Command agentcore-demo wires a complete Engine against either a real
// model provider (if an API key is set in the environment) or a scripted
// fake, runs one query through a toy crypto-analyst agent backed by an
// in-process stub MCP server, and prints the event stream to stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskforge/agentcore/agent"
	"github.com/taskforge/agentcore/engine"
	"github.com/taskforge/agentcore/events"
	"github.com/taskforge/agentcore/formatter"
	"github.com/taskforge/agentcore/language"
	"github.com/taskforge/agentcore/mcp"
	"github.com/taskforge/agentcore/mcp/stub"
	"github.com/taskforge/agentcore/model"
	"github.com/taskforge/agentcore/model/modeltest"
	"github.com/taskforge/agentcore/observer"
	"github.com/taskforge/agentcore/persistence"
	"github.com/taskforge/agentcore/planner"
	"github.com/taskforge/agentcore/telemetry"
)

func buildModelClient() model.Client {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		client, err := model.NewAnthropicClient(key, 4096)
		if err != nil {
			fmt.Fprintln(os.Stderr, "agentcore-demo: anthropic client:", err)
			os.Exit(1)
		}
		return model.NewRateLimitedClient(client, 2, 4)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		client, err := model.NewOpenAIClient(key, 4096)
		if err != nil {
			fmt.Fprintln(os.Stderr, "agentcore-demo: openai client:", err)
			os.Exit(1)
		}
		return model.NewRateLimitedClient(client, 2, 4)
	}
	fmt.Fprintln(os.Stderr, "agentcore-demo: no ANTHROPIC_API_KEY or OPENAI_API_KEY set, using a scripted fake model")
	return modeltest.NewClient().
		ScriptText(`{"lang":"","none":true}`).
		ScriptText(`{"kind":"mcp","mcpName":"dexscreener","tool":"getTokenPrice","args":{"symbol":"ETH"},"expectedOutput":"current price","reasoning":"look up the quoted token"}`).
		ScriptText(`{"complete":true,"reason":"price retrieved"}`).
		ScriptText("ETH is trading around $3,200.")
}

func buildSessionCache() mcp.Cache {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	return mcp.NewRedisCache(client, "agentcore:session:")
}

func demoAgent() agent.Descriptor {
	return agent.Descriptor{
		Name:            "crypto.analyst",
		Mission:         "Answer questions about on-chain token prices and liquidity.",
		DefaultLanguage: "en",
		Welcome:         "Ask me about any token's price.",
		MCPs: []agent.MCPServer{
			{Name: "dexscreener", Tools: []string{"getTokenPrice", "searchPairs"}},
		},
	}
}

func demoLauncher() *stub.Launcher {
	l := stub.New()
	l.Register("dexscreener", &stub.Server{
		Tools: map[string]stub.Tool{
			"getTokenPrice": {Result: json.RawMessage(`{"symbol":"ETH","price":3201.47,"currency":"USD"}`)},
			"searchPairs":   {Result: json.RawMessage(`{"pairs":["ETH/USDC","ETH/USDT"]}`)},
		},
	})
	return l
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	modelClient := buildModelClient()
	log := telemetry.NewClueLogger()

	llmPlanner, err := planner.New(modelClient, log, &planner.Options{DecisionTimeout: 15 * time.Second})
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentcore-demo: planner:", err)
		os.Exit(1)
	}

	sessions := mcp.NewManager(demoLauncher(), stub.Caller{}, buildSessionCache(), 64)

	eng := engine.New(engine.Config{
		Sessions:    sessions,
		Model:       modelClient,
		Credentials: noCredentials{},
		Planner:     llmPlanner,
		Observer:    observer.New(modelClient, &observer.Options{Timeout: 15 * time.Second}),
		Formatter:   formatter.New(modelClient, &formatter.Options{StreamStartTimeout: 60 * time.Second}),
		Language:    language.New(modelClient),
		Repo:        persistence.NoopRepository{},
		Log:         log,
	})

	sink := events.NewChannelSink(256)
	go printEvents(sink)

	req := engine.Request{
		UserID: "demo-user",
		Query:  "What is the price of ETH right now?",
		Agent:  demoAgent(),
	}
	if err := eng.Run(ctx, req, sink); err != nil {
		fmt.Fprintln(os.Stderr, "agentcore-demo: run failed:", err)
		os.Exit(1)
	}
}

func printEvents(sink *events.ChannelSink) {
	for ev := range sink.Events() {
		encoded, _ := json.Marshal(ev.Data)
		fmt.Printf("[%s] %s\n", ev.Tag, encoded)
	}
}

type noCredentials struct{}

func (noCredentials) Fields(_ context.Context, _, _ string) (map[string]string, error) {
	return map[string]string{}, nil
}
