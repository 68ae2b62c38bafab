// Command demo wires the engine end to end with the in-memory store and a
// couple of local actions, publishes a small workflow and runs it once.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"goa.design/clue/log"

	exprconditions "goa.design/weave/features/conditions/expr"
	inmemstore "goa.design/weave/features/store/inmem"
	sprigtemplates "goa.design/weave/features/templates/sprig"
	"goa.design/weave/runtime/actions"
	"goa.design/weave/runtime/conductor"
	"goa.design/weave/runtime/lifecycle"
	"goa.design/weave/runtime/telemetry"
)

const definition = `{
  "id": "greeting",
  "displayName": "Greeting",
  "startNode": "compose",
  "nodes": [
    {
      "id": "compose",
      "actionType": "core.echo",
      "parameters": {"message": "Hello, {{ .trigger.name }}!"},
      "edges": [
        {"targetNode": "shout", "condition": "trigger.loud == true"},
        {"targetNode": "deliver", "condition": "trigger.loud != true"}
      ]
    },
    {
      "id": "shout",
      "actionType": "core.upper",
      "parameters": {"message": "{{ index .context \"compose\" \"message\" }}"},
      "edges": [{"targetNode": "deliver"}]
    },
    {"id": "deliver", "actionType": "core.echo", "parameters": {"message": "delivered"}}
  ]
}`

func main() {
	var (
		configF = flag.String("config", "", "Optional engine configuration file (YAML)")
		nameF   = flag.String("name", "world", "Greeting recipient")
		loudF   = flag.Bool("loud", false, "Shout the greeting")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg := conductor.DefaultConfig()
	if *configF != "" {
		loaded, err := conductor.LoadConfig(*configF)
		if err != nil {
			fail(ctx, err)
		}
		cfg = loaded
	}

	registry := actions.NewRegistry()
	must(ctx, registry.RegisterFunc("core.echo", func(_ context.Context, inv actions.Invocation) (*actions.Result, error) {
		return &actions.Result{Status: actions.StatusSucceeded, Outputs: inv.Parameters}, nil
	}))
	must(ctx, registry.RegisterFunc("core.upper", func(_ context.Context, inv actions.Invocation) (*actions.Result, error) {
		msg, _ := inv.Parameters["message"].(string)
		out := make([]rune, 0, len(msg))
		for _, r := range msg {
			if r >= 'a' && r <= 'z' {
				r -= 'a' - 'A'
			}
			out = append(out, r)
		}
		return &actions.Result{Status: actions.StatusSucceeded, Outputs: map[string]any{"message": string(out)}}, nil
	}))

	st := inmemstore.New()
	conds := exprconditions.New()
	tmpls := sprigtemplates.New()

	engine, err := conductor.New(conductor.Options{
		Config:     cfg,
		Store:      st,
		Registry:   registry,
		Conditions: conds,
		Templates:  tmpls,
		Logger:     telemetry.NewClueLogger(),
		Metrics:    telemetry.NewClueMetrics(),
		Tracer:     telemetry.NewClueTracer(),
	})
	must(ctx, err)

	validator, err := lifecycle.NewPublishValidator(lifecycle.ValidatorOptions{
		Registry:   registry,
		Conditions: conds,
		Templates:  tmpls,
	})
	must(ctx, err)
	manager, err := lifecycle.NewManager(lifecycle.Options{
		Store:     st,
		Validator: validator,
		Plans:     engine,
		Logger:    telemetry.NewClueLogger(),
	})
	must(ctx, err)

	if _, err := manager.CreateDraft(ctx, json.RawMessage(definition)); err != nil {
		fail(ctx, err)
	}
	published, err := manager.Publish(ctx, "greeting", lifecycle.PublishOptions{AutoActivate: true})
	must(ctx, err)
	log.Print(ctx, log.KV{K: "published_version", V: published.Version})

	exec, err := engine.Run(ctx, "greeting", conductor.ExecuteRequest{
		Trigger: map[string]any{"name": *nameF, "loud": *loudF},
	})
	must(ctx, err)

	log.Print(ctx, log.KV{K: "execution_id", V: exec.ID}, log.KV{K: "status", V: string(exec.Status)})
	fmt.Println(string(exec.ContextSnapshot))
}

func must(ctx context.Context, err error) {
	if err != nil {
		fail(ctx, err)
	}
}

func fail(ctx context.Context, err error) {
	log.Error(ctx, err)
	os.Exit(1)
}
