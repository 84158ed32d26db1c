// Command taskmeshd runs the task engine as an HTTP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/viper"

	"github.com/taskmesh/taskmesh/engine"
	"github.com/taskmesh/taskmesh/graph"
	"github.com/taskmesh/taskmesh/logging"
	"github.com/taskmesh/taskmesh/model"
	"github.com/taskmesh/taskmesh/model/anthropic"
	"github.com/taskmesh/taskmesh/model/openai"
	"github.com/taskmesh/taskmesh/server"
	"github.com/taskmesh/taskmesh/tool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "taskmeshd:", err)
		os.Exit(1)
	}
}

func run() error {
	v := viper.New()
	v.SetConfigName("taskmeshd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/taskmeshd")
	v.SetEnvPrefix("TASKMESH")
	v.AutomaticEnv()

	v.SetDefault("listen", ":8080")
	v.SetDefault("project", "default")
	v.SetDefault("projects_dir", "./projects")
	v.SetDefault("provider", "openai")
	v.SetDefault("model", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("max_iterations", 32)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	logger := logging.NewJSONLogger(os.Stderr, parseLevel(v.GetString("log_level")))

	m, err := buildModel(v)
	if err != nil {
		return err
	}

	resolver := graph.NewResolver(
		graph.NewFileStore(v.GetString("projects_dir")),
		func(o *graph.ResolverOptions) { o.Logger = logger },
	)

	eng := engine.New(v.GetString("project"), resolver, m,
		func(o *engine.Options) {
			o.Logger = logger
			o.Tools = tool.NewRegistry()
			o.MaxIterations = v.GetInt("max_iterations")
		})

	srv := server.New(eng, func(o *server.Options) {
		o.Logger = logger
		o.AllowOrigins = v.GetStringSlice("allow_origins")
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx, v.GetString("listen"))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildModel(v *viper.Viper) (model.Model, error) {
	name := v.GetString("model")
	switch provider := v.GetString("provider"); provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if name != "" {
				o.Model = name
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if name != "" {
				o.Model = anthropicsdk.Model(name)
			}
			if key := v.GetString("anthropic_api_key"); key != "" {
				o.APIKey = key
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
