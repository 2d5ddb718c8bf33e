package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/shopmonkeyus/entitydb/internal/projection"
	"github.com/shopmonkeyus/entitydb/internal/service"
	"github.com/shopmonkeyus/entitydb/internal/util"
	"github.com/spf13/cobra"
)

var (
	cyan  = color.New(color.FgCyan).SprintFunc()
	bold  = color.New(color.Bold).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
)

type demoStep struct {
	title string
	run   func(ctx context.Context, svc *service.Service) (string, error)
}

// postIDs returns the ids of the posts relation of the object.
func postIDs(obj *projection.Object) []any {
	var ids []any
	posts, _ := obj.Get("posts")
	list, _ := posts.([]*projection.Object)
	for _, post := range list {
		id, _ := post.Get("id")
		ids = append(ids, id)
	}
	return ids
}

var demoSteps = []demoStep{
	{
		title: "create a user with some posts",
		run: func(ctx context.Context, svc *service.Service) (string, error) {
			user, err := svc.Create(ctx, "User", service.CreateArgs{
				Data: map[string]any{
					"email": "u1@test.com",
					"posts": map[string]any{
						"create": []any{
							map[string]any{"title": "Post1", "content": "My first post", "published": false},
							map[string]any{"title": "Post2", "content": "Just another post", "published": true},
						},
					},
				},
				Include: map[string]any{"posts": true},
			})
			if err != nil {
				return "", err
			}
			email, _ := user.Get("email")
			posts, _ := user.Get("posts")
			return fmt.Sprintf("User %v is created with posts %s", email, util.JSONStringify(posts)), nil
		},
	},
	{
		title: "use select to pick the fields to return",
		run: func(ctx context.Context, svc *service.Service) (string, error) {
			user, err := svc.Create(ctx, "User", service.CreateArgs{
				Data:   map[string]any{"email": "u2@test.com"},
				Select: map[string]any{"id": true},
			})
			if err != nil {
				return "", err
			}
			id, _ := user.Get("id")
			return fmt.Sprintf("New user created with id: %v", id), nil
		},
	},
	{
		title: "connect to an existing post",
		run: func(ctx context.Context, svc *service.Service) (string, error) {
			post, err := svc.Create(ctx, "Post", service.CreateArgs{
				Data: map[string]any{"title": "Post3", "content": ""},
			})
			if err != nil {
				return "", err
			}
			postID, _ := post.Get("id")
			user, err := svc.Create(ctx, "User", service.CreateArgs{
				Data: map[string]any{
					"email": "u3@test.com",
					"posts": map[string]any{"connect": map[string]any{"id": postID}},
				},
				Include: map[string]any{"posts": true},
			})
			if err != nil {
				return "", err
			}
			id, _ := user.Get("id")
			return fmt.Sprintf("User#%v is connected to posts: %v", id, postIDs(user)), nil
		},
	},
	{
		title: "createMany returns the number of rows created",
		run: func(ctx context.Context, svc *service.Service) (string, error) {
			result, err := svc.CreateMany(ctx, "User", service.CreateManyArgs{
				Data: []map[string]any{{"email": "u4@test.com"}, {"email": "u5@test.com"}},
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Number of users created: %d", result.Count), nil
		},
	},
	{
		title: "createManyAndReturn returns the rows created",
		run: func(ctx context.Context, svc *service.Service) (string, error) {
			users, err := svc.CreateManyAndReturn(ctx, "User", service.CreateManyArgs{
				Data: []map[string]any{{"email": "u6@test.com"}, {"email": "u7@test.com"}},
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Some more users created: %s", util.JSONStringify(users)), nil
		},
	},
	{
		title: "skipDuplicates ignores rows which violate a unique constraint",
		run: func(ctx context.Context, svc *service.Service) (string, error) {
			users, err := svc.CreateManyAndReturn(ctx, "User", service.CreateManyArgs{
				Data:           []map[string]any{{"email": "u7@test.com"}, {"email": "u8@test.com"}},
				SkipDuplicates: true,
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("More users created: %s", util.JSONStringify(users)), nil
		},
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the create scenarios against the demo schema",
	Long: `Run the create scenarios against the demo schema of users and posts.

The default memory backend needs no setup. SQL backends need the tables of schema/demo.sql.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := mustLoadConfig()
		cfg.Schema = ""
		logger := newLogger(cfg)
		defer util.RecoverPanic(logger)

		svc, backend, err := newService(ctx, logger, cfg)
		if err != nil {
			logger.Error("%s", err)
			os.Exit(1)
		}
		exitCode := 0
		for i, step := range demoSteps {
			fmt.Printf("%s %s\n", cyan(fmt.Sprintf("[%d/%d]", i+1, len(demoSteps))), bold(step.title))
			out, err := step.run(ctx, svc)
			if err != nil {
				fmt.Printf("  %s %s\n\n", red("✗"), err)
				exitCode = 1
				break
			}
			fmt.Printf("  %s %s\n\n", green("✓"), out)
		}
		if err := backend.Stop(); err != nil {
			logger.Warn("error stopping backend: %s", err)
		}
		os.Exit(exitCode)
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}
