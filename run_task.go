package main

import (
	"context"
	"encoding/json"
	"fmt"

	v1 "github.com/onepanelio/functionary/pkg"
	"github.com/onepanelio/functionary/pkg/worker"
	"github.com/spf13/cobra"
)

func newRunTaskCmd() *cobra.Command {
	var (
		scope      v1.Scope
		request    v1.CreateTaskRequest
		parameters string
	)
	cmd := &cobra.Command{
		Use:   "run-task",
		Short: "create a task and dispatch it to the runners",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := json.Unmarshal([]byte(parameters), &request.Parameters); err != nil {
				return fmt.Errorf("--parameters must be a JSON object: %w", err)
			}

			config, err := initConfig()
			if err != nil {
				return err
			}
			db, err := openDB(config)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			deps, cleanup, err := clientDependencies(ctx, config, worker.Inline{})
			if err != nil {
				return err
			}
			defer cleanup()

			client := v1.NewClient(db, config, deps)
			task, err := client.CreateTask(ctx, scope, &request)
			if err != nil {
				return err
			}

			task, err = client.GetTask(scope, task.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Task %v: %v\n", task.ID, task.Status)

			return nil
		},
	}
	addScopeFlags(cmd, &scope)
	cmd.Flags().StringVar(&request.FunctionID, "function-id", "", "Function id")
	cmd.Flags().StringVar(&request.PackageName, "package", "", "Package name, used with --function")
	cmd.Flags().StringVar(&request.FunctionName, "function", "", "Function name, used with --package")
	cmd.Flags().StringVar(&parameters, "parameters", "{}", "Function parameters as a JSON object")

	return cmd
}
