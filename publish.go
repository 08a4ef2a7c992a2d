package main

import (
	"context"
	"fmt"
	"os"

	v1 "github.com/onepanelio/functionary/pkg"
	"github.com/onepanelio/functionary/pkg/worker"
	"github.com/spf13/cobra"
)

func newPublishCmd() *cobra.Command {
	var scope v1.Scope
	cmd := &cobra.Command{
		Use:   "publish <package.tar.gz>",
		Short: "build a package archive and register its functions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contents, err := os.ReadFile(args[0])
			if err != nil {
				return err
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
			build, err := client.PublishPackage(ctx, scope, contents)
			if err != nil {
				return err
			}

			// Jobs run inline, the build has finished once PublishPackage returns.
			build, err = client.GetBuild(scope, build.ID)
			if err != nil {
				return err
			}
			fmt.Printf("Build %v: %v\n", build.ID, build.Status)
			if buildLog, err := client.GetBuildLog(scope, build.ID); err == nil {
				fmt.Println(buildLog.Log)
			}
			if build.Status != v1.StatusComplete {
				return fmt.Errorf("build %v did not complete", build.ID)
			}

			return nil
		},
	}
	addScopeFlags(cmd, &scope)

	return cmd
}

func addScopeFlags(cmd *cobra.Command, scope *v1.Scope) {
	cmd.Flags().StringVar(&scope.EnvironmentID, "environment", "", "Environment id")
	cmd.Flags().StringVar(&scope.Principal, "principal", v1.SystemPrincipal, "User the request is made as")
	_ = cmd.MarkFlagRequired("environment")
}
