package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	v1 "github.com/onepanelio/functionary/pkg"
	"github.com/onepanelio/functionary/pkg/util/pagination"
	"github.com/spf13/cobra"
)

func newListTasksCmd() *cobra.Command {
	var (
		scope          v1.Scope
		filter         v1.TaskFilter
		status         string
		page, pageSize int
	)
	cmd := &cobra.Command{
		Use:   "list-tasks",
		Short: "list the tasks of an environment, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := initConfig()
			if err != nil {
				return err
			}
			db, err := openDB(config)
			if err != nil {
				return err
			}
			defer db.Close()

			client := v1.NewClient(db, config, v1.Dependencies{})
			filter.Status = v1.Status(status)
			paginator := pagination.NewRequest(page, pageSize)

			count, err := client.CountTasks(scope, &filter)
			if err != nil {
				return err
			}
			tasks, err := client.ListTasks(scope, &filter, paginator)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFUNCTION\tSTATUS\tCREATOR\tCREATED")
			for _, task := range tasks {
				fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\n", task.ID, task.FunctionID, task.Status, task.Creator, task.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("Page %v of %v, %v tasks\n", paginator.Page, paginator.TotalPages(count), count)

			return nil
		},
	}
	addScopeFlags(cmd, &scope)
	cmd.Flags().StringVar(&filter.FunctionID, "function-id", "", "Only tasks of this function")
	cmd.Flags().StringVar(&status, "status", "", "Only tasks in this status")
	cmd.Flags().IntVar(&page, "page", 1, "Page to show")
	cmd.Flags().IntVar(&pageSize, "page-size", 15, "Tasks per page")

	return cmd
}
