// CrewKit - multi-agent orchestration core for coding assistants
// License: MIT
//
// Copyright (c) 2026 CrewKit contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crewkit/crewkit/pkg/agents"
	"github.com/crewkit/crewkit/pkg/config"
	"github.com/crewkit/crewkit/pkg/logger"
	"github.com/crewkit/crewkit/pkg/orchestrator"
	"github.com/crewkit/crewkit/pkg/plan"
	"github.com/crewkit/crewkit/pkg/runner"
	"github.com/crewkit/crewkit/pkg/safety"
)

var (
	version = "dev"

	flagConfig    string
	flagWorkspace string
	flagLogFile   string
)

func main() {
	root := &cobra.Command{
		Use:           "crewkit",
		Short:         "Multi-agent orchestration core for coding assistants",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultConfigPath(), "config file path")
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", "", "workspace root (defaults to CREWKIT_WORKSPACE)")
	root.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "append JSON logs to this file")

	root.AddCommand(agentsCmd(), planCmd(), stopCmd(), costCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newService() (*orchestrator.Service, error) {
	if flagLogFile != "" {
		if err := logger.EnableFileLogging(flagLogFile); err != nil {
			return nil, fmt.Errorf("enabling file logging: %w", err)
		}
	}
	cfg, err := config.LoadConfig(flagConfig)
	if err != nil {
		return nil, err
	}

	ws := flagWorkspace
	if ws == "" {
		ws = cfg.Workspace
	}

	var run runner.Runner
	switch cfg.Runner.Provider {
	case "openai":
		run = runner.NewOpenAIRunner(cfg.Runner)
	default:
		run = runner.NewAnthropicRunner(cfg.Runner)
	}
	return orchestrator.New(cfg, ws, run)
}

func agentsCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List available agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			for _, a := range svc.Agents.List(agents.ListFilter(filter)) {
				fmt.Printf("%-20s %-8s %s\n", a.ID, a.Source, a.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "all", "all, specialists, or custom")
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Create and drive plans",
	}

	var planName, planDesc, baseBranch string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			p := svc.Plans.CreatePlan(planName, planDesc, baseBranch)
			fmt.Println(p.ID)
			return nil
		},
	}
	create.Flags().StringVar(&planName, "name", "", "plan name")
	create.Flags().StringVar(&planDesc, "description", "", "plan description")
	create.Flags().StringVar(&baseBranch, "base-branch", "", "branch workers start from")
	create.MarkFlagRequired("name")

	var addPlanID, taskName, taskDesc, taskAgent, taskPriority string
	var taskDeps []string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a task to a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			t, err := svc.Plans.AddTask(addPlanID, plan.TaskSpec{
				Name:         taskName,
				Description:  taskDesc,
				Agent:        taskAgent,
				Dependencies: taskDeps,
				Priority:     plan.Priority(taskPriority),
			})
			if err != nil {
				return err
			}
			fmt.Println(t.ID)
			return nil
		},
	}
	add.Flags().StringVar(&addPlanID, "plan", "", "plan id")
	add.Flags().StringVar(&taskName, "name", "", "task name")
	add.Flags().StringVar(&taskDesc, "description", "", "task description")
	add.Flags().StringVar(&taskAgent, "agent", "", "agent id to run the task")
	add.Flags().StringVar(&taskPriority, "priority", "normal", "critical, high, normal, or low")
	add.Flags().StringSliceVar(&taskDeps, "depends-on", nil, "task ids this task depends on")
	add.MarkFlagRequired("plan")
	add.MarkFlagRequired("name")

	var listPlanID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks with statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			ready := map[string]bool{}
			for _, t := range svc.Plans.GetReadyTasks(listPlanID) {
				ready[t.ID] = true
			}
			for _, t := range svc.Plans.GetTasks(listPlanID) {
				marker := " "
				if ready[t.ID] {
					marker = "*"
				}
				fmt.Printf("%s %-40s %-10s %-8s attempts=%d\n", marker, t.ID, t.Status, t.Priority, t.Attempts)
			}
			return nil
		},
	}
	list.Flags().StringVar(&listPlanID, "plan", "", "plan id (empty: all plans)")

	var deployPlanID, deployTaskID string
	deploy := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a ready task (empty --task picks by priority)",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			dep, err := svc.DeployTask(deployPlanID, deployTaskID)
			if err != nil {
				return err
			}
			fmt.Printf("deployed %s as %s in %s\n", dep.Task.ID, dep.Worker.WorkerID, dep.Worker.WorktreePath)
			return nil
		},
	}
	deploy.Flags().StringVar(&deployPlanID, "plan", "", "plan id")
	deploy.Flags().StringVar(&deployTaskID, "task", "", "task id")
	deploy.MarkFlagRequired("plan")

	cmd.AddCommand(create, add, list, deploy)
	return cmd
}

func stopCmd() *cobra.Command {
	var scope, target, reason string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Emergency-stop subtasks in scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			res := svc.EmergencyStop(safety.StopOptions{
				Scope:  safety.StopScope(scope),
				Target: target,
				Reason: reason,
			})
			fmt.Printf("killed %d subtask(s)\n", res.SubTasksKilled)
			for _, id := range res.KilledSubTaskIDs {
				fmt.Println(" ", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "global", "subtask, worker, plan, or global")
	cmd.Flags().StringVar(&target, "target", "", "scope target id")
	cmd.Flags().StringVar(&reason, "reason", "operator stop", "reason recorded with the stop")
	return cmd
}

func costCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cost",
		Short: "Show estimated spend per worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService()
			if err != nil {
				return err
			}
			for _, row := range svc.CostReport() {
				fmt.Printf("%-40s subtasks=%-4d $%.4f\n", row.WorkerID, row.SubTasks, row.TotalCost)
			}
			return nil
		},
	}
}
