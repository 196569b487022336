package tools

import "context"

// TaskCompleteName is the reserved tool the model calls once the user's
// request is fully handled.
const TaskCompleteName = "task_complete"

// TaskCompleteTool ends the current request. It has no side effects.
type TaskCompleteTool struct{}

func (t *TaskCompleteTool) Name() string { return TaskCompleteName }
func (t *TaskCompleteTool) Spec() Spec {
	return Spec{
		Name:        t.Name(),
		Description: "Call this when the task is complete and no more actions are needed.",
		Params: []Param{
			{Name: "summary", Type: "string", Description: "A brief summary of what was accomplished", Required: true},
		},
	}
}

func (t *TaskCompleteTool) Execute(ctx context.Context, env Env, args Args) Result {
	return Result{Text: args.String("summary", "Task completed."), Terminal: true}
}
