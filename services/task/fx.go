package task

import (
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("task.service",
	fx.Provide(
		NewService,
	),
)

// Worker registers the task handlers on the asynq mux and starts the scheduler.
var Worker = fx.Module("task.worker",
	fx.Provide(NewScheduler),
	fx.Invoke(registerHandlers, StartScheduler),
)

func registerHandlers(mux *asynq.ServeMux, svc *Service) {
	svc.Register(mux)
}
