// Package dispatch drains the task queue through the tasking Router.
//
// Each tick the dispatcher claims queued tasks, up to service.workers at a
// time, routes them and stores the Result in the task log.
//
// Completion:
//   - Routed task (any Result status) → succeeded
//   - Task failing the router's caller contract → failed, with a 400 Result
//     carrying the validation message
//
// Tasks left running by a crashed process are returned to the queue on start.
// Completed tasks older than service.task_log_retention are pruned hourly.
package dispatch
