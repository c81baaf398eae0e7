// Command taskmesh runs the task-handoff orchestration service.
//
// Usage:
//
//	taskmesh serve                       # start the service
//	taskmesh serve --config config.yaml  # with a config file
//	taskmesh version                     # print build info
//	taskmesh health                      # probe a running instance
package main
