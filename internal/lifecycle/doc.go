// Package lifecycle is the PathLifecycleFacade. It validates scheduled path
// requests before they reach the ScheduleEngine, supplies the engine's setup
// and teardown hooks (which talk to the path collaborator and keep the tunnel
// bindings and failed-path set up to date) and joins schedule records with
// live tunnel state for queries.
package lifecycle
