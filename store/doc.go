// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package store persists workflow definitions and hands them to the engine
through the workflow.WorkflowLoader interface.

# Backends

  - Memory: for development, tests and headless CLI runs (default)
  - File: one YAML or JSON file per definition, optionally watched
  - Database: GORM over postgres, mysql or sqlite; also keeps run history
  - Redis: JSON strings indexed by a sorted set
  - Mongo: one document per definition

New selects a backend from config and can wrap it in CachedStore, a Redis
read-through cache. Every backend returns errors wrapping ErrNotFound for
unknown ids, which in turn wraps workflow.ErrWorkflowNotFound.
*/
package store
