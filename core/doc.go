// Package core defines the shared vocabulary of the taskmesh engine: tasks
// and their lifecycle state machine, conversation identity derivation, the
// role-based message/part content model, typed stream events and the coded
// error taxonomy. Higher layers (graph, tool, route, stream, engine) depend on
// core; core itself depends on nothing beyond the standard library and uuid.
package core
